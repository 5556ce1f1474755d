package protocol

import (
	"context"
	"sync"
)

// Future is the pending response to a request. It resolves exactly once.
type Future struct {
	async bool
	done  chan struct{}
	once  sync.Once
	resp  any
}

func newFuture(async bool) *Future {
	return &Future{async: async, done: make(chan struct{})}
}

func resolved(resp any) *Future {
	f := newFuture(false)
	f.resolve(resp)
	return f
}

func (f *Future) resolve(resp any) {
	f.once.Do(func() {
		f.resp = resp
		close(f.done)
	})
}

// Async reports whether the response is produced after the dispatch call
// returned. Transports that distinguish the two cases use it to keep their
// reply channel open.
func (f *Future) Async() bool {
	return f.async
}

// Done is closed once the response is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the response is available or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
