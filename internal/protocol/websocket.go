package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Frame is the WebSocket envelope. Clients send {id, request}; the server
// answers {id, response} or {id, noResponse} or {id, error}.
type Frame struct {
	ID         string          `json:"id"`
	Request    *Request        `json:"request,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	NoResponse bool            `json:"noResponse,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// ErrClosed is returned for calls on a closed socket client.
var ErrClosed = errors.New("protocol socket closed")

// SocketClient multiplexes calls over one WebSocket connection.
type SocketClient struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan Frame
	closed  bool
	err     error
	done    chan struct{}
}

// DialSocket connects to the router's WebSocket endpoint. baseURL may use
// the http(s) or ws(s) scheme.
func DialSocket(ctx context.Context, baseURL, token string) (*SocketClient, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/api/v1/socket"
	endpoint = strings.Replace(endpoint, "http://", "ws://", 1)
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)

	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.Dial(ctx, endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c := &SocketClient{
		conn:    conn,
		pending: map[string]chan Frame{},
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *SocketClient) readLoop() {
	defer close(c.done)
	ctx := context.Background()
	for {
		var frame Frame
		if err := wsjson.Read(ctx, c.conn, &frame); err != nil {
			c.shutdown(err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[frame.ID]
		delete(c.pending, frame.ID)
		c.mu.Unlock()
		if ok {
			ch <- frame
		}
	}
}

func (c *SocketClient) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *SocketClient) Call(ctx context.Context, req Request, out any) error {
	id := uuid.NewString()
	ch := make(chan Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := wsjson.Write(ctx, c.conn, Frame{ID: id, Request: &req}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case frame, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		switch {
		case frame.Error != "":
			return errors.New(frame.Error)
		case frame.NoResponse:
			return ErrNoResponse
		}
		if out == nil || len(frame.Response) == 0 {
			return nil
		}
		return json.Unmarshal(frame.Response, out)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Close closes the connection and fails pending calls.
func (c *SocketClient) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.shutdown(ErrClosed)
	<-c.done
	return err
}

var _ Client = (*SocketClient)(nil)
