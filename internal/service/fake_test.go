package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/supersky/supersky/internal/chat"
	"github.com/supersky/supersky/internal/credentials"
	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/ratelimit"
	"github.com/supersky/supersky/internal/state"
	"github.com/supersky/supersky/internal/store"
	"github.com/supersky/supersky/pkg/logger"
)

type fakeChat struct {
	mu sync.Mutex

	createErr  error
	refreshErr error
	access     string
	listFn     func(call int) ([]model.Conversation, error)
	detailErr  map[string]error
	messages   map[string][]model.Message
	sendErr    error
	batchErr   error
	updateErr  error

	calls map[string]int
}

func newFakeChat(convos ...model.Conversation) *fakeChat {
	return &fakeChat{
		access:    "access-1",
		listFn:    func(int) ([]model.Conversation, error) { return convos, nil },
		detailErr: map[string]error{},
		messages:  map[string][]model.Message{},
		calls:     map[string]int{},
	}
}

func (f *fakeChat) record(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.calls[name]
}

func (f *fakeChat) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeChat) remoteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeChat) CreateSession(_ context.Context, identifier, _ string) (chat.Session, error) {
	f.record("createSession")
	if f.createErr != nil {
		return chat.Session{}, f.createErr
	}
	return chat.Session{AccessJwt: f.access, RefreshJwt: "refresh-1", Handle: identifier, DID: "did:plc:" + identifier}, nil
}

func (f *fakeChat) RefreshSession(_ context.Context, _ string) (chat.Session, error) {
	f.record("refreshSession")
	if f.refreshErr != nil {
		return chat.Session{}, f.refreshErr
	}
	return chat.Session{AccessJwt: "access-refreshed", RefreshJwt: "refresh-2"}, nil
}

func (f *fakeChat) ListConversations(_ context.Context, _ string, _ int) ([]model.Conversation, error) {
	n := f.record("listConvos")
	return f.listFn(n)
}

func (f *fakeChat) GetConversation(_ context.Context, _ string, id string) (model.Conversation, error) {
	f.record("getConvo")
	if err := f.detailErr[id]; err != nil {
		return model.Conversation{}, err
	}
	return model.Conversation{ID: id, Members: []model.Participant{{DID: "did:plc:" + id, Handle: id + ".test"}}}, nil
}

func (f *fakeChat) GetMessages(_ context.Context, _ string, id string, _ int) ([]model.Message, error) {
	f.record("getMessages")
	return f.messages[id], nil
}

func (f *fakeChat) SendMessage(_ context.Context, _ string, _ string, text string) (chat.MessageView, error) {
	f.record("sendMessage")
	if f.sendErr != nil {
		return chat.MessageView{}, f.sendErr
	}
	return chat.MessageView{ID: "m-primary", Text: text}, nil
}

func (f *fakeChat) SendMessageBatch(_ context.Context, _ string, _ string, text string) (chat.MessageView, error) {
	f.record("sendMessageBatch")
	if f.batchErr != nil {
		return chat.MessageView{}, f.batchErr
	}
	return chat.MessageView{ID: "m-batch", Text: text}, nil
}

func (f *fakeChat) UpdateRead(_ context.Context, _ string, id string) (model.Conversation, error) {
	f.record("updateRead")
	if f.updateErr != nil {
		return model.Conversation{}, f.updateErr
	}
	return model.Conversation{ID: id}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	api       *fakeChat
	clock     *fakeClock
	creds     *credentials.Store
	repo      *state.Repository
	limiter   *ratelimit.Limiter
	sessions  *SessionManager
	engine    *SyncEngine
	messenger *Messenger
}

func newHarness(t *testing.T, api *fakeChat, loggedIn bool) *harness {
	t.Helper()
	kv := store.NewMemory()
	clock := newFakeClock()
	log := logger.Nop()

	h := &harness{
		api:     api,
		clock:   clock,
		creds:   credentials.New(kv),
		repo:    state.New(kv),
		limiter: ratelimit.New(ratelimit.Config{}, model.RateLimitStatus{}, ratelimit.WithRand(func() float64 { return 0 })),
	}
	if loggedIn {
		require.NoError(t, h.creds.Login(context.Background(), "alice", "pw"))
	}
	h.sessions = NewSessionManager(api, h.creds, log, clock.Now)
	h.engine = NewSyncEngine(api, h.sessions, h.repo, h.limiter, log, SyncOptions{Now: clock.Now})
	h.messenger = NewMessenger(api, h.sessions, h.repo, h.limiter, log)
	h.messenger.now = clock.Now
	return h
}
