package widget

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/protocol"
	"github.com/supersky/supersky/pkg/logger"
)

type fakeClient struct {
	mu       sync.Mutex
	convos   []model.ConversationView
	sendErr  error
	requests []protocol.Request
}

func (f *fakeClient) Call(_ context.Context, req protocol.Request, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	var resp any
	switch req.Type {
	case protocol.TypeUnreadConversations:
		resp = protocol.UnreadConversationsResponse{Conversations: f.convos}
	case protocol.TypeForceCheck, protocol.TypeSetBubblePosition, protocol.TypePageVisited:
		resp = protocol.StatusResponse{Success: true}
	case protocol.TypeGetUserInfo:
		resp = protocol.UserInfoResponse{AccountID: "did:plc:me", Handle: "me.test"}
	case protocol.TypeSendMessage:
		if f.sendErr != nil {
			return f.sendErr
		}
		resp = protocol.SendMessageResponse{Success: true}
	case protocol.TypeMarkConversationRead:
		resp = protocol.MarkReadResponse{Success: true}
	case protocol.TypeGetBubblePosition:
		resp = protocol.BubblePositionResponse{Position: &model.BubblePosition{X: 900, Y: 900}}
	default:
		return protocol.ErrNoResponse
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakeClient) count(t protocol.RequestType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Type == t {
			n++
		}
	}
	return n
}

func (f *fakeClient) setConvos(c ...model.ConversationView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convos = c
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestController(client *fakeClient) (*Controller, *clock) {
	clk := &clock{now: t0}
	return NewController(client, DefaultTimings(), logger.Nop(), WithClock(clk.Now)), clk
}

func TestControllerPollShowsBubbleAndChimes(t *testing.T) {
	client := &fakeClient{}
	client.setConvos(convo("a", 2))
	c, _ := newTestController(client)

	c.Poll(context.Background())

	v := c.View()
	assert.Equal(t, Alert, v.State)
	assert.Equal(t, 2, v.Unread)
	select {
	case <-c.Chimes():
	default:
		t.Fatal("expected a chime")
	}
}

func TestControllerSendSuspendsPolling(t *testing.T) {
	client := &fakeClient{}
	client.setConvos(convo("a", 2))
	c, clk := newTestController(client)
	ctx := context.Background()

	c.Poll(ctx)
	c.Click(ctx)
	require.Equal(t, Open, c.View().State)

	c.Submit(ctx, "hello")
	assert.Equal(t, 1, client.count(protocol.TypeSendMessage))
	assert.Equal(t, Open, c.View().State)
	assert.False(t, c.View().Lines[0].Pending)

	polls := client.count(protocol.TypeUnreadConversations)
	c.ForceCheck(ctx)
	assert.Equal(t, polls, client.count(protocol.TypeUnreadConversations), "suspended widget must not poll")

	clk.Advance(5 * time.Second)
	c.Poll(ctx)
	assert.Equal(t, polls+1, client.count(protocol.TypeUnreadConversations))
}

func TestControllerSendFailureMarksLine(t *testing.T) {
	client := &fakeClient{sendErr: errors.New("offline")}
	client.setConvos(convo("a", 1))
	c, _ := newTestController(client)
	ctx := context.Background()

	c.Poll(ctx)
	c.Click(ctx)
	c.Submit(ctx, "hello")

	v := c.View()
	assert.Equal(t, Open, v.State)
	require.NotEmpty(t, v.Lines)
	assert.True(t, v.Lines[0].Failed)
	assert.Equal(t, "offline", v.LastError)
}

func TestControllerCloseMarksReadAndSuppresses(t *testing.T) {
	client := &fakeClient{}
	client.setConvos(convo("a", 2), convo("b", 1))
	c, clk := newTestController(client)
	ctx := context.Background()

	c.Poll(ctx)
	c.Click(ctx)
	c.Close(ctx)

	assert.Equal(t, 1, client.count(protocol.TypeMarkConversationRead))
	v := c.View()
	assert.Equal(t, Idle, v.State)
	assert.Equal(t, 0, v.Unread)

	clk.Advance(11 * time.Second)
	c.Poll(ctx)
	v = c.View()
	assert.Equal(t, 1, v.Unread)
	for _, cv := range v.Conversations {
		assert.NotEqual(t, "a", cv.Convo.ID)
	}
}

func TestControllerMovePersistsClampedPosition(t *testing.T) {
	client := &fakeClient{}
	c, _ := newTestController(client)
	ctx := context.Background()

	c.Resize(Viewport{Width: 80, Height: 24, Bubble: 3})
	c.Move(ctx, model.BubblePosition{X: 200, Y: 2})

	assert.Equal(t, model.BubblePosition{X: 77, Y: 2}, c.View().Position)
	client.mu.Lock()
	defer client.mu.Unlock()
	last := client.requests[len(client.requests)-1]
	assert.Equal(t, protocol.TypeSetBubblePosition, last.Type)
	require.NotNil(t, last.Position)
	assert.Equal(t, 77, last.Position.X)
}

func TestControllerRunStartupChecks(t *testing.T) {
	client := &fakeClient{}
	timings := DefaultTimings()
	timings.StartupChecks = []time.Duration{0, 10 * time.Millisecond}
	c := NewController(client, timings, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return client.count(protocol.TypeForceCheck) >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, client.count(protocol.TypeGetBubblePosition))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
