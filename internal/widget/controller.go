package widget

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/protocol"
	"github.com/supersky/supersky/pkg/logger"
	"github.com/supersky/supersky/pkg/metrics"
)

// Controller drives a Machine from timers and user input, talking to the
// background process through a protocol client.
type Controller struct {
	client  protocol.Client
	timings Timings
	log     *logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	machine  *Machine
	viewport Viewport

	updates chan struct{}
	chimes  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller.
func NewController(client protocol.Client, timings Timings, log *logger.Logger, opts ...Option) *Controller {
	timings = timings.withDefaults()
	c := &Controller{
		client:  client,
		timings: timings,
		log:     log.Named("widget"),
		now:     time.Now,
		machine: NewMachine(timings),
		updates: make(chan struct{}, 1),
		chimes:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Updates signals that View may have changed.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// Chimes signals that the unread count rose from zero.
func (c *Controller) Chimes() <-chan struct{} {
	return c.chimes
}

// View returns the current renderable state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.View()
}

func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// mutate runs fn under the lock and publishes the result.
func (c *Controller) mutate(fn func(m *Machine)) {
	c.mu.Lock()
	fn(c.machine)
	chime := c.machine.TakeChime()
	c.mu.Unlock()

	if chime {
		select {
		case c.chimes <- struct{}{}:
		default:
		}
	}
	c.notify()
}

// Run polls until ctx is done: start-up forced checks, a short poll
// interval and a slower forced refresh.
func (c *Controller) Run(ctx context.Context) error {
	c.restorePosition(ctx)

	for _, d := range c.timings.StartupChecks {
		c.after(ctx, d, func() { c.ForceCheck(ctx) })
	}

	poll := time.NewTicker(c.timings.PollInterval)
	defer poll.Stop()
	force := time.NewTicker(c.timings.ForceInterval)
	defer force.Stop()

	c.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return nil
		case <-poll.C:
			c.mutate(func(m *Machine) { m.Tick(c.now()) })
			c.Poll(ctx)
		case <-force.C:
			c.ForceCheck(ctx)
		}
	}
}

func (c *Controller) after(ctx context.Context, d time.Duration, fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			fn()
		}
	}()
}

// Poll fetches the snapshot and reconciles it, unless polling is currently
// not allowed.
func (c *Controller) Poll(ctx context.Context) {
	c.mu.Lock()
	allowed := c.machine.ShouldPoll(c.now())
	c.mu.Unlock()
	if !allowed {
		metrics.WidgetPollsTotal.WithLabelValues("skipped").Inc()
		return
	}

	var resp protocol.UnreadConversationsResponse
	if err := c.client.Call(ctx, protocol.Request{Type: protocol.TypeUnreadConversations}, &resp); err != nil {
		metrics.WidgetPollsTotal.WithLabelValues("error").Inc()
		if !errors.Is(err, context.Canceled) {
			c.log.Warn("poll failed", zap.Error(err))
		}
		return
	}

	applied := false
	c.mutate(func(m *Machine) { applied = m.ApplyPoll(c.now(), resp.Conversations) })
	if applied {
		metrics.WidgetPollsTotal.WithLabelValues("applied").Inc()
	} else {
		metrics.WidgetPollsTotal.WithLabelValues("discarded").Inc()
	}
}

// ForceCheck asks the background process for a forced sync, then polls
// with a refresh requested.
func (c *Controller) ForceCheck(ctx context.Context) {
	var resp protocol.StatusResponse
	if err := c.client.Call(ctx, protocol.Request{Type: protocol.TypeForceCheck}, &resp); err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.Warn("forced check failed", zap.Error(err))
		}
		return
	}
	if !resp.Success {
		c.log.Debug("forced check did not sync", zap.String("error", resp.Error))
	}
	c.mutate(func(m *Machine) { m.RequestRefresh() })
	c.Poll(ctx)
}

// VisibilityChanged reports the host regaining or losing visibility. On
// regaining it a forced check runs after a short delay.
func (c *Controller) VisibilityChanged(ctx context.Context, visible bool) {
	if !visible {
		return
	}
	c.after(ctx, c.timings.VisibilityDelay, func() { c.ForceCheck(ctx) })
}

// Click opens the first pending conversation.
func (c *Controller) Click(ctx context.Context) {
	c.mu.Lock()
	view, ok := c.machine.Candidate()
	state := c.machine.State()
	c.mu.Unlock()
	if !ok || (state != Alert && state != Open) {
		return
	}

	var info protocol.UserInfoResponse
	if err := c.client.Call(ctx, protocol.Request{Type: protocol.TypeGetUserInfo}, &info); err != nil {
		c.log.Warn("failed to load user info", zap.Error(err))
		c.mutate(func(m *Machine) { m.SetError("Error loading messages") })
		return
	}
	c.mutate(func(m *Machine) { m.OpenConversation(view, info.AccountID) })
}

// Submit sends text to the open conversation. It returns once the send
// resolves.
func (c *Controller) Submit(ctx context.Context, text string) {
	var convoID, localID string
	ok := false
	c.mutate(func(m *Machine) { convoID, localID, ok = m.Submit(c.now(), text) })
	if !ok {
		return
	}

	var resp protocol.SendMessageResponse
	err := c.client.Call(ctx, protocol.Request{Type: protocol.TypeSendMessage, ConvoID: convoID, Text: text}, &resp)
	switch {
	case err != nil:
		c.log.Warn("send failed", zap.String("convo_id", convoID), zap.Error(err))
		c.mutate(func(m *Machine) { m.SendResolved(localID, false, err.Error()) })
	case !resp.Success:
		c.mutate(func(m *Machine) { m.SendResolved(localID, false, resp.Error) })
	default:
		c.mutate(func(m *Machine) { m.SendResolved(localID, true, "") })
	}
}

// Close dismisses the open conversation and marks it read.
func (c *Controller) Close(ctx context.Context) {
	var id string
	ok := false
	c.mutate(func(m *Machine) { id, ok = m.Close(c.now()) })
	if !ok {
		return
	}

	var resp protocol.MarkReadResponse
	if err := c.client.Call(ctx, protocol.Request{Type: protocol.TypeMarkConversationRead, ConvoID: id}, &resp); err != nil {
		c.log.Warn("mark read failed", zap.String("convo_id", id), zap.Error(err))
		return
	}
	if !resp.Success {
		c.log.Warn("mark read rejected", zap.String("convo_id", id), zap.String("error", resp.Error))
	}
}

// ToggleHidden flips the visibility override.
func (c *Controller) ToggleHidden() {
	c.mutate(func(m *Machine) { m.ToggleHidden() })
}

// Resize records the viewport and re-clamps the bubble into it.
func (c *Controller) Resize(vp Viewport) {
	c.mutate(func(m *Machine) {
		c.viewport = vp
		m.SetPosition(m.View().Position, vp)
	})
}

// Move places the bubble and persists its position.
func (c *Controller) Move(ctx context.Context, pos model.BubblePosition) {
	var clamped model.BubblePosition
	c.mutate(func(m *Machine) { clamped = m.SetPosition(pos, c.viewport) })

	var resp protocol.StatusResponse
	if err := c.client.Call(ctx, protocol.Request{Type: protocol.TypeSetBubblePosition, Position: &clamped}, &resp); err != nil {
		c.log.Debug("failed to save bubble position", zap.Error(err))
	}
}

func (c *Controller) restorePosition(ctx context.Context) {
	var resp protocol.BubblePositionResponse
	if err := c.client.Call(ctx, protocol.Request{Type: protocol.TypeGetBubblePosition}, &resp); err != nil {
		c.log.Debug("failed to load bubble position", zap.Error(err))
		return
	}
	if resp.Position == nil {
		return
	}
	c.mutate(func(m *Machine) { m.SetPosition(*resp.Position, c.viewport) })
}
