package protocol

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/supersky/supersky/internal/chat"
	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/service"
	"github.com/supersky/supersky/pkg/logger"
	"github.com/supersky/supersky/pkg/metrics"
	"github.com/supersky/supersky/pkg/tracing"
)

// State is the persisted state the router reads and updates.
type State interface {
	Snapshot(ctx context.Context) (model.UnreadSnapshot, error)
	IncrementStats(ctx context.Context, pages, actions int) (model.Stats, error)
	BubblePosition(ctx context.Context) (model.BubblePosition, bool, error)
	SetBubblePosition(ctx context.Context, pos model.BubblePosition) error
}

// Messenger performs the user's remote actions.
type Messenger interface {
	Send(ctx context.Context, convoID, text string) (chat.MessageView, error)
	MarkRead(ctx context.Context, convoID string) (model.Conversation, int, error)
	UserInfo(ctx context.Context) (accountID, handle string, err error)
}

// Refresher runs sync cycles on demand.
type Refresher interface {
	CheckNow(ctx context.Context) service.Outcome
	TriggerNow()
}

// Router dispatches requests to their handlers.
type Router struct {
	state     State
	messenger Messenger
	refresher Refresher
	log       *logger.Logger
	tracer    trace.Tracer
}

// NewRouter creates a router.
func NewRouter(state State, messenger Messenger, refresher Refresher, log *logger.Logger) *Router {
	return &Router{
		state:     state,
		messenger: messenger,
		refresher: refresher,
		log:       log.Named("router"),
		tracer:    tracing.Tracer("github.com/supersky/supersky/internal/protocol"),
	}
}

type handlerFunc func(ctx context.Context, req Request) any

// Dispatch routes req. ok is false for unrecognized types, which get no
// response at all. Requests failing validation resolve synchronously;
// everything that touches the store or the remote service resolves from a
// goroutine that outlives ctx's cancellation.
func (r *Router) Dispatch(ctx context.Context, req Request) (*Future, bool) {
	handle := r.handler(req.Type)
	if handle == nil {
		metrics.RouterRequestsTotal.WithLabelValues("unknown", "ignored").Inc()
		r.log.Debug("ignoring unrecognized request", zap.String("type", string(req.Type)))
		return nil, false
	}

	if msg, err := req.Validate(); err != nil {
		metrics.RouterRequestsTotal.WithLabelValues(string(req.Type), "invalid").Inc()
		return resolved(invalidResponse(req.Type, msg)), true
	}

	log := r.log.ForRequest(uuid.NewString(), string(req.Type), req.ConvoID)
	f := newFuture(true)
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, span := r.tracer.Start(ctx, "router."+strings.ToLower(string(req.Type)),
			trace.WithAttributes(attribute.String("request.type", string(req.Type))))
		defer span.End()

		start := time.Now()
		resp := handle(ctx, req)
		outcome := "ok"
		if failed(resp) {
			outcome = "error"
		}
		metrics.RouterRequestsTotal.WithLabelValues(string(req.Type), outcome).Inc()
		log.Debug("request handled", zap.String("outcome", outcome), zap.Duration("duration", time.Since(start)))
		f.resolve(resp)
	}()
	return f, true
}

func (r *Router) handler(t RequestType) handlerFunc {
	switch t {
	case TypeUnreadCount:
		return r.unreadCount
	case TypeUnreadConversations:
		return r.unreadConversations
	case TypeForceCheck:
		return r.forceCheck
	case TypeSendMessage:
		return r.sendMessage
	case TypeMarkConversationRead:
		return r.markRead
	case TypeGetUserInfo:
		return r.userInfo
	case TypeActionPerformed:
		return r.actionPerformed
	case TypePageVisited:
		return r.pageVisited
	case TypeGetBubblePosition:
		return r.getBubblePosition
	case TypeSetBubblePosition:
		return r.setBubblePosition
	}
	return nil
}

func invalidResponse(t RequestType, msg string) any {
	switch t {
	case TypeSendMessage:
		return SendMessageResponse{Success: false, Error: msg}
	case TypeMarkConversationRead:
		return MarkReadResponse{Success: false, Error: msg}
	default:
		return StatusResponse{Success: false, Error: msg}
	}
}

func failed(resp any) bool {
	switch v := resp.(type) {
	case StatusResponse:
		return !v.Success
	case SendMessageResponse:
		return !v.Success
	case MarkReadResponse:
		return !v.Success
	}
	return false
}

func (r *Router) unreadCount(ctx context.Context, _ Request) any {
	snap, err := r.state.Snapshot(ctx)
	if err != nil {
		r.log.Warn("failed to read snapshot", zap.Error(err))
		return UnreadCountResponse{}
	}
	return UnreadCountResponse{UnreadCount: snap.TotalUnreadCount}
}

func (r *Router) unreadConversations(ctx context.Context, _ Request) any {
	snap, err := r.state.Snapshot(ctx)
	if err != nil {
		r.log.Warn("failed to read snapshot", zap.Error(err))
		return UnreadConversationsResponse{Conversations: []model.ConversationView{}}
	}
	resp := UnreadConversationsResponse{Conversations: snap.Conversations}
	if resp.Conversations == nil {
		resp.Conversations = []model.ConversationView{}
	}
	if !snap.LastCheckTime.IsZero() {
		t := snap.LastCheckTime
		resp.LastCheckTime = &t
	}
	return resp
}

func (r *Router) forceCheck(ctx context.Context, _ Request) any {
	out := r.refresher.CheckNow(ctx)
	if out.Err != nil {
		return StatusResponse{Success: false, Error: out.Err.Error()}
	}
	return StatusResponse{Success: true}
}

func (r *Router) sendMessage(ctx context.Context, req Request) any {
	view, err := r.messenger.Send(ctx, req.ConvoID, req.Text)
	if err != nil {
		r.log.Warn("send failed", zap.String("convo_id", req.ConvoID), zap.Error(err))
		return SendMessageResponse{Success: false, Error: err.Error(), Message: "Failed to send message"}
	}
	r.refresher.TriggerNow()
	return SendMessageResponse{Success: true, Response: &view, Message: "Message sent"}
}

func (r *Router) markRead(ctx context.Context, req Request) any {
	convo, cleared, err := r.messenger.MarkRead(ctx, req.ConvoID)
	if err != nil {
		r.log.Warn("mark read failed", zap.String("convo_id", req.ConvoID), zap.Error(err))
		return MarkReadResponse{Success: false, Error: err.Error()}
	}
	return MarkReadResponse{Success: true, Result: &convo, Cleared: cleared}
}

func (r *Router) userInfo(ctx context.Context, _ Request) any {
	accountID, handle, err := r.messenger.UserInfo(ctx)
	if err != nil && !errors.Is(err, service.ErrNotLoggedIn) {
		r.log.Warn("failed to read user info", zap.Error(err))
	}
	return UserInfoResponse{AccountID: accountID, Handle: handle}
}

func (r *Router) actionPerformed(ctx context.Context, _ Request) any {
	if _, err := r.state.IncrementStats(ctx, 0, 1); err != nil {
		return StatusResponse{Success: false, Error: err.Error()}
	}
	return StatusResponse{Success: true}
}

// pageVisited counts page loads of a signed-in user, ignoring the
// browser's internal pages.
func (r *Router) pageVisited(ctx context.Context, req Request) any {
	if isInternalPage(req.URL) {
		return StatusResponse{Success: true}
	}
	if _, _, err := r.messenger.UserInfo(ctx); err != nil {
		return StatusResponse{Success: true}
	}
	if _, err := r.state.IncrementStats(ctx, 1, 0); err != nil {
		return StatusResponse{Success: false, Error: err.Error()}
	}
	return StatusResponse{Success: true}
}

func isInternalPage(url string) bool {
	url = strings.TrimSpace(url)
	for _, prefix := range []string{"chrome://", "chrome-extension://", "about:", "edge://"} {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return url == ""
}

func (r *Router) getBubblePosition(ctx context.Context, _ Request) any {
	pos, ok, err := r.state.BubblePosition(ctx)
	if err != nil || !ok {
		return BubblePositionResponse{}
	}
	return BubblePositionResponse{Position: &pos}
}

func (r *Router) setBubblePosition(ctx context.Context, req Request) any {
	if err := r.state.SetBubblePosition(ctx, *req.Position); err != nil {
		return StatusResponse{Success: false, Error: err.Error()}
	}
	return StatusResponse{Success: true}
}
