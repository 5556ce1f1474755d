package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/supersky/supersky/internal/chat"
	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/ratelimit"
	"github.com/supersky/supersky/internal/state"
	"github.com/supersky/supersky/pkg/logger"
	"github.com/supersky/supersky/pkg/metrics"
	"github.com/supersky/supersky/pkg/tracing"
)

// Status is the result class of a sync cycle.
type Status string

const (
	StatusSynced  Status = "synced"
	StatusEmpty   Status = "empty"
	StatusSkipped Status = "skipped"
	StatusIdle    Status = "idle"
	StatusFailed  Status = "failed"
)

// Outcome describes one sync cycle. Sync never returns an error; failures
// are reported through Err.
type Outcome struct {
	Status   Status
	Forced   bool
	Snapshot model.UnreadSnapshot
	// Skipped lists conversations whose detail or messages failed to load.
	Skipped []string
	Denial  ratelimit.Decision
	Failure ratelimit.FailureKind
	Err     error
}

// OK reports whether the cycle ended without error.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// SyncOptions bound a sync cycle.
type SyncOptions struct {
	ListLimit    int
	MessageLimit int
	Now          func() time.Time
}

// SyncEngine fetches the unread conversations and replaces the snapshot.
type SyncEngine struct {
	api      ChatAPI
	sessions *SessionManager
	repo     *state.Repository
	gate     *limiterGate
	log      *logger.Logger
	tracer   trace.Tracer
	opts     SyncOptions
}

// NewSyncEngine creates a sync engine.
func NewSyncEngine(
	api ChatAPI,
	sessions *SessionManager,
	repo *state.Repository,
	limiter *ratelimit.Limiter,
	log *logger.Logger,
	opts SyncOptions,
) *SyncEngine {
	if opts.ListLimit <= 0 {
		opts.ListLimit = 100
	}
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log = log.Named("sync")
	return &SyncEngine{
		api:      api,
		sessions: sessions,
		repo:     repo,
		gate:     &limiterGate{limiter: limiter, repo: repo, log: log},
		log:      log,
		tracer:   tracing.Tracer("github.com/supersky/supersky/internal/service"),
		opts:     opts,
	}
}

// Sync runs one cycle. A forced cycle skips the minimum interval and local
// backoff but still honors a server-declared cool-down.
func (e *SyncEngine) Sync(ctx context.Context, force bool) Outcome {
	ctx, span := e.tracer.Start(ctx, "sync",
		trace.WithAttributes(attribute.Bool("sync.forced", force)))
	defer span.End()

	start := e.opts.Now()
	out := e.run(ctx, force)
	out.Forced = force

	var duration float64
	if out.Status != StatusSkipped && out.Status != StatusIdle {
		duration = e.opts.Now().Sub(start).Seconds()
	}
	metrics.RecordSync(string(out.Status), force, duration)

	span.SetAttributes(
		attribute.String("sync.status", string(out.Status)),
		attribute.Int("sync.unread", out.Snapshot.TotalUnreadCount),
	)
	if out.Err != nil && out.Status == StatusFailed {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}
	return out
}

func (e *SyncEngine) run(ctx context.Context, force bool) Outcome {
	now := e.opts.Now()

	if d := e.gate.allow(ctx, now, force); !d.Proceed {
		e.log.Debug("sync throttled",
			zap.String("reason", string(d.Reason)),
			zap.Time("retry_at", d.RetryAt),
			zap.Bool("forced", force),
		)
		return Outcome{
			Status: StatusSkipped,
			Denial: d,
			Err:    fmt.Errorf("%w: %s until %s", ErrCoolingDown, d.Reason, d.RetryAt.Format(time.RFC3339)),
		}
	}

	if _, err := e.sessions.Current(ctx); err != nil {
		e.clearSnapshot(ctx)
		if errors.Is(err, ErrNotLoggedIn) {
			return Outcome{Status: StatusIdle, Snapshot: model.NewSnapshot(nil, time.Time{}), Err: err}
		}
		return Outcome{Status: StatusFailed, Err: err}
	}

	sess, err := e.sessions.Ensure(ctx)
	if err != nil {
		return e.fail(ctx, now, "login", err)
	}

	convos, err := e.api.ListConversations(ctx, sess.AccessToken, e.opts.ListLimit)
	if err != nil && !chat.IsMalformed(err) {
		return e.fail(ctx, now, "list conversations", err)
	}
	if err != nil {
		e.log.Warn("malformed conversation list, treating as empty", zap.Error(err))
		convos = nil
	}

	views := make([]model.ConversationView, 0, len(convos))
	var skipped []string
	for _, convo := range convos {
		if !convo.CountsTowardUnread() {
			continue
		}
		view, err := e.fetchConversation(ctx, sess.AccessToken, convo, now)
		if err != nil {
			metrics.PartialFetchFailures.Inc()
			e.log.Warn("skipping conversation",
				zap.String("convo_id", convo.ID),
				zap.Error(err),
			)
			skipped = append(skipped, convo.ID)
			continue
		}
		views = append(views, view)
	}

	snap := model.NewSnapshot(views, now)
	if err := e.repo.ReplaceSnapshot(ctx, snap); err != nil {
		return e.fail(ctx, now, "persist snapshot", err)
	}
	e.gate.success(ctx)
	metrics.UnreadTotal.Set(float64(snap.TotalUnreadCount))

	status := StatusSynced
	if len(convos) == 0 {
		status = StatusEmpty
	}
	e.log.Info("sync complete",
		zap.String("status", string(status)),
		zap.Int("unread", snap.TotalUnreadCount),
		zap.Int("conversations", len(snap.Conversations)),
		zap.Int("skipped", len(skipped)),
		zap.Bool("forced", force),
	)
	return Outcome{Status: status, Snapshot: snap, Skipped: skipped}
}

func (e *SyncEngine) fetchConversation(ctx context.Context, token string, convo model.Conversation, now time.Time) (model.ConversationView, error) {
	detail, err := e.api.GetConversation(ctx, token, convo.ID)
	if err != nil {
		return model.ConversationView{}, fmt.Errorf("get conversation: %w", err)
	}
	msgs, err := e.api.GetMessages(ctx, token, convo.ID, e.opts.MessageLimit)
	if err != nil {
		return model.ConversationView{}, fmt.Errorf("get messages: %w", err)
	}
	if len(detail.Members) > 0 {
		convo.Members = detail.Members
	}
	if convo.Members == nil {
		convo.Members = []model.Participant{}
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	convo.LastCheckTime = now
	return model.ConversationView{Convo: convo, Messages: msgs}, nil
}

// fail clears the snapshot, feeds the limiter and, for authentication
// failures, drops the live session.
func (e *SyncEngine) fail(ctx context.Context, now time.Time, step string, err error) Outcome {
	kind := e.gate.failure(ctx, now, err)
	if kind == ratelimit.FailureAuth {
		e.sessions.Invalidate(ctx)
	}
	e.clearSnapshot(ctx)

	status := e.gate.limiter.Status()
	e.log.Warn("sync failed",
		zap.String("step", step),
		zap.String("kind", kind.String()),
		zap.Int("consecutive_errors", status.ConsecutiveErrors),
		zap.Duration("backoff", status.Backoff),
		zap.Error(err),
	)
	return Outcome{Status: StatusFailed, Failure: kind, Err: fmt.Errorf("%s: %w", step, err)}
}

func (e *SyncEngine) clearSnapshot(ctx context.Context) {
	if err := e.repo.ClearSnapshot(ctx); err != nil {
		e.log.Error("failed to clear snapshot", zap.Error(err))
	}
	metrics.UnreadTotal.Set(0)
}

// RateLimitStatus returns the limiter state.
func (e *SyncEngine) RateLimitStatus() model.RateLimitStatus {
	return e.gate.limiter.Status()
}
