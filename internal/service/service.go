// Package service holds the business logic of the background process: the
// sync engine that keeps the unread snapshot current, and the messenger that
// sends replies and marks conversations read.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/supersky/supersky/internal/chat"
	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/ratelimit"
	"github.com/supersky/supersky/internal/state"
	"github.com/supersky/supersky/pkg/logger"
	"github.com/supersky/supersky/pkg/metrics"
)

var (
	// ErrNotLoggedIn is reported when no account is signed in.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrCoolingDown is reported when the rate limiter refuses a call.
	ErrCoolingDown = errors.New("rate limiter cooling down")
)

// ChatAPI is the subset of the remote chat service the services use.
type ChatAPI interface {
	CreateSession(ctx context.Context, identifier, password string) (chat.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (chat.Session, error)
	ListConversations(ctx context.Context, token string, limit int) ([]model.Conversation, error)
	GetConversation(ctx context.Context, token, convoID string) (model.Conversation, error)
	GetMessages(ctx context.Context, token, convoID string, limit int) ([]model.Message, error)
	SendMessage(ctx context.Context, token, convoID, text string) (chat.MessageView, error)
	SendMessageBatch(ctx context.Context, token, convoID, text string) (chat.MessageView, error)
	UpdateRead(ctx context.Context, token, convoID string) (model.Conversation, error)
}

var _ ChatAPI = (*chat.Client)(nil)

// Classify maps a remote error onto the limiter's failure kinds.
func Classify(err error) ratelimit.FailureKind {
	switch {
	case chat.IsAuth(err):
		return ratelimit.FailureAuth
	case chat.IsRateLimit(err):
		return ratelimit.FailureRateLimit
	default:
		return ratelimit.FailureTransport
	}
}

// limiterGate couples the limiter with its persisted status.
type limiterGate struct {
	limiter *ratelimit.Limiter
	repo    *state.Repository
	log     *logger.Logger
}

func (g *limiterGate) allow(ctx context.Context, now time.Time, force bool) ratelimit.Decision {
	var d ratelimit.Decision
	if force {
		d = g.limiter.AllowForced(now)
	} else {
		d = g.limiter.Allow(now)
	}
	if d.Proceed {
		g.persist(ctx)
	}
	return d
}

func (g *limiterGate) success(ctx context.Context) {
	g.limiter.OnSuccess()
	g.persist(ctx)
}

func (g *limiterGate) failure(ctx context.Context, now time.Time, err error) ratelimit.FailureKind {
	kind := Classify(err)
	g.limiter.OnFailure(now, kind, chat.ResetTime(err))
	g.persist(ctx)
	return kind
}

func (g *limiterGate) persist(ctx context.Context) {
	status := g.limiter.Status()
	metrics.RecordRateLimit(status.IsRateLimited, status.Backoff.Seconds())
	if err := g.repo.SaveRateLimitStatus(ctx, status); err != nil {
		g.log.Warn("failed to persist rate limit status", zap.Error(err))
	}
}
