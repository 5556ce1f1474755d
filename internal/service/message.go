package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/supersky/supersky/internal/chat"
	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/ratelimit"
	"github.com/supersky/supersky/internal/state"
	"github.com/supersky/supersky/pkg/logger"
)

// ErrInvalidArgument is returned for empty conversation ids or texts.
var ErrInvalidArgument = errors.New("invalid argument")

// Messenger sends replies and marks conversations read.
type Messenger struct {
	api      ChatAPI
	sessions *SessionManager
	repo     *state.Repository
	gate     *limiterGate
	log      *logger.Logger
	now      func() time.Time
}

// NewMessenger creates a messenger. Rate-limit answers from the service are
// fed to limiter so the sync engine backs off too.
func NewMessenger(api ChatAPI, sessions *SessionManager, repo *state.Repository, limiter *ratelimit.Limiter, log *logger.Logger) *Messenger {
	log = log.Named("messenger")
	return &Messenger{
		api:      api,
		sessions: sessions,
		repo:     repo,
		gate:     &limiterGate{limiter: limiter, repo: repo, log: log},
		log:      log,
		now:      time.Now,
	}
}

// Send delivers text to a conversation. When the primary endpoint fails the
// batch endpoint is tried once.
func (m *Messenger) Send(ctx context.Context, convoID, text string) (chat.MessageView, error) {
	if convoID == "" || text == "" {
		return chat.MessageView{}, fmt.Errorf("%w: convoId and text are required", ErrInvalidArgument)
	}
	sess, err := m.sessions.Ensure(ctx)
	if err != nil {
		return chat.MessageView{}, m.failed(ctx, err)
	}

	view, err := m.api.SendMessage(ctx, sess.AccessToken, convoID, text)
	if err == nil {
		m.log.Info("message sent", zap.String("convo_id", convoID), zap.String("message_id", view.ID))
		return view, nil
	}
	m.log.Warn("send failed, trying batch endpoint", zap.String("convo_id", convoID), zap.Error(err))

	view, fallbackErr := m.api.SendMessageBatch(ctx, sess.AccessToken, convoID, text)
	if fallbackErr != nil {
		return chat.MessageView{}, m.failed(ctx, fmt.Errorf("send message: %w", errors.Join(err, fallbackErr)))
	}
	m.log.Info("message sent via batch endpoint", zap.String("convo_id", convoID), zap.String("message_id", view.ID))
	return view, nil
}

// MarkRead marks a conversation read remotely, then zeroes it in the
// snapshot. It returns the unread count that was cleared locally.
func (m *Messenger) MarkRead(ctx context.Context, convoID string) (model.Conversation, int, error) {
	if convoID == "" {
		return model.Conversation{}, 0, fmt.Errorf("%w: convoId is required", ErrInvalidArgument)
	}
	sess, err := m.sessions.Ensure(ctx)
	if err != nil {
		return model.Conversation{}, 0, m.failed(ctx, err)
	}

	convo, err := m.api.UpdateRead(ctx, sess.AccessToken, convoID)
	if err != nil {
		return model.Conversation{}, 0, m.failed(ctx, fmt.Errorf("update read: %w", err))
	}

	cleared, err := m.repo.MarkRead(ctx, convoID)
	if err != nil {
		return convo, 0, fmt.Errorf("mark read locally: %w", err)
	}
	m.log.Info("conversation marked read", zap.String("convo_id", convoID), zap.Int("cleared", cleared))
	return convo, cleared, nil
}

// UserInfo returns the signed-in account id and handle.
func (m *Messenger) UserInfo(ctx context.Context) (string, string, error) {
	sess, err := m.sessions.Current(ctx)
	if err != nil {
		return "", "", err
	}
	return sess.AccountID, sess.Handle, nil
}

func (m *Messenger) failed(ctx context.Context, err error) error {
	if errors.Is(err, ErrNotLoggedIn) {
		return err
	}
	switch Classify(err) {
	case ratelimit.FailureRateLimit:
		m.gate.failure(ctx, m.now(), err)
	case ratelimit.FailureAuth:
		m.sessions.Invalidate(ctx)
	}
	return err
}
