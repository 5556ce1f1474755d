package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/supersky/supersky/internal/chat"
	"github.com/supersky/supersky/internal/credentials"
	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/pkg/logger"
)

// refreshSkew is how close to expiry an access token may get before it is
// refreshed.
const refreshSkew = 2 * time.Minute

// SessionManager establishes and caches the remote session.
type SessionManager struct {
	api   ChatAPI
	creds *credentials.Store
	log   *logger.Logger
	now   func() time.Time
}

// NewSessionManager creates a session manager.
func NewSessionManager(api ChatAPI, creds *credentials.Store, log *logger.Logger, now func() time.Time) *SessionManager {
	if now == nil {
		now = time.Now
	}
	return &SessionManager{api: api, creds: creds, log: log.Named("session"), now: now}
}

// Current returns the stored session without contacting the service. It
// fails with ErrNotLoggedIn when no account is signed in.
func (m *SessionManager) Current(ctx context.Context) (model.Session, error) {
	sess, loggedIn, err := m.creds.Session(ctx)
	if err != nil {
		return model.Session{}, err
	}
	if !loggedIn || !sess.HasCredentials() {
		return model.Session{}, ErrNotLoggedIn
	}
	return sess, nil
}

// Ensure returns a session with a usable access token: the cached one while
// it is not about to expire, else a refreshed one, else a new login.
func (m *SessionManager) Ensure(ctx context.Context) (model.Session, error) {
	sess, err := m.Current(ctx)
	if err != nil {
		return model.Session{}, err
	}

	if sess.Live() && m.fresh(sess.AccessToken) {
		return sess, nil
	}

	if sess.RefreshToken != "" {
		refreshed, err := m.api.RefreshSession(ctx, sess.RefreshToken)
		if err == nil {
			return m.store(ctx, sess, refreshed)
		}
		if chat.IsRateLimit(err) {
			return model.Session{}, err
		}
		m.log.Info("session refresh failed, logging in again", zap.Error(err))
	}

	created, err := m.api.CreateSession(ctx, sess.Handle, sess.Secret)
	if err != nil {
		return model.Session{}, fmt.Errorf("create session: %w", err)
	}
	return m.store(ctx, sess, created)
}

// Invalidate drops the tokens of the live session.
func (m *SessionManager) Invalidate(ctx context.Context) {
	if err := m.creds.InvalidateLiveSession(ctx); err != nil {
		m.log.Warn("failed to invalidate session", zap.Error(err))
	}
}

func (m *SessionManager) fresh(token string) bool {
	exp, ok := chat.TokenExpiry(token)
	if !ok {
		return true
	}
	return m.now().Add(refreshSkew).Before(exp)
}

func (m *SessionManager) store(ctx context.Context, sess model.Session, remote chat.Session) (model.Session, error) {
	sess.AccessToken = remote.AccessJwt
	if remote.RefreshJwt != "" {
		sess.RefreshToken = remote.RefreshJwt
	}
	if remote.DID != "" {
		sess.AccountID = remote.DID
	}
	if remote.Handle != "" {
		sess.Handle = remote.Handle
	}
	if err := m.creds.Save(ctx, sess); err != nil {
		return model.Session{}, err
	}
	return sess, nil
}
