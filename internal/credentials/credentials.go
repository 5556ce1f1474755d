// Package credentials persists the signed-in account.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/store"
)

const (
	KeySession  = "session"
	KeyLoggedIn = "loggedIn"
)

// Store is the Credential Store.
type Store struct {
	kv store.Store
}

// New wraps kv.
func New(kv store.Store) *Store {
	return &Store{kv: kv}
}

// Session returns the stored session and whether the user is marked logged
// in. A missing session yields the zero value.
func (s *Store) Session(ctx context.Context) (model.Session, bool, error) {
	var sess model.Session
	if err := store.GetJSON(ctx, s.kv, KeySession, &sess); err != nil && !errors.Is(err, store.ErrNotFound) {
		return model.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	var loggedIn bool
	if err := store.GetJSON(ctx, s.kv, KeyLoggedIn, &loggedIn); err != nil && !errors.Is(err, store.ErrNotFound) {
		return model.Session{}, false, fmt.Errorf("load loggedIn: %w", err)
	}
	return sess, loggedIn, nil
}

// Save replaces the stored session.
func (s *Store) Save(ctx context.Context, sess model.Session) error {
	if err := store.SetJSON(ctx, s.kv, KeySession, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Login stores a fresh handle and secret and marks the user logged in. Any
// live session of a previous account is dropped.
func (s *Store) Login(ctx context.Context, handle, secret string) error {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" || secret == "" {
		return fmt.Errorf("handle and secret are required")
	}
	if err := s.Save(ctx, model.Session{Handle: handle, Secret: secret}); err != nil {
		return err
	}
	return store.SetJSON(ctx, s.kv, KeyLoggedIn, true)
}

// Logout forgets the account entirely.
func (s *Store) Logout(ctx context.Context) error {
	return s.kv.Remove(ctx, KeySession, KeyLoggedIn)
}

// InvalidateLiveSession clears the tokens obtained from the remote service
// while keeping the handle and secret.
func (s *Store) InvalidateLiveSession(ctx context.Context) error {
	sess, _, err := s.Session(ctx)
	if err != nil {
		return err
	}
	if sess == (model.Session{}) {
		return nil
	}
	return s.Save(ctx, sess.WithoutLiveSession())
}
