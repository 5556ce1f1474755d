package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/supersky/supersky/internal/chat"
	"github.com/supersky/supersky/internal/credentials"
	"github.com/supersky/supersky/internal/middleware"
	natsclient "github.com/supersky/supersky/internal/nats"
	"github.com/supersky/supersky/internal/protocol"
	"github.com/supersky/supersky/internal/ratelimit"
	"github.com/supersky/supersky/internal/scheduler"
	"github.com/supersky/supersky/internal/service"
	"github.com/supersky/supersky/internal/state"
	"github.com/supersky/supersky/internal/store"
)

// components is the background process: persisted state, the sync engine
// and the router in front of it.
type components struct {
	store     store.Store
	nats      *natsclient.Client
	repo      *state.Repository
	creds     *credentials.Store
	limiter   *ratelimit.Limiter
	chat      *chat.Client
	sessions  *service.SessionManager
	engine    *service.SyncEngine
	messenger *service.Messenger
	scheduler *scheduler.Scheduler
	router    *protocol.Router
	validator *middleware.EnvelopeValidator
}

func (c *components) Close() {
	if c.store != nil {
		_ = c.store.Close()
	}
	if c.nats != nil {
		c.nats.Close()
	}
}

func (a *app) connectNATS(ctx context.Context) (*natsclient.Client, error) {
	return natsclient.Connect(ctx, natsclient.Config{
		URL:      a.cfg.NATSURL,
		CAFile:   a.cfg.NATSCAFile,
		CertFile: a.cfg.NATSCertFile,
		KeyFile:  a.cfg.NATSKeyFile,
		Token:    a.cfg.NATSToken,
	}, a.log)
}

// openState opens the store and the repositories over it.
func (a *app) openState(ctx context.Context) (*components, error) {
	c := &components{}

	if a.cfg.NATSEnabled {
		nc, err := a.connectNATS(ctx)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		c.nats = nc
		if err := natsclient.RegisterStoreBackend(nc); err != nil {
			c.Close()
			return nil, err
		}
	}

	kv, err := store.BuildFromDSN(a.cfg.StoreDSN)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	c.store = kv
	c.repo = state.New(kv)
	c.creds = credentials.New(kv)
	return c, nil
}

// wire builds the whole background process on top of openState.
func (a *app) wire(ctx context.Context) (*components, error) {
	c, err := a.openState(ctx)
	if err != nil {
		return nil, err
	}

	status, err := c.repo.RateLimitStatus(ctx)
	if err != nil {
		a.log.Warn("failed to load rate limit status, starting fresh", zap.Error(err))
	}
	c.limiter = ratelimit.New(ratelimit.Config{
		MinInterval: a.cfg.SyncMinInterval,
		BaseBackoff: a.cfg.SyncBaseBackoff,
		MaxBackoff:  a.cfg.SyncMaxBackoff,
	}, status)

	c.chat = chat.NewClient(a.cfg.ChatServiceURL, a.cfg.ChatProxy, a.httpClient, a.log)
	c.sessions = service.NewSessionManager(c.chat, c.creds, a.log, a.now)
	c.engine = service.NewSyncEngine(c.chat, c.sessions, c.repo, c.limiter, a.log, service.SyncOptions{
		ListLimit:    a.cfg.SyncListLimit,
		MessageLimit: a.cfg.SyncMessageLimit,
		Now:          a.now,
	})
	c.messenger = service.NewMessenger(c.chat, c.sessions, c.repo, c.limiter, a.log)
	c.scheduler = scheduler.New(c.engine, c.repo, a.cfg.SyncInterval, a.log)
	c.router = protocol.NewRouter(c.repo, c.messenger, c.scheduler, a.log)

	c.validator, err = middleware.NewEnvelopeValidator()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("compile request schema: %w", err)
	}
	return c, nil
}
