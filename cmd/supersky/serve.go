package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/supersky/supersky/internal/handler"
	natsclient "github.com/supersky/supersky/internal/nats"
	"github.com/supersky/supersky/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background sync daemon",
		Long:  "serve runs the periodic unread sync and exposes the widget protocol over HTTP, WebSocket and, when enabled, NATS.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	log := a.log
	defer func() { _ = log.Sync() }()

	log.Info("starting sync daemon", zap.String("version", version))

	if a.cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "supersky", a.cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
		}
	}

	c, err := a.wire(ctx)
	if err != nil {
		log.Error("failed to start", zap.Error(err))
		return err
	}
	defer c.Close()

	first, err := c.repo.EnsureInstalled(ctx, a.now())
	if err != nil {
		log.Warn("failed to record install", zap.Error(err))
	} else if first {
		log.Info("initialized fresh install")
	}

	cfg := handler.RouterConfig{
		Router:            c.router,
		Store:             c.store,
		Validator:         c.validator,
		JWTSecret:         a.cfg.JWTSecret,
		RateLimitRequests: a.cfg.RateLimitRequests,
		RateLimitWindow:   a.cfg.RateLimitWindow,
		Logger:            log,
	}
	if c.nats != nil {
		cfg.NATS = c.nats
	}

	server := &http.Server{
		Addr:         ":" + a.cfg.ServerPort,
		Handler:      handler.NewRouter(cfg),
		ReadTimeout:  a.cfg.ServerReadTimeout,
		WriteTimeout: a.cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.scheduler.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	if c.nats != nil {
		responder := natsclient.NewResponder(c.router, c.validator, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := responder.Serve(ctx, c.nats, a.cfg.NATSSubject); err != nil {
				errCh <- err
			}
		}()
	}

	go func() {
		log.Info("server listening", zap.String("port", a.cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error("daemon component failed", zap.Error(runErr))
	}

	log.Info("shutting down")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	wg.Wait()

	log.Info("daemon stopped")
	return runErr
}
