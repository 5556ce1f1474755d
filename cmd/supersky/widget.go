package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	natsclient "github.com/supersky/supersky/internal/nats"
	"github.com/supersky/supersky/internal/protocol"
	"github.com/supersky/supersky/internal/widget"
	"github.com/supersky/supersky/internal/widget/tui"
	"github.com/supersky/supersky/pkg/logger"
)

func newWidgetCmd(a *app) *cobra.Command {
	var (
		transport string
		logFile   string
	)

	cmd := &cobra.Command{
		Use:   "widget",
		Short: "Show the chat bubble in the terminal",
		Long:  "widget renders the floating chat bubble in the terminal. It talks to a running daemon over http, socket or nats, or runs the daemon in-process with --transport local.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if transport == "" {
				transport = a.cfg.WidgetTransport
			}
			// The terminal belongs to the widget; logs go to a file or nowhere.
			a.log = logger.Nop()
			if logFile != "" {
				log, err := logger.New(a.cfg.LogLevel, logger.WithOutput(logFile))
				if err != nil {
					return fmt.Errorf("open widget log: %w", err)
				}
				defer func() { _ = log.Sync() }()
				a.log = log
			}

			client, closeClient, err := a.protocolClient(ctx, transport)
			if err != nil {
				return err
			}
			defer closeClient()

			ctrl := widget.NewController(client, widget.Timings{
				PollInterval:    a.cfg.WidgetPollInterval,
				ForceInterval:   a.cfg.WidgetForceInterval,
				VisibilityDelay: a.cfg.WidgetVisibilityDelay,
				SendSuspension:  a.cfg.WidgetSendSuspension,
				CloseSuspension: a.cfg.WidgetCloseSuspension,
				DismissTTL:      a.cfg.WidgetDismissTTL,
			}, a.log)

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() { _ = ctrl.Run(ctx) }()

			return tui.Run(ctx, ctrl, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "http, socket, nats or local (default widget.transport)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file")
	return cmd
}

// protocolClient connects to the router over the named transport.
func (a *app) protocolClient(ctx context.Context, transport string) (protocol.Client, func(), error) {
	token := a.cfg.WidgetToken
	if token == "" && a.cfg.JWTSecret != "" && transport != "local" && transport != "nats" {
		t, err := a.issueToken("widget", "page", a.cfg.JWTExpiration)
		if err != nil {
			return nil, nil, err
		}
		token = t
	}

	switch transport {
	case "http":
		return protocol.NewHTTPClient(a.cfg.WidgetRouterURL, token, a.httpClient), func() {}, nil
	case "socket", "ws", "websocket":
		sc, err := protocol.DialSocket(ctx, a.cfg.WidgetRouterURL, token)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to %s: %w", a.cfg.WidgetRouterURL, err)
		}
		return sc, func() { _ = sc.Close() }, nil
	case "nats":
		nc, err := a.connectNATS(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}
		return natsclient.NewRequester(nc, a.cfg.NATSSubject), nc.Close, nil
	case "local":
		c, err := a.wire(ctx)
		if err != nil {
			return nil, nil, err
		}
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := c.scheduler.Run(runCtx); err != nil {
				a.log.Error("scheduler stopped", zap.Error(err))
			}
		}()
		return protocol.NewLocal(c.router), func() {
			cancel()
			<-done
			c.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", transport)
	}
}
