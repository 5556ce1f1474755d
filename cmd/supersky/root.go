package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/supersky/supersky/internal/config"
	"github.com/supersky/supersky/pkg/logger"
)

// app carries what every command needs once configuration is loaded.
type app struct {
	configFile string
	v          *viper.Viper
	cfg        *config.Config
	log        *logger.Logger
	httpClient *http.Client
	now        func() time.Time
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), now: time.Now}

	rootCmd := &cobra.Command{
		Use:           "supersky",
		Short:         "Unread direct-message sync for Bluesky",
		Long:          "supersky keeps the unread direct-message count of one Bluesky account in sync and serves it to chat widgets over HTTP, WebSocket or NATS.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default $HOME/.supersky/supersky.yaml)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("store", "", "store DSN (memory://, sqlite:///path, postgres://..., nats:///bucket)")
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("store.dsn", flags.Lookup("store"))

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newCheckCmd(a),
		newTokenCmd(a),
		newWidgetCmd(a),
	)

	return rootCmd
}

func (a *app) load() error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.log == nil {
		log, err := logger.New(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		a.log = log
		logger.SetGlobal(log)
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: cfg.ChatTimeout}
	}
	return nil
}
