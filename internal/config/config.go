// Package config provides configuration for the background daemon and the widget.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Persistent store
	StoreDSN string

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSSubject  string
	NATSBucket   string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// Remote chat service
	ChatServiceURL string
	ChatProxy      string
	ChatTimeout    time.Duration

	// Sync engine
	SyncInterval     time.Duration
	SyncMinInterval  time.Duration
	SyncBaseBackoff  time.Duration
	SyncMaxBackoff   time.Duration
	SyncListLimit    int
	SyncMessageLimit int

	// Rate limiting of the HTTP transport
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Widget
	WidgetRouterURL       string
	WidgetTransport       string
	WidgetToken           string
	WidgetPollInterval    time.Duration
	WidgetForceInterval   time.Duration
	WidgetVisibilityDelay time.Duration
	WidgetSendSuspension  time.Duration
	WidgetCloseSuspension time.Duration
	WidgetDismissTTL      time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "SUPERSKY"

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", "8787")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)

	// Store
	v.SetDefault("store.dsn", "sqlite://"+defaultDataPath("supersky.db"))

	// NATS
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.ca_file", "")
	v.SetDefault("nats.cert_file", "")
	v.SetDefault("nats.key_file", "")
	v.SetDefault("nats.token", "")
	v.SetDefault("nats.subject", "supersky.router")
	v.SetDefault("nats.bucket", "supersky")

	// JWT
	v.SetDefault("jwt.secret", "development-secret-change-in-production")
	v.SetDefault("jwt.expiration", 24*time.Hour)

	// Chat
	v.SetDefault("chat.service_url", "https://bsky.social")
	v.SetDefault("chat.proxy", "did:web:api.bsky.chat#bsky_chat")
	v.SetDefault("chat.timeout", 15*time.Second)

	// Sync
	v.SetDefault("sync.interval", 15*time.Second)
	v.SetDefault("sync.min_interval", 10*time.Second)
	v.SetDefault("sync.base_backoff", 10*time.Second)
	v.SetDefault("sync.max_backoff", 5*time.Minute)
	v.SetDefault("sync.list_limit", 100)
	v.SetDefault("sync.message_limit", 20)

	// Rate limiting
	v.SetDefault("ratelimit.requests", 120)
	v.SetDefault("ratelimit.window", time.Minute)

	// Widget
	v.SetDefault("widget.router_url", "http://127.0.0.1:8787")
	v.SetDefault("widget.transport", "http")
	v.SetDefault("widget.token", "")
	v.SetDefault("widget.poll_interval", 3*time.Second)
	v.SetDefault("widget.force_interval", 2*time.Minute)
	v.SetDefault("widget.visibility_delay", time.Second)
	v.SetDefault("widget.send_suspension", 5*time.Second)
	v.SetDefault("widget.close_suspension", 10*time.Second)
	v.SetDefault("widget.dismiss_ttl", time.Minute)

	// Logging
	v.SetDefault("log.level", "info")

	// Tracing
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.enabled", false)
}

// Load reads configuration from defaults, an optional config file and
// SUPERSKY_* environment variables, in increasing precedence.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("supersky")
		v.AddConfigPath(defaultDataPath(""))
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		// Server
		ServerPort:         v.GetString("server.port"),
		ServerReadTimeout:  v.GetDuration("server.read_timeout"),
		ServerWriteTimeout: v.GetDuration("server.write_timeout"),

		// Store
		StoreDSN: v.GetString("store.dsn"),

		// NATS
		NATSEnabled:  v.GetBool("nats.enabled"),
		NATSURL:      v.GetString("nats.url"),
		NATSCAFile:   v.GetString("nats.ca_file"),
		NATSCertFile: v.GetString("nats.cert_file"),
		NATSKeyFile:  v.GetString("nats.key_file"),
		NATSToken:    v.GetString("nats.token"),
		NATSSubject:  v.GetString("nats.subject"),
		NATSBucket:   v.GetString("nats.bucket"),

		// JWT
		JWTSecret:     v.GetString("jwt.secret"),
		JWTExpiration: v.GetDuration("jwt.expiration"),

		// Chat
		ChatServiceURL: v.GetString("chat.service_url"),
		ChatProxy:      v.GetString("chat.proxy"),
		ChatTimeout:    v.GetDuration("chat.timeout"),

		// Sync
		SyncInterval:     v.GetDuration("sync.interval"),
		SyncMinInterval:  v.GetDuration("sync.min_interval"),
		SyncBaseBackoff:  v.GetDuration("sync.base_backoff"),
		SyncMaxBackoff:   v.GetDuration("sync.max_backoff"),
		SyncListLimit:    v.GetInt("sync.list_limit"),
		SyncMessageLimit: v.GetInt("sync.message_limit"),

		// Rate limiting
		RateLimitRequests: v.GetInt("ratelimit.requests"),
		RateLimitWindow:   v.GetDuration("ratelimit.window"),

		// Widget
		WidgetRouterURL:       v.GetString("widget.router_url"),
		WidgetTransport:       v.GetString("widget.transport"),
		WidgetToken:           v.GetString("widget.token"),
		WidgetPollInterval:    v.GetDuration("widget.poll_interval"),
		WidgetForceInterval:   v.GetDuration("widget.force_interval"),
		WidgetVisibilityDelay: v.GetDuration("widget.visibility_delay"),
		WidgetSendSuspension:  v.GetDuration("widget.send_suspension"),
		WidgetCloseSuspension: v.GetDuration("widget.close_suspension"),
		WidgetDismissTTL:      v.GetDuration("widget.dismiss_ttl"),

		// Logging
		LogLevel: v.GetString("log.level"),

		// Tracing
		TracingEndpoint: v.GetString("tracing.endpoint"),
		TracingEnabled:  v.GetBool("tracing.enabled"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the sync engine cannot run with.
func (c *Config) Validate() error {
	if c.SyncMinInterval < 10*time.Second {
		return fmt.Errorf("sync.min_interval must be at least 10s, got %s", c.SyncMinInterval)
	}
	if c.SyncBaseBackoff <= 0 || c.SyncMaxBackoff < c.SyncBaseBackoff {
		return fmt.Errorf("sync backoff range invalid: base %s max %s", c.SyncBaseBackoff, c.SyncMaxBackoff)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.SyncListLimit <= 0 || c.SyncListLimit > 100 {
		return fmt.Errorf("sync.list_limit must be in 1..100, got %d", c.SyncListLimit)
	}
	if c.SyncMessageLimit <= 0 || c.SyncMessageLimit > 100 {
		return fmt.Errorf("sync.message_limit must be in 1..100, got %d", c.SyncMessageLimit)
	}
	return nil
}

func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".supersky", name)
}
