package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supersky/supersky/internal/middleware"
	"github.com/supersky/supersky/internal/protocol"
	"github.com/supersky/supersky/internal/store"
	"github.com/supersky/supersky/pkg/logger"
)

// RouterConfig wires the HTTP transport.
type RouterConfig struct {
	Router    protocol.Dispatcher
	Store     store.Store
	NATS      Connectivity
	Validator *middleware.EnvelopeValidator
	// JWTSecret enables token auth on /api/v1 when set.
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	AllowedOrigins    []string
	Logger            *logger.Logger
}

// NewRouter builds the chi router of the daemon.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = middleware.DefaultOrigins
	}

	healthHandler := NewHealthHandler(cfg.Store, cfg.NATS)
	messageHandler := NewMessageHandler(cfg.Router, log)
	socketHandler := NewSocketHandler(cfg.Router, cfg.Validator, socketOrigins(origins), log.Named("socket"))

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(origins))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Use(middleware.RequireScope(middleware.ScopeProtocol))
		} else {
			log.Warn("transport auth disabled: no jwt secret configured")
		}
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Get("/socket", socketHandler.Serve)
		r.Group(func(r chi.Router) {
			if cfg.Validator != nil {
				r.Use(cfg.Validator.Middleware)
			}
			r.Post("/messages", messageHandler.Post)
		})
	})

	return r
}

// socketOrigins converts CORS origins into host patterns for the WebSocket
// origin check.
func socketOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		for _, prefix := range []string{"https://", "http://", "chrome-extension://", "moz-extension://"} {
			if len(o) > len(prefix) && o[:len(prefix)] == prefix {
				o = o[len(prefix):]
				break
			}
		}
		out = append(out, o)
	}
	return out
}
