// Package ratelimit gates calls to the remote chat service. A Limiter is an
// explicit state object; callers pass the current time so it stays
// deterministic under test.
package ratelimit

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/supersky/supersky/internal/model"
)

// Defaults.
const (
	DefaultMinInterval = 10 * time.Second
	DefaultBaseBackoff = 10 * time.Second
	DefaultMaxBackoff  = 5 * time.Minute

	minGrowth   = 1.5
	growthRange = 1.0
)

// FailureKind classifies a failed remote call.
type FailureKind int

const (
	FailureTransport FailureKind = iota
	FailureRateLimit
	FailureAuth
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimit:
		return "rate_limit"
	case FailureAuth:
		return "auth"
	default:
		return "transport"
	}
}

// Reason explains a denial.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonServerReset Reason = "server_reset"
	ReasonBackoff     Reason = "backoff"
	ReasonMinInterval Reason = "min_interval"
)

// Decision is the result of a gate check.
type Decision struct {
	Proceed bool
	Reason  Reason
	// RetryAt is the earliest time the same check could succeed.
	RetryAt time.Time
}

// Config bounds the limiter.
type Config struct {
	MinInterval time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = DefaultMaxBackoff
		if c.MaxBackoff < c.BaseBackoff {
			c.MaxBackoff = c.BaseBackoff
		}
	}
	return c
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithRand replaces the source of the growth factor. fn must return values
// in [0, 1).
func WithRand(fn func() float64) Option {
	return func(l *Limiter) { l.rand = fn }
}

// Limiter tracks last-call time, consecutive errors and the backoff window.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	rand   func() float64
	status model.RateLimitStatus
	// transportStreak counts consecutive transport failures; the first one
	// does not grow the backoff.
	transportStreak int
}

// New creates a limiter resuming from status.
func New(cfg Config, status model.RateLimitStatus, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:    cfg.withDefaults(),
		rand:   rand.Float64,
		status: status,
	}
	if l.status.Backoff < l.cfg.BaseBackoff {
		l.status.Backoff = l.cfg.BaseBackoff
	}
	if l.status.Backoff > l.cfg.MaxBackoff {
		l.status.Backoff = l.cfg.MaxBackoff
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ShouldProceed reports whether a call may go out now, recording the attempt
// when it may.
func (l *Limiter) ShouldProceed(now time.Time) bool {
	return l.Allow(now).Proceed
}

// Allow is ShouldProceed with the reason for a denial.
func (l *Limiter) Allow(now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := &l.status
	switch {
	case now.Before(s.ResetTime):
		return Decision{Reason: ReasonServerReset, RetryAt: s.ResetTime}
	case now.Before(s.BackoffUntil):
		return Decision{Reason: ReasonBackoff, RetryAt: s.BackoffUntil}
	case !s.LastCall.IsZero() && now.Sub(s.LastCall) < l.cfg.MinInterval:
		return Decision{Reason: ReasonMinInterval, RetryAt: s.LastCall.Add(l.cfg.MinInterval)}
	}
	s.LastCall = now
	return Decision{Proceed: true}
}

// AllowForced is the gate for an explicit refresh. It skips the minimum
// interval and the local backoff but still honors a cool-down declared by
// the server.
func (l *Limiter) AllowForced(now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Before(l.status.ResetTime) {
		return Decision{Reason: ReasonServerReset, RetryAt: l.status.ResetTime}
	}
	l.status.LastCall = now
	return Decision{Proceed: true}
}

// OnSuccess clears every failure-derived field and drops the backoff to its
// floor.
func (l *Limiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.status.ConsecutiveErrors = 0
	l.status.Backoff = l.cfg.BaseBackoff
	l.status.IsRateLimited = false
	l.status.ResetTime = time.Time{}
	l.status.BackoffUntil = time.Time{}
	l.transportStreak = 0
}

// OnFailure records a failed call. resetHint is the server-declared reset
// time, or zero when the response carried none; it takes precedence over
// the computed backoff for the reset time.
func (l *Limiter) OnFailure(now time.Time, kind FailureKind, resetHint time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := &l.status
	s.ConsecutiveErrors++

	switch kind {
	case FailureRateLimit:
		l.transportStreak = 0
		l.grow()
		s.IsRateLimited = true
		reset := resetHint
		if reset.IsZero() {
			reset = now.Add(s.Backoff)
		}
		if reset.After(s.ResetTime) {
			s.ResetTime = reset
		}
	case FailureTransport:
		l.transportStreak++
		if l.transportStreak > 1 {
			l.grow()
		}
	case FailureAuth:
		l.transportStreak = 0
	}

	if until := now.Add(s.Backoff); until.After(s.BackoffUntil) {
		s.BackoffUntil = until
	}
}

func (l *Limiter) grow() {
	factor := minGrowth + growthRange*l.rand()
	next := time.Duration(float64(l.status.Backoff) * factor)
	if next > l.cfg.MaxBackoff || next <= 0 {
		next = l.cfg.MaxBackoff
	}
	l.status.Backoff = next
}

// Status returns a copy of the current state for persistence.
func (l *Limiter) Status() model.RateLimitStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Config returns the effective bounds.
func (l *Limiter) Config() Config {
	return l.cfg
}
