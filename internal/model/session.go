package model

import (
	"time"
)

// Session is the signed-in account. Handle and Secret come from the login
// flow; the token fields and AccountID depend on a live remote session.
type Session struct {
	Handle       string `json:"handle"`
	Secret       string `json:"secret"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	AccountID    string `json:"accountId,omitempty"`
}

// HasCredentials reports whether the login flow stored a handle and secret.
func (s Session) HasCredentials() bool {
	return s.Handle != "" && s.Secret != ""
}

// Live reports whether a remote session token is held.
func (s Session) Live() bool {
	return s.AccessToken != "" && s.AccountID != ""
}

// WithoutLiveSession drops every field that depends on a live remote session.
func (s Session) WithoutLiveSession() Session {
	s.AccessToken = ""
	s.RefreshToken = ""
	return s
}

// RateLimitStatus is the persisted state of the rate limiter.
type RateLimitStatus struct {
	IsRateLimited     bool          `json:"isRateLimited"`
	ResetTime         time.Time     `json:"resetTime"`
	BackoffUntil      time.Time     `json:"backoffUntil"`
	ConsecutiveErrors int           `json:"consecutiveErrors,omitempty"`
	Backoff           time.Duration `json:"backoff,omitempty"`
	LastCall          time.Time     `json:"lastCall,omitempty"`
}

// Stats are the usage counters kept by the background process.
type Stats struct {
	PagesVisited int `json:"pagesVisited"`
	ActionsTaken int `json:"actionsTaken"`
}

// BubblePosition is where the user dragged the floating bubble.
type BubblePosition struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Clamp keeps the bubble inside a viewport of the given size.
func (p BubblePosition) Clamp(width, height, bubble int) BubblePosition {
	clamp := func(v, max int) int {
		if v > max {
			v = max
		}
		if v < 0 {
			v = 0
		}
		return v
	}
	return BubblePosition{
		X: clamp(p.X, width-bubble),
		Y: clamp(p.Y, height-bubble),
	}
}

// InstallRecord is written once when the daemon starts for the first time.
type InstallRecord struct {
	IsInitialized bool      `json:"isInitialized"`
	InstallDate   time.Time `json:"installDate"`
}
