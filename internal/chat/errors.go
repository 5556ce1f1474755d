package chat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrAuthentication marks invalid or expired credentials.
	ErrAuthentication = errors.New("chat: authentication failed")
	// ErrRateLimited marks a "too many requests" answer.
	ErrRateLimited = errors.New("chat: rate limited")
	// ErrMalformedResponse marks a 2xx body that could not be decoded.
	ErrMalformedResponse = errors.New("chat: malformed response")
)

var authErrorCodes = map[string]struct{}{
	"AuthenticationRequired":  {},
	"AuthFactorTokenRequired": {},
	"AccountTakedown":         {},
	"ExpiredToken":            {},
	"InvalidToken":            {},
}

// APIError is a non-2xx XRPC answer.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// ResetAt is the server-declared end of a rate-limit window, zero if the
	// response carried none.
	ResetAt time.Time
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("xrpc %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("xrpc %d: %s", e.StatusCode, e.Message)
}

// Is maps the error onto the taxonomy sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests || mentionsRateLimit(e.Code) || mentionsRateLimit(e.Message)
	case ErrAuthentication:
		if e.StatusCode == http.StatusUnauthorized {
			return true
		}
		_, ok := authErrorCodes[e.Code]
		return ok
	}
	return false
}

// IsRateLimit reports whether err is a rate-limit failure, including plain
// errors whose text mentions a rate limit.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) || mentionsRateLimit(err.Error())
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return err != nil && errors.Is(err, ErrAuthentication)
}

// ResetTime extracts the server-declared reset time from err. When err
// joins several API errors the latest reset wins.
func ResetTime(err error) time.Time {
	var reset time.Time
	walk(err, func(e error) {
		if apiErr, ok := e.(*APIError); ok && apiErr.ResetAt.After(reset) {
			reset = apiErr.ResetAt
		}
	})
	return reset
}

func walk(err error, fn func(error)) {
	if err == nil {
		return
	}
	fn(err)
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		walk(u.Unwrap(), fn)
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			walk(e, fn)
		}
	}
}

func mentionsRateLimit(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "rate limit") || strings.Contains(s, "ratelimit")
}
