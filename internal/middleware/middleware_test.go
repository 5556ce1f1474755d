package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/supersky/supersky/pkg/logger"
)

const testSecret = "test-secret"

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetSubject(r.Context()) + "/" + GetClientContext(r.Context())))
	})
}

func TestAuthAcceptsIssuedToken(t *testing.T) {
	token, err := IssueToken(testSecret, "alice", "widget", []string{ScopeProtocol}, time.Hour)
	require.NoError(t, err)

	h := Auth(testSecret)(RequireScope(ScopeProtocol)(okHandler()))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice/widget", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/?access_token="+token, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRejects(t *testing.T) {
	wrongSecret, err := IssueToken("other", "alice", "widget", []string{ScopeProtocol}, time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "alice", "widget", []string{ScopeProtocol}, -time.Minute)
	require.NoError(t, err)
	noScope, err := IssueToken(testSecret, "alice", "widget", nil, time.Hour)
	require.NoError(t, err)

	h := Auth(testSecret)(RequireScope(ScopeProtocol)(okHandler()))
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "bad format", header: "Token abc", want: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + wrongSecret, want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "missing scope", header: "Bearer " + noScope, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	_, err := IssueToken("", "alice", "cli", nil, time.Hour)
	assert.Error(t, err)
}

func TestEnvelopeValidator(t *testing.T) {
	v, err := NewEnvelopeValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Validate([]byte(`{"type":"SEND_MESSAGE","convoId":"c1","text":"hi"}`)))
	assert.NoError(t, v.Validate([]byte(`{"type":"SET_BUBBLE_POSITION","position":{"x":1,"y":2}}`)))
	assert.NoError(t, v.Validate([]byte(`{"type":"UNKNOWN_BUT_WELL_FORMED","extra":true}`)))

	for _, body := range []string{
		`{}`,
		`{"type":""}`,
		`{"type":42}`,
		`{"type":"SEND_MESSAGE","text":7}`,
		`{"type":"SET_BUBBLE_POSITION","position":{"x":"left","y":2}}`,
		`[]`,
		`not json`,
	} {
		assert.ErrorIs(t, v.Validate([]byte(body)), ErrInvalidEnvelope, body)
	}
}

func TestEnvelopeMiddlewareRestoresBody(t *testing.T) {
	v, err := NewEnvelopeValidator()
	require.NoError(t, err)

	var seen string
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		seen = buf.String()
	}))

	body := `{"type":"REQUEST_UNREAD_COUNT"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, seen)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nope":1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := `{"type":"SEND_MESSAGE","text":"` + strings.Repeat("x", MaxRequestBytes) + `"}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(okHandler())
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   zapcore.Level
	}{
		{"/api/v1/messages", http.StatusOK, zapcore.InfoLevel},
		{"/health", http.StatusOK, zapcore.DebugLevel},
		{"/metrics", http.StatusOK, zapcore.DebugLevel},
		{"/ready", http.StatusServiceUnavailable, zapcore.ErrorLevel},
		{"/api/v1/messages", http.StatusUnauthorized, zapcore.WarnLevel},
	}
	for _, tt := range tests {
		got := levelFor(httptest.NewRequest(http.MethodGet, tt.path, nil), tt.status)
		assert.Equal(t, tt.want, got, "%s %d", tt.path, tt.status)
	}
}

func TestLoggingSetsCorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}
