package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supersky/supersky/internal/middleware"
)

func executeCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func testEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SUPERSKY_LOG_LEVEL", "error")
	t.Setenv(passwordEnv, "")
	return "sqlite://" + filepath.Join(home, "state.db")
}

func readStatus(t *testing.T, dsn string) statusReport {
	t.Helper()
	stdout, _, err := executeCLI(t, "", "status", "--json", "--store", dsn)
	require.NoError(t, err)

	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	return report
}

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", stdout)
}

func TestLoginWithoutVerifyThenLogout(t *testing.T) {
	dsn := testEnv(t)

	stdout, _, err := executeCLI(t, "app-pass\n", "login", "--handle", "@alice.test", "--no-verify", "--store", dsn)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Stored credentials for alice.test")

	report := readStatus(t, dsn)
	assert.True(t, report.LoggedIn)
	assert.Equal(t, "alice.test", report.Handle)
	assert.Equal(t, 0, report.UnreadCount)

	_, _, err = executeCLI(t, "", "logout", "--store", dsn)
	require.NoError(t, err)
	assert.False(t, readStatus(t, dsn).LoggedIn)
}

func TestLoginRequiresHandle(t *testing.T) {
	dsn := testEnv(t)
	_, _, err := executeCLI(t, "pw\n", "login", "--store", dsn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "handle" not set`)
}

func TestLoginVerifiesAgainstService(t *testing.T) {
	dsn := testEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/com.atproto.server.createSession", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessJwt":"a","refreshJwt":"r","handle":"alice.test","did":"did:plc:alice"}`))
	}))
	defer srv.Close()
	t.Setenv("SUPERSKY_CHAT_SERVICE_URL", srv.URL)

	stdout, _, err := executeCLI(t, "", "login", "--handle", "alice.test", "--app-password", "pw", "--store", dsn)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Logged in as alice.test (did:plc:alice)")
}

func TestLoginRejectedCredentialsAreForgotten(t *testing.T) {
	dsn := testEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
	}))
	defer srv.Close()
	t.Setenv("SUPERSKY_CHAT_SERVICE_URL", srv.URL)

	_, _, err := executeCLI(t, "", "login", "--handle", "alice.test", "--app-password", "wrong", "--store", dsn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
	assert.False(t, readStatus(t, dsn).LoggedIn)
}

func TestCheckWhenLoggedOut(t *testing.T) {
	dsn := testEnv(t)
	_, _, err := executeCLI(t, "", "check", "--store", dsn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}

func TestTokenIsAcceptedByMiddleware(t *testing.T) {
	testEnv(t)
	t.Setenv("SUPERSKY_JWT_SECRET", "test-secret")

	stdout, _, err := executeCLI(t, "", "token", "--subject", "tab-1", "--context", "popup", "--store", "memory://")
	require.NoError(t, err)

	claims, err := middleware.ParseToken("test-secret", strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.Equal(t, "tab-1", claims.Subject)
	assert.Equal(t, "popup", claims.Context)
	assert.Contains(t, claims.Scopes, middleware.ScopeProtocol)
}

func TestStatusText(t *testing.T) {
	dsn := testEnv(t)
	stdout, _, err := executeCLI(t, "", "status", "--store", dsn)
	require.NoError(t, err)
	assert.Contains(t, stdout, "account: not logged in")
	assert.Contains(t, stdout, "last check: never")
	assert.Contains(t, stdout, "rate limit: ok")
}
