package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "", srv.Client(), nil)
}

func TestCreateSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/xrpc/com.atproto.server.createSession", r.URL.Path)
		assert.Empty(t, r.Header.Get(proxyHeader))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice.test", body["identifier"])
		assert.Equal(t, "pw", body["password"])

		_, _ = w.Write([]byte(`{"accessJwt":"a","refreshJwt":"r","handle":"alice.test","did":"did:plc:alice"}`))
	})

	sess, err := c.CreateSession(context.Background(), "alice.test", "pw")
	require.NoError(t, err)
	assert.Equal(t, Session{AccessJwt: "a", RefreshJwt: "r", Handle: "alice.test", DID: "did:plc:alice"}, sess)
}

func TestRefreshSessionUsesRefreshToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer refresh-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"accessJwt":"a2","refreshJwt":"r2","did":"did:plc:alice"}`))
	})
	sess, err := c.RefreshSession(context.Background(), "refresh-token")
	require.NoError(t, err)
	assert.Equal(t, "a2", sess.AccessJwt)
}

func TestListConversations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/chat.bsky.convo.listConvos", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, DefaultProxy, r.Header.Get(proxyHeader))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"convos":[
			{"id":"c1","unreadCount":5,"muted":false,"members":[{"did":"did:plc:bob","handle":"bob.test"}]},
			{"id":"c2","unreadCount":0},
			{"id":"c3","unreadCount":2,"muted":true},
			{"unreadCount":9}
		]}`))
	})

	convos, err := c.ListConversations(context.Background(), "tok", 100)
	require.NoError(t, err)
	require.Len(t, convos, 3)
	assert.Equal(t, "c1", convos[0].ID)
	assert.Equal(t, 5, convos[0].UnreadCount)
	assert.Equal(t, "bob.test", convos[0].Members[0].Handle)
	assert.True(t, convos[2].Muted)
	assert.NotNil(t, convos[1].Members)
}

func TestGetMessagesDropsDeleted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "c1", r.URL.Query().Get("convoId"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"messages":[
			{"$type":"chat.bsky.convo.defs#messageView","id":"m2","text":"hi","sender":{"did":"did:plc:bob"},"sentAt":"2024-05-01T12:00:00Z"},
			{"$type":"chat.bsky.convo.defs#deletedMessageView","id":"m1","sender":{"did":"did:plc:bob"}}
		]}`))
	})

	msgs, err := c.GetMessages(context.Background(), "tok", "c1", 20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)
	assert.Equal(t, "did:plc:bob", msgs[0].AuthorID)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), msgs[0].SentAt)
}

func TestSendMessageAndBatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case "/xrpc/chat.bsky.convo.sendMessage":
			assert.Equal(t, "c1", body["convoId"])
			_, _ = w.Write([]byte(`{"id":"m1","text":"hello","sender":{"did":"did:plc:alice"}}`))
		case "/xrpc/chat.bsky.convo.sendMessageBatch":
			items := body["items"].([]any)
			require.Len(t, items, 1)
			_, _ = w.Write([]byte(`{"items":[{"id":"m2","text":"hello"}]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	view, err := c.SendMessage(context.Background(), "tok", "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m1", view.ID)

	view, err = c.SendMessageBatch(context.Background(), "tok", "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m2", view.ID)
}

func TestUpdateRead(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/chat.bsky.convo.updateRead", r.URL.Path)
		_, _ = w.Write([]byte(`{"convo":{"id":"c1","unreadCount":0}}`))
	})
	convo, err := c.UpdateRead(context.Background(), "tok", "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", convo.ID)
}

func TestRateLimitResponseCarriesResetHeader(t *testing.T) {
	reset := time.Unix(1714564800, 0).UTC()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ratelimit-reset", fmt.Sprint(reset.Unix()))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"RateLimitExceeded","message":"Rate Limit Exceeded"}`))
	})

	_, err := c.ListConversations(context.Background(), "tok", 100)
	require.Error(t, err)
	assert.True(t, IsRateLimit(err))
	assert.False(t, IsAuth(err))
	assert.True(t, ResetTime(err).Equal(reset))
}

func TestRetryAfterFallback(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c.now = func() time.Time { return now }

	_, err := c.ListConversations(context.Background(), "tok", 100)
	assert.True(t, ResetTime(err).Equal(now.Add(30*time.Second)))
}

func TestAuthFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"ExpiredToken","message":"Token has expired"}`))
	})
	_, err := c.ListConversations(context.Background(), "tok", 100)
	assert.True(t, IsAuth(err))
	assert.False(t, IsRateLimit(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "ExpiredToken", apiErr.Code)
}

func TestMalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"convos":`))
	})
	_, err := c.ListConversations(context.Background(), "tok", 100)
	assert.True(t, IsMalformed(err))
}

func TestIsRateLimitMatchesMessageText(t *testing.T) {
	assert.True(t, IsRateLimit(errors.New("upstream: Rate limit exceeded")))
	assert.False(t, IsRateLimit(errors.New("connection refused")))
	assert.False(t, IsRateLimit(nil))
}

func TestResetTimeFromJoinedErrors(t *testing.T) {
	reset := time.Unix(1700000100, 0).UTC()
	primary := &APIError{StatusCode: http.StatusInternalServerError, Message: "upstream"}
	fallback := &APIError{StatusCode: http.StatusTooManyRequests, ResetAt: reset}

	err := fmt.Errorf("send message: %w", errors.Join(primary, fallback))
	assert.True(t, ResetTime(err).Equal(reset))
	assert.True(t, IsRateLimit(err))
	assert.True(t, ResetTime(errors.New("plain")).IsZero())
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("any"))
	require.NoError(t, err)

	got, ok := TokenExpiry(signed)
	require.True(t, ok)
	assert.True(t, got.Equal(exp))

	_, ok = TokenExpiry("not-a-jwt")
	assert.False(t, ok)
	_, ok = TokenExpiry("")
	assert.False(t, ok)
}
