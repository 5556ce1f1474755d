// Package chat is a client for the remote direct-message service, spoken as
// AT Protocol XRPC over HTTP.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/pkg/logger"
)

// Defaults.
const (
	DefaultServiceURL = "https://bsky.social"
	DefaultProxy      = "did:web:api.bsky.chat#bsky_chat"

	proxyHeader      = "atproto-proxy"
	rateResetHeader  = "ratelimit-reset"
	retryAfterHeader = "Retry-After"
)

// Session holds the tokens returned by createSession / refreshSession.
type Session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

// MessageView is the service's view of a sent message.
type MessageView struct {
	ID     string    `json:"id"`
	Rev    string    `json:"rev,omitempty"`
	Text   string    `json:"text"`
	Sender senderRef `json:"sender"`
	SentAt time.Time `json:"sentAt"`
}

type senderRef struct {
	DID string `json:"did"`
}

type convoView struct {
	ID          string              `json:"id"`
	Rev         string              `json:"rev"`
	Members     []model.Participant `json:"members"`
	Muted       bool                `json:"muted"`
	UnreadCount int                 `json:"unreadCount"`
}

func (c convoView) toModel() model.Conversation {
	members := c.Members
	if members == nil {
		members = []model.Participant{}
	}
	return model.Conversation{
		ID:          c.ID,
		UnreadCount: max(c.UnreadCount, 0),
		Muted:       c.Muted,
		Members:     members,
	}
}

type messageItem struct {
	Type   string    `json:"$type"`
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	Sender senderRef `json:"sender"`
	SentAt time.Time `json:"sentAt"`
}

// Client talks to the chat service.
type Client struct {
	baseURL    string
	proxy      string
	httpClient *http.Client
	log        *logger.Logger
	now        func() time.Time
}

// NewClient creates a client. An empty baseURL selects the public service.
func NewClient(baseURL, proxy string, httpClient *http.Client, log *logger.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultServiceURL
	}
	if proxy == "" {
		proxy = DefaultProxy
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		baseURL:    baseURL,
		proxy:      proxy,
		httpClient: httpClient,
		log:        log.Named("chat"),
		now:        time.Now,
	}
}

// CreateSession authenticates with a handle and an app password.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) (Session, error) {
	var out Session
	body := map[string]string{"identifier": identifier, "password": password}
	err := c.do(ctx, http.MethodPost, "com.atproto.server.createSession", "", false, nil, body, &out)
	return out, err
}

// RefreshSession exchanges a refresh token for a new token pair.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "com.atproto.server.refreshSession", refreshToken, false, nil, nil, &out)
	return out, err
}

// ListConversations returns up to limit conversations in server order.
func (c *Client) ListConversations(ctx context.Context, token string, limit int) ([]model.Conversation, error) {
	var out struct {
		Convos []convoView `json:"convos"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.do(ctx, http.MethodGet, "chat.bsky.convo.listConvos", token, true, q, nil, &out); err != nil {
		return nil, err
	}
	convos := make([]model.Conversation, 0, len(out.Convos))
	for _, cv := range out.Convos {
		if cv.ID == "" {
			continue
		}
		convos = append(convos, cv.toModel())
	}
	return convos, nil
}

// GetConversation returns one conversation with its members.
func (c *Client) GetConversation(ctx context.Context, token, convoID string) (model.Conversation, error) {
	var out struct {
		Convo *convoView `json:"convo"`
	}
	q := url.Values{"convoId": {convoID}}
	if err := c.do(ctx, http.MethodGet, "chat.bsky.convo.getConvo", token, true, q, nil, &out); err != nil {
		return model.Conversation{}, err
	}
	if out.Convo == nil {
		return model.Conversation{}, fmt.Errorf("getConvo %s: %w", convoID, ErrMalformedResponse)
	}
	return out.Convo.toModel(), nil
}

// GetMessages returns the most recent messages of a conversation, newest
// first. Deleted messages are dropped.
func (c *Client) GetMessages(ctx context.Context, token, convoID string, limit int) ([]model.Message, error) {
	var out struct {
		Messages []messageItem `json:"messages"`
	}
	q := url.Values{"convoId": {convoID}, "limit": {strconv.Itoa(limit)}}
	if err := c.do(ctx, http.MethodGet, "chat.bsky.convo.getMessages", token, true, q, nil, &out); err != nil {
		return nil, err
	}
	msgs := make([]model.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		if strings.HasSuffix(m.Type, "#deletedMessageView") {
			continue
		}
		msgs = append(msgs, model.Message{ID: m.ID, Text: m.Text, AuthorID: m.Sender.DID, SentAt: m.SentAt})
	}
	return msgs, nil
}

// SendMessage posts text to a conversation.
func (c *Client) SendMessage(ctx context.Context, token, convoID, text string) (MessageView, error) {
	var out MessageView
	body := map[string]any{
		"convoId": convoID,
		"message": map[string]string{"text": text},
	}
	err := c.do(ctx, http.MethodPost, "chat.bsky.convo.sendMessage", token, true, nil, body, &out)
	return out, err
}

// SendMessageBatch posts text through the batch endpoint. It is the fallback
// shape when SendMessage fails.
func (c *Client) SendMessageBatch(ctx context.Context, token, convoID, text string) (MessageView, error) {
	var out struct {
		Items []MessageView `json:"items"`
	}
	body := map[string]any{
		"items": []map[string]any{{
			"convoId": convoID,
			"message": map[string]string{"text": text},
		}},
	}
	if err := c.do(ctx, http.MethodPost, "chat.bsky.convo.sendMessageBatch", token, true, nil, body, &out); err != nil {
		return MessageView{}, err
	}
	if len(out.Items) == 0 {
		return MessageView{}, fmt.Errorf("sendMessageBatch: %w", ErrMalformedResponse)
	}
	return out.Items[0], nil
}

// UpdateRead marks a conversation read.
func (c *Client) UpdateRead(ctx context.Context, token, convoID string) (model.Conversation, error) {
	var out struct {
		Convo *convoView `json:"convo"`
	}
	body := map[string]string{"convoId": convoID}
	if err := c.do(ctx, http.MethodPost, "chat.bsky.convo.updateRead", token, true, nil, body, &out); err != nil {
		return model.Conversation{}, err
	}
	if out.Convo == nil {
		return model.Conversation{ID: convoID}, nil
	}
	return out.Convo.toModel(), nil
}

func (c *Client) do(
	ctx context.Context,
	method, nsid, token string,
	proxied bool,
	query url.Values,
	body any,
	out any,
) error {
	endpoint := c.baseURL + "/xrpc/" + nsid
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if proxied {
		req.Header.Set(proxyHeader, c.proxy)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", nsid, err)
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	c.log.Debug("xrpc call",
		zap.String("nsid", nsid),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	if readErr != nil {
		return fmt.Errorf("%s: %w", nsid, readErr)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%s: %w: %v", nsid, ErrMalformedResponse, err)
		}
		return nil
	}

	var errPayload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	if errPayload.Message == "" && errPayload.Error == "" {
		errPayload.Message = strings.TrimSpace(string(payload))
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       errPayload.Error,
		Message:    errPayload.Message,
		ResetAt:    c.resetTime(resp.Header),
	}
}

// resetTime reads the reset hint of a response: the ratelimit-reset header
// in unix seconds, else Retry-After in seconds or HTTP-date form.
func (c *Client) resetTime(h http.Header) time.Time {
	if raw := strings.TrimSpace(h.Get(rateResetHeader)); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
			return time.Unix(secs, 0).UTC()
		}
	}
	return parseRetryAfter(h.Get(retryAfterHeader), c.now())
}

func parseRetryAfter(header string, now time.Time) time.Time {
	header = strings.TrimSpace(header)
	if header == "" {
		return time.Time{}
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds <= 0 {
			return time.Time{}
		}
		return now.Add(time.Duration(seconds) * time.Second)
	}
	if when, err := http.ParseTime(header); err == nil {
		return when
	}
	return time.Time{}
}

// IsMalformed reports whether err is a decode failure of a 2xx response.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}
