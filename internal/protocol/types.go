// Package protocol is the typed request/response protocol between the
// background process and the other contexts (widget, popup, CLI).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/supersky/supersky/internal/chat"
	"github.com/supersky/supersky/internal/model"
)

// RequestType tags a request.
type RequestType string

const (
	TypeUnreadCount          RequestType = "REQUEST_UNREAD_COUNT"
	TypeUnreadConversations  RequestType = "REQUEST_UNREAD_CONVERSATIONS"
	TypeForceCheck           RequestType = "FORCE_CHECK_MESSAGES"
	TypeSendMessage          RequestType = "SEND_MESSAGE"
	TypeMarkConversationRead RequestType = "MARK_CONVERSATION_READ"
	TypeGetUserInfo          RequestType = "GET_USER_INFO"
	TypeActionPerformed      RequestType = "ACTION_PERFORMED"
	TypePageVisited          RequestType = "PAGE_VISITED"
	TypeGetBubblePosition    RequestType = "GET_BUBBLE_POSITION"
	TypeSetBubblePosition    RequestType = "SET_BUBBLE_POSITION"
)

// Known reports whether t is handled by the router.
func (t RequestType) Known() bool {
	switch t {
	case TypeUnreadCount, TypeUnreadConversations, TypeForceCheck, TypeSendMessage,
		TypeMarkConversationRead, TypeGetUserInfo, TypeActionPerformed,
		TypePageVisited, TypeGetBubblePosition, TypeSetBubblePosition:
		return true
	}
	return false
}

// Failure texts returned to callers.
const (
	MissingSendFieldsMessage = "Missing convoId or text"
	MissingConvoIDMessage    = "Missing convoId"
	MissingPositionMessage   = "Missing position"
)

var (
	// ErrMissingFields marks a request without its required fields.
	ErrMissingFields = errors.New("missing required fields")
	// ErrNoResponse is returned by clients when the router ignored the
	// request type.
	ErrNoResponse = errors.New("no response for request type")
)

// Request is one protocol message.
type Request struct {
	Type     RequestType           `json:"type"`
	ConvoID  string                `json:"convoId,omitempty"`
	Text     string                `json:"text,omitempty"`
	URL      string                `json:"url,omitempty"`
	Position *model.BubblePosition `json:"position,omitempty"`
}

// Validate checks the fields required by the request type. It returns the
// caller-facing failure text alongside ErrMissingFields.
func (r Request) Validate() (string, error) {
	switch r.Type {
	case TypeSendMessage:
		if strings.TrimSpace(r.ConvoID) == "" || r.Text == "" {
			return MissingSendFieldsMessage, ErrMissingFields
		}
	case TypeMarkConversationRead:
		if strings.TrimSpace(r.ConvoID) == "" {
			return MissingConvoIDMessage, ErrMissingFields
		}
	case TypeSetBubblePosition:
		if r.Position == nil {
			return MissingPositionMessage, ErrMissingFields
		}
	}
	return "", nil
}

// DecodeRequest parses a JSON request.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// UnreadCountResponse answers REQUEST_UNREAD_COUNT.
type UnreadCountResponse struct {
	UnreadCount int `json:"unreadCount"`
}

// UnreadConversationsResponse answers REQUEST_UNREAD_CONVERSATIONS.
type UnreadConversationsResponse struct {
	Conversations []model.ConversationView `json:"conversations"`
	LastCheckTime *time.Time               `json:"lastCheckTime"`
}

// StatusResponse answers FORCE_CHECK_MESSAGES, ACTION_PERFORMED,
// PAGE_VISITED and SET_BUBBLE_POSITION.
type StatusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SendMessageResponse answers SEND_MESSAGE.
type SendMessageResponse struct {
	Success  bool              `json:"success"`
	Response *chat.MessageView `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// MarkReadResponse answers MARK_CONVERSATION_READ.
type MarkReadResponse struct {
	Success bool                `json:"success"`
	Result  *model.Conversation `json:"result,omitempty"`
	Cleared int                 `json:"cleared,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// UserInfoResponse answers GET_USER_INFO.
type UserInfoResponse struct {
	AccountID string `json:"accountId"`
	Handle    string `json:"handle"`
}

// BubblePositionResponse answers GET_BUBBLE_POSITION. Position is nil when
// the bubble was never moved.
type BubblePositionResponse struct {
	Position *model.BubblePosition `json:"position"`
}
