// Package model defines the persisted data structures shared by every context.
package model

import (
	"time"
)

// Participant is a member of a conversation.
type Participant struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Name returns the best human label for the participant.
func (p Participant) Name() string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Handle != "":
		return p.Handle
	default:
		return "Unknown User"
	}
}

// Conversation represents a direct-message thread.
type Conversation struct {
	ID            string        `json:"id"`
	UnreadCount   int           `json:"unreadCount"`
	Muted         bool          `json:"muted"`
	Members       []Participant `json:"members"`
	Updated       time.Time     `json:"updated,omitempty"`
	LastCheckTime time.Time     `json:"lastCheckTime"`
}

// CountsTowardUnread reports whether the conversation contributes to the
// aggregate unread count.
func (c Conversation) CountsTowardUnread() bool {
	return !c.Muted && c.UnreadCount > 0
}

// ConversationView pairs a conversation with its most recent messages.
type ConversationView struct {
	Convo    Conversation `json:"convo"`
	Messages []Message    `json:"messages"`
}

// UnreadSnapshot is the single artifact the widget consumes. It is only ever
// replaced or cleared as a whole.
type UnreadSnapshot struct {
	TotalUnreadCount int                `json:"totalUnreadCount"`
	Conversations    []ConversationView `json:"conversations"`
	LastCheckTime    time.Time          `json:"lastCheckTime"`
}

// NewSnapshot builds a snapshot whose total is derived from its conversations.
func NewSnapshot(views []ConversationView, checkedAt time.Time) UnreadSnapshot {
	if views == nil {
		views = []ConversationView{}
	}
	snap := UnreadSnapshot{
		Conversations: views,
		LastCheckTime: checkedAt,
	}
	snap.TotalUnreadCount = snap.SumUnread()
	return snap
}

// SumUnread adds the unread counts of the non-muted conversations.
func (s UnreadSnapshot) SumUnread() int {
	total := 0
	for _, v := range s.Conversations {
		if v.Convo.CountsTowardUnread() {
			total += v.Convo.UnreadCount
		}
	}
	return total
}

// Consistent reports whether the stored total matches the conversations.
func (s UnreadSnapshot) Consistent() bool {
	return s.TotalUnreadCount == s.SumUnread()
}

// MarkRead returns a copy of the snapshot with conversation id zeroed and the
// total decremented by its stored unread count.
func (s UnreadSnapshot) MarkRead(id string) (UnreadSnapshot, int) {
	out := UnreadSnapshot{
		TotalUnreadCount: s.TotalUnreadCount,
		Conversations:    make([]ConversationView, len(s.Conversations)),
		LastCheckTime:    s.LastCheckTime,
	}
	cleared := 0
	for i, v := range s.Conversations {
		if v.Convo.ID == id {
			if v.Convo.CountsTowardUnread() {
				cleared = v.Convo.UnreadCount
			}
			v.Convo.UnreadCount = 0
		}
		out.Conversations[i] = v
	}
	out.TotalUnreadCount -= cleared
	if out.TotalUnreadCount < 0 {
		out.TotalUnreadCount = 0
	}
	return out, cleared
}
