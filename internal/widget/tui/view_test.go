package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/widget"
)

func TestRenderViewHidden(t *testing.T) {
	out := renderView(widget.View{Hidden: true, Unread: 3}, "", newStyles())
	assert.Contains(t, out, "hidden")
	assert.NotContains(t, out, "3")
}

func TestRenderViewIdle(t *testing.T) {
	out := renderView(widget.View{State: widget.Idle}, "", newStyles())
	assert.Contains(t, out, "No unread messages")
}

func TestRenderViewBadge(t *testing.T) {
	out := renderView(widget.View{State: widget.Alert, Visible: true, Unread: 7, SenderName: "Alice"}, "", newStyles())
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "7")
}

func TestRenderViewThreadOldestFirst(t *testing.T) {
	v := widget.View{
		State:      widget.Open,
		Visible:    true,
		SenderName: "Alice",
		Active:     &model.ConversationView{Convo: model.Conversation{ID: "a"}},
		Lines: []widget.Line{
			{ID: "2", Text: "newest", FromUser: true, Failed: true},
			{ID: "1", Text: "oldest", SentAt: time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)},
		},
	}
	out := renderView(v, "draft", newStyles())

	assert.Less(t, strings.Index(out, "oldest"), strings.Index(out, "newest"))
	assert.Contains(t, out, "not sent")
	assert.Contains(t, out, "> draft")
}

func TestRenderViewSending(t *testing.T) {
	v := widget.View{State: widget.Sending, Visible: true}
	out := renderView(v, "", newStyles())
	assert.Contains(t, out, "sending...")
	assert.Contains(t, out, "No messages in this conversation yet")
}
