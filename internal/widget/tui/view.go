package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/supersky/supersky/internal/widget"
)

const panelWidth = 44

func renderView(v widget.View, input string, s styles) string {
	if v.Hidden {
		return s.help.Render("SuperSky is hidden. " + hideKey + " shows it again.")
	}
	if !v.Visible {
		return s.help.Render("No unread messages. r checks now, q quits.")
	}

	var b strings.Builder
	if v.State == widget.Open || v.State == widget.Sending {
		b.WriteString(renderPanel(v, input, s))
		b.WriteString("\n")
	}
	b.WriteString(renderBubble(v, s))

	return lipgloss.NewStyle().
		MarginLeft(v.Position.X).
		MarginTop(v.Position.Y).
		Render(b.String())
}

func renderBubble(v widget.View, s styles) string {
	label := "S"
	if v.SenderName != "" {
		label = v.SenderName
	}
	bubble := s.bubble.Render(label)
	if v.Unread > 0 {
		bubble = lipgloss.JoinHorizontal(lipgloss.Top, bubble, s.badge.Render(strconv.Itoa(v.Unread)))
	}
	return bubble
}

func renderPanel(v widget.View, input string, s styles) string {
	var lines []string

	title := "Conversation"
	if v.SenderName != "" {
		title = v.SenderName
	}
	lines = append(lines, s.header.Render(title))

	if len(v.Lines) == 0 {
		lines = append(lines, s.meta.Render("No messages in this conversation yet"))
	}
	// Lines are newest first; print oldest at the top.
	for i := len(v.Lines) - 1; i >= 0; i-- {
		lines = append(lines, renderLine(v.Lines[i], s))
	}

	if v.LastError != "" {
		lines = append(lines, s.failed.Render(v.LastError))
	}
	prompt := "> " + input
	if v.State == widget.Sending {
		prompt = s.pending.Render("sending...")
	}
	lines = append(lines, "", prompt, s.help.Render("enter send · esc close · "+hideKey+" hide"))

	return s.panel.Width(panelWidth).Render(strings.Join(lines, "\n"))
}

func renderLine(l widget.Line, s styles) string {
	stamp := ""
	if !l.SentAt.IsZero() {
		stamp = s.meta.Render(l.SentAt.Local().Format("15:04")) + " "
	}
	switch {
	case l.Failed:
		return stamp + s.failed.Render(fmt.Sprintf("you: %s (not sent)", l.Text))
	case l.Pending:
		return stamp + s.pending.Render("you: "+l.Text)
	case l.FromUser:
		return stamp + s.mine.Render("you: "+l.Text)
	default:
		return stamp + s.theirs.Render(l.Text)
	}
}
