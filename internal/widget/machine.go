// Package widget reconciles the floating chat bubble with the unread
// snapshot served by the background router.
package widget

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/supersky/supersky/internal/model"
)

// State is the bubble's reconciliation state.
type State int

const (
	// Idle hides the bubble.
	Idle State = iota
	// Alert shows the bubble with its badge and no open conversation.
	Alert
	// Open displays one conversation's thread.
	Open
	// Sending has a send in flight.
	Sending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Alert:
		return "alert"
	case Open:
		return "open"
	case Sending:
		return "sending"
	default:
		return "unknown"
	}
}

// BubbleSize is the edge length of the bubble used when clamping its
// position into the viewport.
const BubbleSize = 70

// Timings configures the machine and its controller.
type Timings struct {
	PollInterval    time.Duration
	ForceInterval   time.Duration
	VisibilityDelay time.Duration
	SendSuspension  time.Duration
	CloseSuspension time.Duration
	DismissTTL      time.Duration
	StartupChecks   []time.Duration
}

// DefaultTimings mirrors the add-on's page script.
func DefaultTimings() Timings {
	return Timings{
		PollInterval:    3 * time.Second,
		ForceInterval:   2 * time.Minute,
		VisibilityDelay: time.Second,
		SendSuspension:  5 * time.Second,
		CloseSuspension: 10 * time.Second,
		DismissTTL:      time.Minute,
		StartupChecks:   []time.Duration{0, 2 * time.Second, 5 * time.Second},
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.ForceInterval <= 0 {
		t.ForceInterval = d.ForceInterval
	}
	if t.VisibilityDelay <= 0 {
		t.VisibilityDelay = d.VisibilityDelay
	}
	if t.SendSuspension <= 0 {
		t.SendSuspension = d.SendSuspension
	}
	if t.CloseSuspension <= 0 {
		t.CloseSuspension = d.CloseSuspension
	}
	if t.DismissTTL <= 0 {
		t.DismissTTL = d.DismissTTL
	}
	if t.StartupChecks == nil {
		t.StartupChecks = d.StartupChecks
	}
	return t
}

// Line is one message as the widget displays it.
type Line struct {
	ID       string
	Text     string
	FromUser bool
	SentAt   time.Time
	Pending  bool
	Failed   bool
}

// View is a copy of everything a renderer needs.
type View struct {
	State         State
	Visible       bool
	Hidden        bool
	Unread        int
	Conversations []model.ConversationView
	Active        *model.ConversationView
	Lines         []Line
	SenderName    string
	Position      model.BubblePosition
	LastError     string
}

// Machine is the widget's reconciliation state. It performs no I/O and is
// not safe for concurrent use; the Controller serializes access.
type Machine struct {
	timings   Timings
	state     State
	dismissed *DismissedSet

	suspendedUntil time.Time
	refresh        bool

	conversations []model.ConversationView
	unread        int
	lastUnread    int
	chime         bool

	active *model.ConversationView
	lines  []Line

	hidden   bool
	position model.BubblePosition
	lastErr  string
}

// NewMachine creates a machine in the Idle state.
func NewMachine(t Timings) *Machine {
	t = t.withDefaults()
	return &Machine{
		timings:   t,
		dismissed: NewDismissedSet(t.DismissTTL),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Suspended reports whether polling is suspended at now.
func (m *Machine) Suspended(now time.Time) bool {
	return now.Before(m.suspendedUntil)
}

// ShouldPoll reports whether a background poll may run at now. Polls are
// skipped while suspended, while a send is in flight, and while a
// conversation is open unless a refresh was requested.
func (m *Machine) ShouldPoll(now time.Time) bool {
	switch {
	case m.Suspended(now):
		return false
	case m.state == Sending:
		return false
	case m.state == Open && !m.refresh:
		return false
	}
	return true
}

// RequestRefresh lets the next poll through while a conversation is open.
func (m *Machine) RequestRefresh() {
	m.refresh = true
}

// ApplyPoll reconciles a poll result. Results landing while polling is not
// allowed are discarded and false is returned.
func (m *Machine) ApplyPoll(now time.Time, convos []model.ConversationView) bool {
	if !m.ShouldPoll(now) {
		return false
	}
	m.refresh = false
	m.dismissed.Prune(now)

	kept := make([]model.ConversationView, 0, len(convos))
	total := 0
	for _, c := range convos {
		if m.dismissed.Contains(c.Convo.ID, now) {
			continue
		}
		kept = append(kept, c)
		if c.Convo.CountsTowardUnread() {
			total += c.Convo.UnreadCount
		}
	}
	m.conversations = kept
	m.setUnread(total)

	switch m.state {
	case Idle, Alert:
		if total > 0 {
			m.state = Alert
		} else {
			m.state = Idle
		}
	case Open:
		if m.active == nil {
			break
		}
		for i := range kept {
			if kept[i].Convo.ID == m.active.Convo.ID {
				view := kept[i]
				m.active = &view
				break
			}
		}
	}
	return true
}

func (m *Machine) setUnread(n int) {
	if n > 0 && m.lastUnread == 0 {
		m.chime = true
	}
	m.unread = n
	m.lastUnread = n
}

// TakeChime reports whether the unread count rose from zero since the last
// call, and clears the flag.
func (m *Machine) TakeChime() bool {
	c := m.chime
	m.chime = false
	return c
}

// Candidate returns the conversation a click would open: the first one in
// server order.
func (m *Machine) Candidate() (model.ConversationView, bool) {
	if len(m.conversations) == 0 {
		return model.ConversationView{}, false
	}
	return m.conversations[0], true
}

// OpenConversation shows view. accountID decides which messages are the
// user's own. It is valid from Alert and from Open.
func (m *Machine) OpenConversation(view model.ConversationView, accountID string) bool {
	if m.state != Alert && m.state != Open {
		return false
	}
	m.active = &view
	m.lines = linesFor(view.Messages, accountID)
	m.state = Open
	m.refresh = false
	return true
}

func linesFor(msgs []model.Message, accountID string) []Line {
	lines := make([]Line, 0, len(msgs))
	for _, msg := range msgs {
		text := msg.Text
		if text == "" {
			text = "(Empty message)"
		}
		lines = append(lines, Line{
			ID:       msg.ID,
			Text:     text,
			FromUser: accountID != "" && msg.AuthorID == accountID,
			SentAt:   msg.SentAt,
		})
	}
	return lines
}

// Submit appends text to the open thread as a pending message, suspends
// polling and enters Sending. It returns the conversation id and the local
// message id.
func (m *Machine) Submit(now time.Time, text string) (convoID, localID string, ok bool) {
	if m.state != Open || m.active == nil || strings.TrimSpace(text) == "" {
		return "", "", false
	}
	localID = uuid.NewString()
	m.lines = append([]Line{{
		ID:       localID,
		Text:     text,
		FromUser: true,
		SentAt:   now,
		Pending:  true,
	}}, m.lines...)
	m.state = Sending
	m.suspend(now, m.timings.SendSuspension)
	return m.active.Convo.ID, localID, true
}

// SendResolved records the outcome of the send of localID. A send that
// resolves after the machine already left Sending only updates its line.
func (m *Machine) SendResolved(localID string, success bool, errText string) {
	for i := range m.lines {
		if m.lines[i].ID == localID {
			m.lines[i].Pending = false
			m.lines[i].Failed = !success
		}
	}
	if !success {
		m.lastErr = errText
	}
	if m.state == Sending {
		m.state = Open
	}
}

// Tick advances time-driven transitions: an unanswered send stops blocking
// the thread once its suspension window has elapsed.
func (m *Machine) Tick(now time.Time) {
	m.dismissed.Prune(now)
	if m.state == Sending && !m.Suspended(now) {
		m.state = Open
	}
}

// Close dismisses the open conversation. Its id is returned so the caller
// can mark it read remotely.
func (m *Machine) Close(now time.Time) (string, bool) {
	if m.state != Open && m.state != Sending {
		return "", false
	}
	id := ""
	if m.active != nil {
		id = m.active.Convo.ID
		m.dismissed.Add(id, now)
		m.suspend(now, m.timings.CloseSuspension)
		kept := m.conversations[:0:0]
		for _, c := range m.conversations {
			if c.Convo.ID != id {
				kept = append(kept, c)
			}
		}
		m.conversations = kept
	}
	m.active = nil
	m.lines = nil
	m.unread = 0
	m.lastUnread = 0
	m.refresh = false
	m.state = Idle
	return id, id != ""
}

func (m *Machine) suspend(now time.Time, d time.Duration) {
	if until := now.Add(d); until.After(m.suspendedUntil) {
		m.suspendedUntil = until
	}
}

// ToggleHidden flips the user's visibility override and returns the new
// value. Hidden widgets keep reconciling.
func (m *Machine) ToggleHidden() bool {
	m.hidden = !m.hidden
	return m.hidden
}

// Viewport is the area the bubble lives in. A zero size means unknown.
type Viewport struct {
	Width  int
	Height int
	Bubble int
}

// SetPosition stores the bubble position clamped into vp.
func (m *Machine) SetPosition(pos model.BubblePosition, vp Viewport) model.BubblePosition {
	if vp.Width > 0 && vp.Height > 0 {
		size := vp.Bubble
		if size <= 0 {
			size = BubbleSize
		}
		pos = pos.Clamp(vp.Width, vp.Height, size)
	}
	m.position = pos
	return m.position
}

// SetError records a failure to show the user.
func (m *Machine) SetError(text string) {
	m.lastErr = text
}

// View returns a copy of the renderable state.
func (m *Machine) View() View {
	v := View{
		State:         m.state,
		Hidden:        m.hidden,
		Visible:       !m.hidden && m.state != Idle,
		Unread:        m.unread,
		Conversations: append([]model.ConversationView(nil), m.conversations...),
		Lines:         append([]Line(nil), m.lines...),
		Position:      m.position,
		LastError:     m.lastErr,
	}
	if m.active != nil {
		active := *m.active
		v.Active = &active
		if len(active.Convo.Members) > 0 {
			v.SenderName = active.Convo.Members[0].Name()
		}
	} else if len(m.conversations) > 0 && len(m.conversations[0].Convo.Members) > 0 {
		v.SenderName = m.conversations[0].Convo.Members[0].Name()
	}
	return v
}
