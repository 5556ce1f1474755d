package tui

import (
	"bytes"
	"context"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/widget"
)

type fakeController struct {
	mu      sync.Mutex
	view    widget.View
	updates chan struct{}
	chimes  chan struct{}
	calls   []string
	sent    string
	moved   model.BubblePosition
	vp      widget.Viewport
}

func newFakeController(v widget.View) *fakeController {
	return &fakeController{view: v, updates: make(chan struct{}, 1), chimes: make(chan struct{}, 1)}
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) View() widget.View          { return f.view }
func (f *fakeController) Updates() <-chan struct{}   { return f.updates }
func (f *fakeController) Chimes() <-chan struct{}    { return f.chimes }
func (f *fakeController) Click(context.Context)      { f.record("click") }
func (f *fakeController) Close(context.Context)      { f.record("close") }
func (f *fakeController) ForceCheck(context.Context) { f.record("force") }
func (f *fakeController) ToggleHidden()              { f.record("toggle") }
func (f *fakeController) Resize(vp widget.Viewport)  { f.vp = vp }
func (f *fakeController) VisibilityChanged(_ context.Context, visible bool) {
	if visible {
		f.record("visible")
	}
}

func (f *fakeController) Submit(_ context.Context, text string) {
	f.record("submit")
	f.sent = text
}

func (f *fakeController) Move(_ context.Context, pos model.BubblePosition) {
	f.record("move")
	f.moved = pos
}

func press(t *testing.T, m tuiModel, key tea.KeyMsg) tuiModel {
	t.Helper()
	next, cmd := m.Update(key)
	if cmd != nil {
		if msg := cmd(); msg != nil {
			next, _ = next.Update(msg)
		}
	}
	out, ok := next.(tuiModel)
	require.True(t, ok)
	return out
}

func TestEnterOnBubbleClicks(t *testing.T) {
	ctrl := newFakeController(widget.View{State: widget.Alert, Visible: true, Unread: 1})
	m := newModel(context.Background(), ctrl, nil)

	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, []string{"click"}, ctrl.calls)
}

func TestTypingAndEnterSubmits(t *testing.T) {
	ctrl := newFakeController(widget.View{State: widget.Open, Visible: true})
	m := newModel(context.Background(), ctrl, nil)

	m.input.SetValue("hi")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "hi", ctrl.sent)
	assert.Empty(t, m.input.Value())
}

func TestEnterWhileSendingKeepsDraft(t *testing.T) {
	ctrl := newFakeController(widget.View{State: widget.Sending, Visible: true})
	m := newModel(context.Background(), ctrl, nil)

	m.input.SetValue("second thought")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, ctrl.calls)
	assert.Equal(t, "second thought", m.input.Value())
}

func TestBackspaceDoesNotToggleHidden(t *testing.T) {
	ctrl := newFakeController(widget.View{State: widget.Open, Visible: true})
	m := newModel(context.Background(), ctrl, nil)

	m.input.SetValue("hi")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyBackspace})
	m = next.(tuiModel)
	assert.Empty(t, ctrl.calls)
	assert.Equal(t, "h", m.input.Value())

	press(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.Equal(t, []string{"toggle"}, ctrl.calls)
}

func TestEscCloses(t *testing.T) {
	ctrl := newFakeController(widget.View{State: widget.Open, Visible: true})
	press(t, newModel(context.Background(), ctrl, nil), tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, []string{"close"}, ctrl.calls)
}

func TestArrowsMoveBubble(t *testing.T) {
	ctrl := newFakeController(widget.View{State: widget.Alert, Visible: true, Position: model.BubblePosition{X: 3, Y: 3}})
	press(t, newModel(context.Background(), ctrl, nil), tea.KeyMsg{Type: tea.KeyRight})
	assert.Equal(t, model.BubblePosition{X: 4, Y: 3}, ctrl.moved)
}

func TestWindowSizeResizes(t *testing.T) {
	ctrl := newFakeController(widget.View{})
	m := newModel(context.Background(), ctrl, nil)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	assert.Equal(t, widget.Viewport{Width: 100, Height: 30, Bubble: bubbleCells}, ctrl.vp)
}

func TestFocusTriggersVisibilityCheck(t *testing.T) {
	ctrl := newFakeController(widget.View{})
	m := newModel(context.Background(), ctrl, nil)
	m.Update(tea.FocusMsg{})
	assert.Equal(t, []string{"visible"}, ctrl.calls)
}

func TestChimeRingsBell(t *testing.T) {
	var bell bytes.Buffer
	ctrl := newFakeController(widget.View{})
	m := newModel(context.Background(), ctrl, &bell)
	m.Update(chimeMsg{})
	assert.Equal(t, "\a", bell.String())
}

var _ Controller = (*widget.Controller)(nil)
