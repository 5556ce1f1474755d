// Package tui renders the chat widget in a terminal.
package tui

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/widget"
)

// Controller is the widget behavior the terminal host drives.
type Controller interface {
	View() widget.View
	Updates() <-chan struct{}
	Chimes() <-chan struct{}
	Click(ctx context.Context)
	Submit(ctx context.Context, text string)
	Close(ctx context.Context)
	ForceCheck(ctx context.Context)
	ToggleHidden()
	Resize(vp widget.Viewport)
	Move(ctx context.Context, pos model.BubblePosition)
	VisibilityChanged(ctx context.Context, visible bool)
}

// bubbleCells is the bubble's footprint in terminal cells.
const bubbleCells = 4

// hideKey toggles the widget. ctrl+h is avoided: many terminals send it for
// backspace.
const hideKey = "ctrl+t"

type updateMsg struct{}

type chimeMsg struct{}

type actionDoneMsg struct{}

type tuiModel struct {
	ctx   context.Context
	ctrl  Controller
	input textinput.Model
	view  widget.View
	bell  io.Writer
	s     styles
}

func newModel(ctx context.Context, ctrl Controller, bell io.Writer) tuiModel {
	in := textinput.New()
	in.Placeholder = "Type a message"
	in.CharLimit = 1000
	in.Focus()

	return tuiModel{
		ctx:   ctx,
		ctrl:  ctrl,
		input: in,
		view:  ctrl.View(),
		bell:  bell,
		s:     newStyles(),
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitFor(m.ctrl.Updates(), updateMsg{}), waitFor(m.ctrl.Chimes(), chimeMsg{}))
}

func waitFor(ch <-chan struct{}, msg tea.Msg) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return msg
	}
}

func (m tuiModel) run(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return actionDoneMsg{}
	}
}

func (m tuiModel) conversationOpen() bool {
	return m.view.State == widget.Open || m.view.State == widget.Sending
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m.view = m.ctrl.View()
		return m, waitFor(m.ctrl.Updates(), updateMsg{})
	case chimeMsg:
		if m.bell != nil {
			fmt.Fprint(m.bell, "\a")
		}
		return m, waitFor(m.ctrl.Chimes(), chimeMsg{})
	case actionDoneMsg:
		m.view = m.ctrl.View()
		return m, nil
	case tea.WindowSizeMsg:
		m.ctrl.Resize(widget.Viewport{Width: msg.Width, Height: msg.Height, Bubble: bubbleCells})
		return m, nil
	case tea.FocusMsg:
		m.ctrl.VisibilityChanged(m.ctx, true)
		return m, nil
	case tea.BlurMsg:
		m.ctrl.VisibilityChanged(m.ctx, false)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case hideKey:
		m.ctrl.ToggleHidden()
		return m, nil
	}

	if m.conversationOpen() {
		switch msg.String() {
		case "enter":
			if m.view.State != widget.Open {
				// Keep the draft until the send in flight resolves.
				return m, nil
			}
			text := m.input.Value()
			m.input.Reset()
			return m, m.run(func() { m.ctrl.Submit(m.ctx, text) })
		case "esc":
			m.input.Reset()
			return m, m.run(func() { m.ctrl.Close(m.ctx) })
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	pos := m.view.Position
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "enter", " ":
		return m, m.run(func() { m.ctrl.Click(m.ctx) })
	case "r":
		return m, m.run(func() { m.ctrl.ForceCheck(m.ctx) })
	case "left", "h":
		pos.X--
	case "right", "l":
		pos.X++
	case "up", "k":
		pos.Y--
	case "down", "j":
		pos.Y++
	default:
		return m, nil
	}
	return m, m.run(func() { m.ctrl.Move(m.ctx, pos) })
}

func (m tuiModel) View() string {
	return renderView(m.view, m.input.Value(), m.s)
}

// Run shows the widget until the user quits or ctx is done. The chime is
// written to bell.
func Run(ctx context.Context, ctrl Controller, output, bell io.Writer) error {
	opts := []tea.ProgramOption{
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithReportFocus(),
	}
	if output != nil {
		opts = append(opts, tea.WithOutput(output))
	}

	_, err := tea.NewProgram(newModel(ctx, ctrl, bell), opts...).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
