package status

import (
	"context"
	"errors"
	"io"

	"github.com/bnema/kaidan/internal/application"
	"github.com/bnema/kaidan/internal/events"
	tea "github.com/charmbracelet/bubbletea"
)

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

// StatusFunc reads the status shown by Watch.
type StatusFunc func(ctx context.Context) (application.Status, error)

// EventSource yields bus events; events.Subscription satisfies it.
type EventSource interface {
	Next(ctx context.Context) (events.Event, error)
}

type (
	snapshotMsg struct {
		status application.Status
		err    error
	}
	busEventMsg  events.Event
	busClosedMsg struct{}
)

// screen draws one status frame. In live mode it refreshes on every bus
// event until the source closes or the user quits.
type screen struct {
	status application.Status
	opts   RenderOptions
	styles styles

	live    bool
	ctx     context.Context
	fetch   StatusFunc
	source  EventSource
	last    events.Kind
	seen    int
	failure error
	frame   string
}

func (m screen) Init() tea.Cmd {
	if !m.live {
		return func() tea.Msg { return snapshotMsg{status: m.status} }
	}
	return tea.Sequence(m.refresh(), m.listen())
}

func (m screen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		if msg.err != nil {
			m.failure = msg.err
		} else {
			m.status = msg.status
			m.failure = nil
		}
		m.frame = m.draw()
		if !m.live {
			return m, tea.Quit
		}
		return m, nil
	case busEventMsg:
		m.last = msg.Kind
		m.seen++
		return m, tea.Sequence(m.refresh(), m.listen())
	case busClosedMsg:
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m screen) View() string {
	return m.frame
}

func (m screen) draw() string {
	view := renderView(m.status, m.opts, m.styles)
	if !m.live {
		return view
	}
	return view + "\n" + renderFooter(m.last, m.seen, m.failure, m.styles)
}

func (m screen) refresh() tea.Cmd {
	return func() tea.Msg {
		status, err := m.fetch(m.ctx)
		return snapshotMsg{status: status, err: err}
	}
}

func (m screen) listen() tea.Cmd {
	return func() tea.Msg {
		ev, err := m.source.Next(m.ctx)
		if err != nil {
			return busClosedMsg{}
		}
		return busEventMsg(ev)
	}
}

// Render draws the account and connection status once, without a terminal.
func Render(status application.Status, opts RenderOptions) (string, error) {
	final, err := tea.NewProgram(
		screen{status: status, opts: opts, styles: newStyles()},
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	).Run()
	if err != nil {
		return "", err
	}

	rendered, ok := final.(screen)
	if !ok {
		return "", ErrUnexpectedRenderModel
	}
	return rendered.View(), nil
}

// Watch redraws the status on out each time source yields an event. It
// returns the last frame once source closes, ctx ends or the user quits.
func Watch(ctx context.Context, in io.Reader, out io.Writer, source EventSource, fetch StatusFunc) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	final, err := tea.NewProgram(
		screen{styles: newStyles(), live: true, ctx: ctx, fetch: fetch, source: source},
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithContext(ctx),
	).Run()
	stopped := errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil
	if err != nil && !stopped {
		return "", err
	}

	rendered, ok := final.(screen)
	switch {
	case ok:
		return rendered.View(), nil
	case stopped:
		return "", nil
	default:
		return "", ErrUnexpectedRenderModel
	}
}
