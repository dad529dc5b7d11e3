package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var progressDetailStyle = lipgloss.NewStyle().Faint(true)

type progressDetailMsg string

type progressResultMsg struct {
	err error
}

// progressModel spins next to a task label until the task reports back.
// The detail line follows the connection state while the task runs.
type progressModel struct {
	spin     spinner.Model
	task     string
	detail   string
	run      tea.Cmd
	err      error
	finished bool
}

func newProgressModel(task string, run tea.Cmd) progressModel {
	return progressModel{
		spin: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("39"))),
		),
		task: task,
		run:  run,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.run)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressDetailMsg:
		m.detail = string(msg)
		return m, nil
	case progressResultMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.finished {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.spin.View())
	b.WriteString(" ")
	b.WriteString(m.task)
	if m.detail != "" {
		b.WriteString(" ")
		b.WriteString(progressDetailStyle.Render(m.detail))
	}
	return b.String()
}

// runProgress shows task on out while work runs and returns work's error.
// work may call report to update the detail line.
func runProgress(ctx context.Context, out io.Writer, task string, work func(ctx context.Context, report func(string)) error) error {
	var p *tea.Program
	report := func(detail string) {
		p.Send(progressDetailMsg(detail))
	}
	run := func() tea.Msg {
		return progressResultMsg{err: work(ctx, report)}
	}

	p = tea.NewProgram(
		newProgressModel(task, run),
		tea.WithInput(nil),
		tea.WithOutput(out),
		tea.WithContext(ctx),
	)

	final, err := p.Run()
	if err != nil {
		return err
	}

	result, ok := final.(progressModel)
	if !ok {
		return fmt.Errorf("unexpected final progress model type %T", final)
	}
	return result.err
}

// reportingStates passes each connection state change to report before match
// sees the event.
func reportingStates(report func(string), match func(events.Event) (bool, error)) func(events.Event) (bool, error) {
	return func(ev events.Event) (bool, error) {
		if ev.Kind == events.ConnectionStateChanged {
			report(stateDetail(ev.State))
		}
		return match(ev)
	}
}

func stateDetail(state domain.ConnectionState) string {
	switch state {
	case domain.StateConnecting:
		return "(connecting)"
	case domain.StateConnected:
		return "(connected)"
	default:
		return "(" + state.String() + ")"
	}
}
