package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
)

const spinnerInterval = 100 * time.Millisecond

type actionMsg struct {
	details []string
	err     error
}

type tickMsg time.Time

// Action is the unit of work shown by Run.
type Action func(ctx context.Context) ([]string, error)

type model struct {
	title   string
	timeout time.Duration
	action  Action
	cancel  context.CancelFunc
	ctx     context.Context

	frame   int
	started time.Time
	elapsed time.Duration
	details []string
	err     error
	done    bool
}

func newModel(title string, timeout time.Duration, action Action) model {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return model{
		title:   title,
		timeout: timeout,
		action:  action,
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(spinnerInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	run := func() tea.Msg {
		details, err := m.action(m.ctx)
		return actionMsg{details: details, err: err}
	}
	return tea.Batch(run, tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.cancel()
			m.err = context.Canceled
			m.done = true
			return m, tea.Quit
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		m.elapsed = time.Since(m.started)
		return m, tick()
	case actionMsg:
		m.cancel()
		m.details = msg.details
		m.err = msg.err
		m.elapsed = time.Since(m.started)
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	if !m.done {
		fmt.Fprintf(&b, "%s running %s\n", spinnerFrames[m.frame], mutedStyle.Render(m.elapsed.Truncate(100*time.Millisecond).String()))
		return b.String()
	}
	if m.err != nil {
		fmt.Fprintf(&b, "%s: %v\n", failStyle.Render("FAILED"), m.err)
	} else {
		fmt.Fprintf(&b, "%s %s\n", okStyle.Render("OK"), mutedStyle.Render(m.elapsed.Truncate(time.Millisecond).String()))
	}
	for _, d := range m.details {
		b.WriteString("- " + d + "\n")
	}
	return b.String()
}

// Run executes action behind a spinner and prints its details when it ends.
func Run(title string, timeout time.Duration, action Action) ([]string, error) {
	m := newModel(title, timeout, action)
	defer m.cancel()
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, err
	}
	res := final.(model)
	return res.details, res.err
}
