package tui

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrCanceled is returned when the user interrupts a spinner.
var ErrCanceled = errors.New("canceled")

type spinnerModel struct {
	spinner  spinner.Model
	message  string
	done     string
	err      error
	finished bool
	quitting bool

	success lipgloss.Style
	failure lipgloss.Style
}

type spinnerDoneMsg struct {
	err error
}

func newSpinnerModel(message, done string, theme Theme) spinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.Primary)
	return spinnerModel{
		spinner: s,
		message: message,
		done:    done,
		success: lipgloss.NewStyle().Foreground(theme.Success),
		failure: lipgloss.NewStyle().Foreground(theme.Error),
	}
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	case spinnerDoneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	switch {
	case m.quitting:
		return ""
	case m.finished && m.err != nil:
		return m.failure.Render("✗ "+m.err.Error()) + "\n"
	case m.finished:
		return m.success.Render("✓ "+m.done) + "\n"
	}
	return fmt.Sprintf("%s %s\n", m.spinner.View(), m.message)
}

// Spin shows message with a spinner on out while fn runs, then done or the
// error. fn's error is returned unchanged.
func Spin(out io.Writer, message, done string, fn func() error) error {
	p := tea.NewProgram(newSpinnerModel(message, done, ResolveTheme()), tea.WithOutput(out))

	go func() {
		p.Send(spinnerDoneMsg{err: fn()})
	}()

	final, err := p.Run()
	if err != nil {
		return err
	}
	m := final.(spinnerModel) //nolint:errcheck // always our model
	if m.quitting {
		return ErrCanceled
	}
	return m.err
}
