package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// PickerItem represents an item in a picker.
type PickerItem struct {
	ID          string
	Title       string
	Description string
}

// FilterValue returns the string to filter on.
func (i PickerItem) FilterValue() string {
	return i.Title + " " + i.Description
}

// ItemLoader loads picker items while a spinner is shown.
type ItemLoader func() ([]PickerItem, error)

type itemsLoadedMsg struct {
	items []PickerItem
	err   error
}

type pickerStyles struct {
	title    lipgloss.Style
	cursor   lipgloss.Style
	selected lipgloss.Style
	muted    lipgloss.Style
}

func newPickerStyles(theme Theme) pickerStyles {
	return pickerStyles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(theme.Primary),
		cursor:   lipgloss.NewStyle().Foreground(theme.Primary),
		selected: lipgloss.NewStyle().Bold(true).Foreground(theme.Foreground),
		muted:    lipgloss.NewStyle().Foreground(theme.Muted),
	}
}

// pickerModel is the bubbletea model for a filterable list.
type pickerModel struct {
	title        string
	emptyMessage string
	items        []PickerItem
	filtered     []PickerItem
	input        textinput.Model
	spinner      spinner.Model
	styles       pickerStyles
	maxVisible   int
	cursor       int
	offset       int

	loading  bool
	loadErr  error
	selected *PickerItem
	quitting bool
	autoOnly bool
}

func newPickerModel(title string, items []PickerItem) pickerModel {
	ti := textinput.New()
	ti.Placeholder = "Type to filter..."
	ti.Width = 40
	ti.Focus()

	theme := ResolveTheme()
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.Primary)

	return pickerModel{
		title:        title,
		emptyMessage: "Nothing to pick from",
		items:        items,
		filtered:     items,
		input:        ti,
		spinner:      s,
		styles:       newPickerStyles(theme),
		maxVisible:   10,
	}
}

func (m pickerModel) Init() tea.Cmd {
	if m.loading {
		return m.spinner.Tick
	}
	return textinput.Blink
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case itemsLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.loadErr = msg.err
			m.quitting = true
			return m, tea.Quit
		}
		m.items = msg.items
		m.filtered = m.filter(m.input.Value())
		if m.autoOnly && len(m.items) == 1 {
			item := m.items[0]
			m.selected = &item
			return m, tea.Quit
		}
		return m, textinput.Blink

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		if m.loading {
			return m, nil
		}

		switch msg.String() {
		case "enter":
			if m.cursor < len(m.filtered) {
				item := m.filtered[m.cursor]
				m.selected = &item
			}
			return m, tea.Quit
		case "up", "ctrl+p":
			if m.cursor > 0 {
				m.cursor--
				if m.cursor < m.offset {
					m.offset = m.cursor
				}
			}
		case "down", "ctrl+n":
			if m.cursor < len(m.filtered)-1 {
				m.cursor++
				if m.cursor >= m.offset+m.maxVisible {
					m.offset = m.cursor - m.maxVisible + 1
				}
			}
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			m.filtered = m.filter(m.input.Value())
			m.cursor = 0
			m.offset = 0
			return m, cmd
		}
	}

	return m, nil
}

func (m pickerModel) filter(query string) []PickerItem {
	if query == "" {
		return m.items
	}

	query = strings.ToLower(query)
	var result []PickerItem
	for _, item := range m.items {
		if strings.Contains(strings.ToLower(item.FilterValue()), query) {
			result = append(result, item)
		}
	}
	return result
}

func (m pickerModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.styles.title.Render(m.title) + "\n\n")

	if m.loading {
		b.WriteString(m.spinner.View() + " " + m.styles.muted.Render("Loading...") + "\n")
		return b.String()
	}

	b.WriteString(m.input.View() + "\n\n")

	if len(m.filtered) == 0 {
		b.WriteString(m.styles.muted.Render(m.emptyMessage) + "\n")
		return b.String()
	}

	end := min(m.offset+m.maxVisible, len(m.filtered))
	for i := m.offset; i < end; i++ {
		item := m.filtered[i]
		line := "  " + item.Title
		if i == m.cursor {
			line = m.styles.cursor.Render("> ") + m.styles.selected.Render(item.Title)
		}
		if item.Description != "" {
			line += m.styles.muted.Render(" - " + item.Description)
		}
		b.WriteString(line + "\n")
	}
	if len(m.filtered) > m.maxVisible {
		b.WriteString("\n" + m.styles.muted.Render(
			fmt.Sprintf("Showing %d-%d of %d", m.offset+1, end, len(m.filtered))) + "\n")
	}
	b.WriteString("\n" + m.styles.muted.Render("↑↓ navigate • enter select • esc cancel"))
	return b.String()
}

// PickWithLoader shows a spinner while load runs, then a picker over its
// items. A single item is picked without asking. It returns nil when the user
// cancels.
func PickWithLoader(title string, load ItemLoader) (*PickerItem, error) {
	m := newPickerModel(title, nil)
	m.loading = true
	m.autoOnly = true

	program := tea.NewProgram(m)
	go func() {
		items, err := load()
		program.Send(itemsLoadedMsg{items: items, err: err})
	}()

	final, err := program.Run()
	if err != nil {
		return nil, err
	}
	fm := final.(pickerModel) //nolint:errcheck // always our model
	if fm.loadErr != nil {
		return nil, fm.loadErr
	}
	return fm.selected, nil
}
