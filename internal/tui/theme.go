// Package tui provides terminal user interface components.
package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color palette for styled output.
type Theme struct {
	Primary    lipgloss.AdaptiveColor
	Success    lipgloss.AdaptiveColor
	Warning    lipgloss.AdaptiveColor
	Error      lipgloss.AdaptiveColor
	Muted      lipgloss.AdaptiveColor
	Foreground lipgloss.AdaptiveColor
}

// DefaultTheme returns the default egov theme.
func DefaultTheme() Theme {
	return Theme{
		Primary:    lipgloss.AdaptiveColor{Light: "#0b5cad", Dark: "#7fb4ef"},
		Success:    lipgloss.AdaptiveColor{Light: "#1e8e3e", Dark: "#81c995"},
		Warning:    lipgloss.AdaptiveColor{Light: "#b26a00", Dark: "#fdd663"},
		Error:      lipgloss.AdaptiveColor{Light: "#c5221f", Dark: "#f28b82"},
		Muted:      lipgloss.AdaptiveColor{Light: "#80868b", Dark: "#6e7681"},
		Foreground: lipgloss.AdaptiveColor{Light: "#202124", Dark: "#e8eaed"},
	}
}

// NoColorTheme returns a theme with empty colors (honors NO_COLOR standard).
// Lipgloss treats empty strings as "no color", resulting in plain text output.
func NoColorTheme() Theme {
	empty := lipgloss.AdaptiveColor{}
	return Theme{
		Primary:    empty,
		Success:    empty,
		Warning:    empty,
		Error:      empty,
		Muted:      empty,
		Foreground: empty,
	}
}

// ResolveTheme returns NoColorTheme when NO_COLOR is set or EGOV_THEME is
// "none", otherwise the default theme.
func ResolveTheme() Theme {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return NoColorTheme()
	}
	if os.Getenv("EGOV_THEME") == "none" {
		return NoColorTheme()
	}
	return DefaultTheme()
}
