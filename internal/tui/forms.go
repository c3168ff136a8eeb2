package tui

import (
	"errors"

	"github.com/charmbracelet/huh"
)

// Confirm shows a yes/no confirmation prompt.
func Confirm(message string, defaultValue bool) (bool, error) {
	result := defaultValue
	err := huh.NewConfirm().
		Title(message).
		Affirmative("Yes").
		Negative("No").
		Value(&result).
		Run()
	if err != nil {
		return defaultValue, err
	}
	return result, nil
}

// InputRequired shows a required text input prompt.
func InputRequired(title, placeholder string) (string, error) {
	var result string
	err := huh.NewInput().
		Title(title).
		Placeholder(placeholder).
		Value(&result).
		Validate(required).
		Run()
	return result, err
}

// Credentials prompts for a username and password in one form. A non-empty
// username is used as the initial value.
func Credentials(title, username string) (string, string, error) {
	var password string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Value(&username).
				Validate(required),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&password).
				Validate(required),
		).Title(title),
	)
	if err := form.Run(); err != nil {
		return "", "", err
	}
	return username, password, nil
}

// TextArea shows a multiline text input prompt.
func TextArea(title, placeholder string) (string, error) {
	var result string
	err := huh.NewText().
		Title(title).
		Placeholder(placeholder).
		Value(&result).
		Validate(required).
		Run()
	return result, err
}

func required(s string) error {
	if s == "" {
		return errors.New("this field is required")
	}
	return nil
}
