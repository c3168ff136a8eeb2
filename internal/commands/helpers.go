package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digitalsociety/egov-cli/internal/appctx"
	"github.com/digitalsociety/egov-cli/internal/output"
)

// stdin is swapped in tests.
var stdin io.Reader = os.Stdin

// requireApp returns the app stored on the command context.
func requireApp(cmd *cobra.Command) (*appctx.App, error) {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	return app, nil
}

// parseID parses a positive numeric identifier.
func parseID(s, what string) (int64, error) {
	if !isNumeric(s) {
		return 0, output.ErrUsage(fmt.Sprintf("Invalid %s ID: %s", what, s))
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, output.ErrUsage(fmt.Sprintf("Invalid %s ID: %s", what, s))
	}
	return id, nil
}

// isNumeric checks if a string contains only digits (for ID detection).
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// readValue returns v, or the contents of stdin when v is "-".
func readValue(v string) (string, error) {
	if v != "-" {
		return v, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// messageSummary falls back to a default when the portal sent no message.
func messageSummary(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
