// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/digitalsociety/egov-cli/internal/api"
	"github.com/digitalsociety/egov-cli/internal/auth"
	"github.com/digitalsociety/egov-cli/internal/config"
	"github.com/digitalsociety/egov-cli/internal/observability"
	"github.com/digitalsociety/egov-cli/internal/output"
	"github.com/digitalsociety/egov-cli/internal/session"
	"github.com/digitalsociety/egov-cli/internal/transport"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// levelOff is above every level slog emits, so the debug logger stays quiet
// until -v or EGOV_DEBUG turns it on.
const levelOff = slog.Level(100)

// App holds the shared application context for all commands.
type App struct {
	Config  *config.Config
	Session *session.Session
	Auth    *auth.Manager
	API     *api.Client
	Output  *output.Writer
	Logger  *slog.Logger

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.CLIHooks

	// Flags holds the global flag values
	Flags GlobalFlags

	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer

	logLevel *slog.LevelVar

	navMu      sync.Mutex
	navigation string
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON  bool
	YAML  bool
	Quiet bool
	JQ    string

	// Connection flags
	Host      string
	Backend   string
	CSRFToken string

	// Behavior flags
	Verbose int // 0=off, 1=session events, 2=every request
	Stats   bool
}

// NewApp creates an App for cfg storing credentials in backend. The HTTP
// client it builds carries the full request pipeline; the auth manager shares
// it for the token endpoints, whose responses the pipeline never intercepts.
func NewApp(cfg *config.Config, backend session.Backend) *App {
	a := &App{
		Config:   cfg,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		logLevel: new(slog.LevelVar),
	}
	a.logLevel.Set(levelOff)
	a.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: a.logLevel}))

	// Collector always runs to gather stats; hooks control output verbosity.
	// Level 0 initially; ApplyFlags sets the actual level from -v flags.
	a.Collector = observability.NewSessionCollector()
	a.Hooks = observability.NewCLIHooks(0, a.Collector, observability.NewTraceWriter())

	a.Session = session.New(backend, cfg.BaseURL)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	a.Auth = auth.NewManager(a.Session, cfg.BaseURL, httpClient,
		auth.WithLogger(a.Logger),
		auth.WithHooks(a.Hooks),
	)
	httpClient.Transport = transport.Chain(http.DefaultTransport,
		transport.RefreshOnUnauthorized(a.Auth, a.Session, transport.RefreshOptions{
			Navigator: a.Hooks.Navigator(transport.NavigatorFunc(a.navigate)),
			Logger:    a.Logger,
		}),
		transport.RequestID(),
		transport.Observe(a.Hooks),
		transport.Augment(a.Session, transport.AugmentOptions{
			CSRFToken: cfg.CSRFToken,
			Logger:    a.Logger,
		}),
	)
	a.API = api.NewClient(httpClient, cfg.BaseURL, api.WithLogger(a.Logger))

	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		format = output.FormatAuto
	}
	a.Output = output.New(output.Options{Format: format, Writer: a.Stdout})
	return a
}

// Close releases resources held by the credential backend.
func (a *App) Close() error {
	return a.Session.Close()
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() {
	format := a.Output.Format()
	switch {
	case a.Flags.Quiet:
		format = output.FormatQuiet
	case a.Flags.JSON:
		format = output.FormatJSON
	case a.Flags.YAML:
		format = output.FormatYAML
	}
	a.Output = output.New(output.Options{
		Format: format,
		Writer: a.Stdout,
		JQ:     a.Flags.JQ,
	})

	verboseLevel := a.Flags.Verbose
	if a.Config != nil && a.Config.Debug && verboseLevel < 2 {
		verboseLevel = 2
	}
	if a.Hooks != nil {
		a.Hooks.SetLevel(verboseLevel)
	}
	if verboseLevel > 0 {
		a.logLevel.Set(slog.LevelDebug)
	} else {
		a.logLevel.Set(levelOff)
	}
}

// navigate records where the pipeline sent the user. Only the first
// navigation is kept.
func (a *App) navigate(_ context.Context, target string) {
	a.navMu.Lock()
	defer a.navMu.Unlock()
	if a.navigation == "" {
		a.navigation = target
		a.Logger.Debug("navigate", "target", target)
	}
}

// SessionExpired reports whether the pipeline sent the user to the login
// view because the session could not be refreshed.
func (a *App) SessionExpired() bool {
	a.navMu.Lock()
	target := a.navigation
	a.navMu.Unlock()
	_, expired := transport.ConsumeSessionExpired(target)
	return expired
}

// OK outputs a success response, including stats if --stats is set.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	if a.Flags.Stats && a.Collector != nil {
		opts = append(opts, output.WithMeta("stats", a.Collector.Summary().ToMap()))
	}
	return a.Output.OK(data, opts...)
}

// Err outputs an error response, printing stats to stderr if --stats is set.
func (a *App) Err(err error) error {
	if outputErr := a.Output.Err(err); outputErr != nil {
		return outputErr
	}
	if a.Flags.Stats && a.Collector != nil && !a.isMachineOutput() {
		a.printStats(a.Collector.Summary())
	}
	return nil
}

// isMachineOutput returns true if the output mode is intended for programmatic consumption.
func (a *App) isMachineOutput() bool {
	if a.Flags.Quiet || a.Flags.JQ != "" {
		return true
	}
	switch a.Output.Format() {
	case output.FormatQuiet, output.FormatIDs, output.FormatCount:
		return true
	}
	return false
}

func (a *App) printStats(stats observability.SessionMetrics) {
	parts := stats.FormatParts()
	if len(parts) > 0 {
		fmt.Fprintf(a.Stderr, "\nStats: %s\n", strings.Join(parts, " | "))
	}
}

// IsInteractive returns true if the terminal supports interactive TUI.
func (a *App) IsInteractive() bool {
	if a.Flags.JSON || a.Flags.YAML || a.Flags.Quiet || a.Flags.JQ != "" {
		return false
	}
	return IsTerminal(os.Stdout) && IsTerminal(os.Stdin)
}

// IsTerminal reports whether f is a character device.
func IsTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
