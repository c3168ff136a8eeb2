package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/digitalsociety/egov-cli/internal/appctx"
	"github.com/digitalsociety/egov-cli/internal/auth"
	"github.com/digitalsociety/egov-cli/internal/commands"
	"github.com/digitalsociety/egov-cli/internal/config"
	"github.com/digitalsociety/egov-cli/internal/observability"
	"github.com/digitalsociety/egov-cli/internal/output"
	"github.com/digitalsociety/egov-cli/internal/session"
	"github.com/digitalsociety/egov-cli/internal/version"
)

// The CLI hooks observe refresh flights as well as HTTP attempts.
var _ auth.Hooks = (*observability.CLIHooks)(nil)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "egov",
		Short:         "Command-line interface for the citizen services portal",
		Long:          "egov talks to the citizen services portal: documents, Town Hall forums and inspection queues.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipSetup(cmd) {
				return nil
			}

			if flags.JQ != "" {
				if err := output.ValidateJQ(flags.JQ); err != nil {
					return output.ErrUsage(err.Error())
				}
			}

			cfg, err := config.Load(config.FlagOverrides{
				Host:      flags.Host,
				Backend:   flags.Backend,
				CSRFToken: flags.CSRFToken,
			})
			if err != nil {
				return err
			}

			backend, err := session.OpenBackend(session.Options{
				Backend:   cfg.CredentialBackend,
				Dir:       cfg.CredentialsDir,
				RedisURL:  cfg.RedisURL,
				NoKeyring: cfg.NoKeyring,
			})
			if err != nil {
				return output.ErrStore(err)
			}

			app := appctx.NewApp(cfg, backend)
			app.Stdout = cmd.OutOrStdout()
			app.Stderr = cmd.ErrOrStderr()
			app.Flags = resolvePreferences(cmd, cfg, flags)
			app.ApplyFlags()

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}
	cmd.SetVersionTemplate(version.Full() + "\n")

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVar(&flags.YAML, "yaml", false, "Output as YAML")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().StringVar(&flags.JQ, "jq", "", "Filter JSON output with a jq expression")

	// Connection flags
	cmd.PersistentFlags().StringVar(&flags.Host, "host", "", "Portal host (e.g., localhost:8000, portal.example.gov)")
	cmd.PersistentFlags().StringVar(&flags.Backend, "backend", "", "Credential backend: auto, keyring, file, redis or memory")
	cmd.PersistentFlags().StringVar(&flags.CSRFToken, "csrf-token", "", "Anti-forgery token sent as X-CSRFToken")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for session events, -vv for requests)")
	cmd.PersistentFlags().BoolVar(&flags.Stats, "stats", false, "Show session statistics")

	return cmd
}

// skipSetup reports whether cmd runs without an app.
func skipSetup(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "version", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return cmd.HasParent() && cmd.Parent().Name() == "completion"
}

// resolvePreferences fills unset behavior flags from config.
func resolvePreferences(cmd *cobra.Command, cfg *config.Config, flags appctx.GlobalFlags) appctx.GlobalFlags {
	if !flagChanged(cmd, "stats") && cfg.Stats != nil {
		flags.Stats = *cfg.Stats
	}
	if !flagChanged(cmd, "verbose") && cfg.Verbose != nil {
		flags.Verbose = *cfg.Verbose
	}
	return flags
}

// flagChanged reports whether name was set on the command line. Persistent
// flags only appear in cmd.Flags() once cobra has parsed them.
func flagChanged(cmd *cobra.Command, name string) bool {
	return cmd.Flags().Changed(name) || cmd.PersistentFlags().Changed(name)
}

// Execute runs the root command and exits with the error's exit code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd()
	cmd.AddCommand(commands.All()...)

	if code := run(ctx, cmd); code != 0 {
		stop()
		os.Exit(code)
	}
}

// run executes cmd and reports the error, returning the exit code.
func run(ctx context.Context, cmd *cobra.Command) int {
	executedCmd, err := cmd.ExecuteContextC(ctx)

	var app *appctx.App
	if executedCmd != nil {
		app = appctx.FromContext(executedCmd.Context())
	}
	if app != nil {
		defer func() { _ = app.Close() }()
	}
	if err == nil {
		return 0
	}

	err = transformCobraError(err)

	if app != nil && app.SessionExpired() {
		var e *output.Error
		if !errors.As(err, &e) || e.Code != output.CodeSessionExpired {
			err = output.ErrSessionExpired(err)
		}
	}
	apiErr := output.AsError(err)

	if app != nil {
		_ = app.Err(err)
		return apiErr.ExitCode()
	}

	// Fallback: output error directly (app not available, e.g., during setup)
	pf := cmd.PersistentFlags()
	format := output.FormatAuto
	quiet, _ := pf.GetBool("quiet")
	jsonFlag, _ := pf.GetBool("json")
	yamlFlag, _ := pf.GetBool("yaml")
	switch {
	case quiet:
		format = output.FormatQuiet
	case jsonFlag:
		format = output.FormatJSON
	case yamlFlag:
		format = output.FormatYAML
	}

	writer := output.New(output.Options{
		Format: format,
		Writer: cmd.OutOrStdout(),
	})
	_ = writer.Err(err)

	return apiErr.ExitCode()
}

var shorthandFlagPattern = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)

// transformCobraError turns Cobra's argument errors into usage errors.
func transformCobraError(err error) error {
	msg := err.Error()

	if flag, ok := strings.CutPrefix(msg, "flag needs an argument: "); ok {
		return output.ErrUsage(flag + " requires a value")
	}

	if flag, ok := strings.CutPrefix(msg, "unknown flag: "); ok {
		return output.ErrUsage("Unknown option: " + flag)
	}

	if matches := shorthandFlagPattern.FindStringSubmatch(msg); len(matches) > 1 {
		return output.ErrUsage("Unknown option: " + matches[1])
	}

	if strings.HasPrefix(msg, "unknown command ") {
		return output.ErrUsageHint(msg, "Run: egov commands")
	}

	if strings.Contains(msg, "invalid argument") {
		return output.ErrUsage(msg)
	}

	if strings.Contains(msg, "arg(s), received") {
		return output.ErrUsage(msg)
	}

	return err
}
