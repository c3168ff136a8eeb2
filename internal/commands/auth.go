// Package commands implements the CLI commands.
package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/digitalsociety/egov-cli/internal/auth"
	"github.com/digitalsociety/egov-cli/internal/output"
	"github.com/digitalsociety/egov-cli/internal/tui"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
		Long:  "Manage portal authentication including login, logout, and status.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
		newAuthRefreshCmd(),
		newAuthTokenCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var username string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the portal",
		Long: `Exchange a username and password for an access/refresh token pair.

In a terminal you are prompted for your credentials. In scripts pass
--username and pipe the password with --password-stdin:

  echo "$PASSWORD" | egov auth login --username citizen --password-stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var password string
			interactive := app.IsInteractive() && !passwordStdin
			switch {
			case passwordStdin:
				if username == "" {
					return output.ErrUsage("--username is required with --password-stdin")
				}
				if password, err = readValue("-"); err != nil {
					return err
				}
			case interactive:
				username, password, err = tui.Credentials("Log in to "+app.Config.BaseURL, username)
				if err != nil {
					return output.ErrUsage("login canceled")
				}
			default:
				return output.ErrUsageHint("No credentials provided",
					"Use --username with --password-stdin when not running in a terminal")
			}

			login := func() error { return app.Auth.Login(ctx, username, password) }
			if interactive {
				err = tui.Spin(app.Stderr, "Logging in...", "Logged in", login)
				if errors.Is(err, tui.ErrCanceled) {
					return output.ErrUsage("login canceled")
				}
			} else {
				err = login()
			}
			if err != nil {
				return err
			}

			return app.OK(map[string]string{
				"status":   "logged_in",
				"username": username,
				"origin":   app.Session.Origin(),
				"backend":  app.Session.BackendName(),
			},
				output.WithSummary(fmt.Sprintf("Logged in as %s", username)),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "groups",
					Cmd:         "egov groups",
					Description: "See which portal sections you can use",
				}),
			)
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Portal username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Long:  "Remove stored tokens and the refresh failure flag for the current origin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if err := app.Auth.Logout(cmd.Context()); err != nil {
				return err
			}

			return app.OK(map[string]string{
				"status": "logged_out",
			}, output.WithSummary("Successfully logged out"))
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Long:  "Display the stored session and what can be read from its tokens.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			creds, err := app.Session.Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			status := map[string]any{
				"authenticated":          creds.AccessToken != "",
				"origin":                 app.Session.Origin(),
				"backend":                app.Session.BackendName(),
				"has_refresh_token":      creds.HasRefreshToken(),
				"refresh_attempt_failed": creds.RefreshAttemptFailed,
			}
			if creds.AccessToken == "" {
				return app.OK(status, output.WithSummary("Not authenticated"))
			}

			summary := "Authenticated"
			if info, err := auth.Inspect(creds.AccessToken); err == nil {
				if info.UserID != "" {
					status["user_id"] = info.UserID
				}
				if !info.ExpiresAt.IsZero() {
					expiresIn := time.Until(info.ExpiresAt)
					status["expires_in"] = expiresIn.Round(time.Second).String()
					status["expired"] = info.Expired(time.Now())
					if info.Expired(time.Now()) {
						summary = "Authenticated (access token expired)"
					}
				}
			}
			if creds.RefreshAttemptFailed {
				summary = "Session expired"
			}

			return app.OK(status, output.WithSummary(summary))
		},
	}
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token",
		Long:  "Exchange the stored refresh token for a new access token now.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if _, err := app.Auth.Refresh(cmd.Context()); err != nil {
				var refreshErr *auth.RefreshError
				switch {
				case errors.Is(err, auth.ErrRefreshUnavailable):
					return output.ErrAuth("No usable refresh token")
				case errors.As(err, &refreshErr) && refreshErr.StatusCode != 0:
					return output.ErrSessionExpired(err)
				}
				return err
			}

			return app.OK(map[string]string{
				"status": "refreshed",
			}, output.WithSummary("Token refreshed successfully"))
		},
	}
}

func newAuthTokenCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the access token",
		Long: `Print the stored access token to stdout for use with other tools.

Examples:
  curl -H "Authorization: Bearer $(egov auth token)" ...
  egov auth token --refresh-token`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			creds, err := app.Session.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			token := creds.AccessToken
			if refresh {
				token = creds.RefreshToken
			}
			if token == "" {
				return output.ErrAuth("Not logged in")
			}

			// Raw output unless an envelope is explicitly requested.
			if app.Flags.JSON || app.Flags.YAML || app.Flags.JQ != "" {
				return app.OK(map[string]string{"token": token})
			}
			_, err = fmt.Fprintln(app.Stdout, token)
			return err
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh-token", false, "Print the refresh token instead")

	return cmd
}
