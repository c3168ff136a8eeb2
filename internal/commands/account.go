package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/digitalsociety/egov-cli/internal/output"
	"github.com/digitalsociety/egov-cli/internal/tui"
)

// NewGroupsCmd creates the groups command.
func NewGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "Show your portal groups",
		Long:  "Show the groups of the signed-in user. Inspectors review requests; Reps manage forums.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			groups, err := app.API.UserGroups(cmd.Context())
			if err != nil {
				return err
			}

			summary := "No groups"
			if len(groups.Groups) > 0 {
				summary = fmt.Sprintf("Member of %d group(s)", len(groups.Groups))
			}
			return app.OK(groups, output.WithSummary(summary))
		},
	}
}

// NewNotificationsCmd creates the notifications command.
func NewNotificationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notes"},
		Short:   "List your notifications",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			notes, err := app.API.Notifications(cmd.Context())
			if err != nil {
				return err
			}
			return app.OK(notes, output.WithSummary(fmt.Sprintf("%d notification(s)", len(notes))))
		},
	}
}

// NewDocumentsCmd creates the documents command.
func NewDocumentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "Show your civil record and documents",
		Long:    "Show the citizen record, passport, license, properties, vehicles and addresses of the signed-in user.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			docs, err := app.API.Documents(cmd.Context())
			if err != nil {
				return err
			}

			summary := "Your documents"
			if docs.Citizen != nil {
				summary = fmt.Sprintf("Documents of %s %s (%s)", docs.Citizen.FirstName, docs.Citizen.LastName, docs.Citizen.NationalID)
			}
			return app.OK(docs, output.WithSummary(summary))
		},
	}
}

// NewMeCmd creates the me command.
func NewMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			user, err := app.API.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			return app.OK(user, output.WithSummary("Signed in as "+user.Username))
		},
	}
}

// NewProfileCmd creates the profile command group.
func NewProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage your account",
	}
	cmd.AddCommand(newProfileUpdateCmd(), newProfilePasswordCmd())
	return cmd
}

func newProfileUpdateCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change your username",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			if username == "" {
				return output.ErrUsage("--username is required")
			}

			msg, err := app.API.UpdateProfile(cmd.Context(), username)
			if err != nil {
				return err
			}
			return app.OK(map[string]string{"username": username},
				output.WithSummary(messageSummary(msg, "Profile updated")))
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "New username")
	return cmd
}

func newProfilePasswordCmd() *cobra.Command {
	var current, next string

	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change your password",
		Long: `Change your password. In a terminal you are prompted for both passwords;
otherwise pass --current and --new ("-" reads a value from stdin).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if current == "" && next == "" && app.IsInteractive() {
				if current, err = tui.InputRequired("Current password", ""); err != nil {
					return output.ErrUsage("canceled")
				}
				if next, err = tui.InputRequired("New password", ""); err != nil {
					return output.ErrUsage("canceled")
				}
			}
			if current, err = readValue(current); err != nil {
				return err
			}
			if next, err = readValue(next); err != nil {
				return err
			}
			if current == "" || next == "" {
				return output.ErrUsage("--current and --new are required")
			}

			msg, err := app.API.ChangePassword(cmd.Context(), current, next)
			if err != nil {
				return err
			}
			return app.OK(map[string]string{"status": "password_changed"},
				output.WithSummary(messageSummary(msg, "Password changed")))
		},
	}

	cmd.Flags().StringVar(&current, "current", "", "Current password")
	cmd.Flags().StringVar(&next, "new", "", "New password")
	return cmd
}
