package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/digitalsociety/egov-cli/internal/appctx"
	"github.com/digitalsociety/egov-cli/internal/output"
)

// requestKind binds a review queue to its portal operations.
type requestKind struct {
	name   string // command name
	noun   string // for messages
	list   func(ctx context.Context, app *appctx.App) (any, int, error)
	accept func(ctx context.Context, app *appctx.App, id int64) (string, error)
	reject func(ctx context.Context, app *appctx.App, id int64, reason string) (string, error)
}

var requestKinds = []requestKind{
	{
		name: "renewals",
		noun: "renewal request",
		list: func(ctx context.Context, app *appctx.App) (any, int, error) {
			reqs, err := app.API.RenewalRequests(ctx)
			return reqs, len(reqs), err
		},
		accept: func(ctx context.Context, app *appctx.App, id int64) (string, error) {
			return app.API.AcceptRenewal(ctx, id)
		},
		reject: func(ctx context.Context, app *appctx.App, id int64, reason string) (string, error) {
			return app.API.RejectRenewal(ctx, id, reason)
		},
	},
	{
		name: "registrations",
		noun: "registration request",
		list: func(ctx context.Context, app *appctx.App) (any, int, error) {
			reqs, err := app.API.RegistrationRequests(ctx)
			return reqs, len(reqs), err
		},
		accept: func(ctx context.Context, app *appctx.App, id int64) (string, error) {
			return app.API.AcceptRegistration(ctx, id)
		},
		reject: func(ctx context.Context, app *appctx.App, id int64, reason string) (string, error) {
			return app.API.RejectRegistration(ctx, id, reason)
		},
	},
}

// NewRequestsCmd creates the requests command group.
func NewRequestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Review citizen requests (Inspectors only)",
		Long:  "List, accept and reject pending document renewal and registration requests.",
	}
	for _, kind := range requestKinds {
		cmd.AddCommand(newRequestKindCmd(kind))
	}
	return cmd
}

func newRequestKindCmd(kind requestKind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   kind.name,
		Short: fmt.Sprintf("Review %ss", kind.noun),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequestsList(cmd, kind)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: fmt.Sprintf("List pending %ss", kind.noun),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRequestsList(cmd, kind)
			},
		},
		&cobra.Command{
			Use:   "accept <id>",
			Short: fmt.Sprintf("Accept a %s", kind.noun),
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := requireApp(cmd)
				if err != nil {
					return err
				}
				id, err := parseID(args[0], "request")
				if err != nil {
					return err
				}
				msg, err := kind.accept(cmd.Context(), app, id)
				if err != nil {
					return err
				}
				return app.OK(map[string]any{"id": id, "status": "Approved"},
					output.WithSummary(messageSummary(msg, "Request accepted")))
			},
		},
		newRequestRejectCmd(kind),
	)
	return cmd
}

func newRequestRejectCmd(kind requestKind) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: fmt.Sprintf("Reject a %s", kind.noun),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "request")
			if err != nil {
				return err
			}
			if reason, err = readValue(reason); err != nil {
				return err
			}
			if reason == "" {
				return output.ErrUsage("--reason is required")
			}
			msg, err := kind.reject(cmd.Context(), app, id, reason)
			if err != nil {
				return err
			}
			return app.OK(map[string]any{"id": id, "status": "Rejected", "reason": reason},
				output.WithSummary(messageSummary(msg, "Request rejected")))
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", `Rejection reason shown to the citizen ("-" reads stdin)`)
	return cmd
}

func runRequestsList(cmd *cobra.Command, kind requestKind) error {
	app, err := requireApp(cmd)
	if err != nil {
		return err
	}
	reqs, n, err := kind.list(cmd.Context(), app)
	if err != nil {
		return err
	}
	return app.OK(reqs,
		output.WithSummary(fmt.Sprintf("%d pending %s(s)", n, kind.noun)),
		output.WithBreadcrumbs(
			output.Breadcrumb{
				Action:      "accept",
				Cmd:         fmt.Sprintf("egov requests %s accept <id>", kind.name),
				Description: "Accept a request",
			},
			output.Breadcrumb{
				Action:      "reject",
				Cmd:         fmt.Sprintf("egov requests %s reject <id> --reason <text>", kind.name),
				Description: "Reject a request",
			},
		),
	)
}
