package commands

import (
	"github.com/spf13/cobra"

	"github.com/digitalsociety/egov-cli/internal/output"
)

// CommandInfo describes a CLI command.
type CommandInfo struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Actions     []string `json:"actions,omitempty"`
}

// CommandCategory groups commands by category.
type CommandCategory struct {
	Name     string        `json:"name"`
	Commands []CommandInfo `json:"commands"`
}

// commandCategories returns all command categories for the catalog.
func commandCategories() []CommandCategory {
	return []CommandCategory{
		{
			Name: "Citizen",
			Commands: []CommandInfo{
				{Name: "documents", Category: "citizen", Description: "Show your civil record and documents"},
				{Name: "notifications", Category: "citizen", Description: "List your notifications"},
				{Name: "groups", Category: "citizen", Description: "Show your portal groups"},
				{Name: "me", Category: "citizen", Description: "Show the signed-in account"},
				{Name: "profile", Category: "citizen", Description: "Manage your account", Actions: []string{"update", "password"}},
			},
		},
		{
			Name: "Town Hall",
			Commands: []CommandInfo{
				{Name: "forums", Category: "townhall", Description: "Browse forums", Actions: []string{"list", "show", "create"}},
				{Name: "posts", Category: "townhall", Description: "Read and write posts", Actions: []string{"list", "show", "create", "like", "delete"}},
				{Name: "comments", Category: "townhall", Description: "Read and write comments", Actions: []string{"list", "create", "like", "delete"}},
			},
		},
		{
			Name: "Inspection",
			Commands: []CommandInfo{
				{Name: "requests", Category: "inspection", Description: "Review citizen requests", Actions: []string{"renewals", "registrations"}},
			},
		},
		{
			Name: "Auth & Config",
			Commands: []CommandInfo{
				{Name: "auth", Category: "auth", Description: "Authenticate with the portal", Actions: []string{"login", "logout", "status", "refresh", "token"}},
				{Name: "config", Category: "auth", Description: "Manage configuration", Actions: []string{"show", "set", "unset", "path"}},
			},
		},
		{
			Name: "Additional Commands",
			Commands: []CommandInfo{
				{Name: "commands", Category: "additional", Description: "List all commands"},
				{Name: "completion", Category: "additional", Description: "Generate shell completions", Actions: []string{"bash", "zsh", "fish", "powershell"}},
				{Name: "api", Category: "additional", Description: "Raw API access", Actions: []string{"get", "post", "delete"}},
				{Name: "help", Category: "additional", Description: "Show help"},
				{Name: "version", Category: "additional", Description: "Show version"},
			},
		},
	}
}

// CatalogCommandNames returns all command names from the catalog.
// Used by tests to verify catalog matches registered commands.
func CatalogCommandNames() []string {
	categories := commandCategories()
	total := 0
	for _, cat := range categories {
		total += len(cat.Commands)
	}
	names := make([]string, 0, total)
	for _, cat := range categories {
		for _, cmd := range cat.Commands {
			names = append(names, cmd.Name)
		}
	}
	return names
}

// NewCommandsCmd creates the commands listing command.
func NewCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "commands",
		Aliases: []string{"cmds"},
		Short:   "List all available commands",
		Long:    "List all available egov commands organized by category.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			return app.OK(commandCategories(),
				output.WithSummary("All available egov commands"),
				output.WithBreadcrumbs(
					output.Breadcrumb{
						Action:      "help",
						Cmd:         "egov --help",
						Description: "View help",
					},
				),
			)
		},
	}
}

// All returns every top-level command, in help order.
func All() []*cobra.Command {
	return []*cobra.Command{
		NewAuthCmd(),
		NewDocumentsCmd(),
		NewNotificationsCmd(),
		NewGroupsCmd(),
		NewMeCmd(),
		NewProfileCmd(),
		NewForumsCmd(),
		NewPostsCmd(),
		NewCommentsCmd(),
		NewRequestsCmd(),
		NewAPICmd(),
		NewConfigCmd(),
		NewCommandsCmd(),
		NewCompletionCmd(),
		NewVersionCmd(),
	}
}
