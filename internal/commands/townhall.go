package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/digitalsociety/egov-cli/internal/appctx"
	"github.com/digitalsociety/egov-cli/internal/output"
	"github.com/digitalsociety/egov-cli/internal/tui"
)

// NewForumsCmd creates the forums command group.
func NewForumsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forums",
		Short: "Browse Town Hall forums",
		Long:  "List and view Town Hall forums. Representatives can create forums for their region.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForumsList(cmd)
		},
	}
	cmd.AddCommand(newForumsListCmd(), newForumsShowCmd(), newForumsCreateCmd())
	return cmd
}

func newForumsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List forums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForumsList(cmd)
		},
	}
}

func runForumsList(cmd *cobra.Command) error {
	app, err := requireApp(cmd)
	if err != nil {
		return err
	}
	forums, err := app.API.Forums(cmd.Context())
	if err != nil {
		return err
	}
	return app.OK(forums,
		output.WithSummary(fmt.Sprintf("%d forum(s)", len(forums))),
		output.WithBreadcrumbs(output.Breadcrumb{
			Action:      "posts",
			Cmd:         "egov posts list <forum-id>",
			Description: "List a forum's posts",
		}),
	)
}

func newForumsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a forum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "forum")
			if err != nil {
				return err
			}
			forum, err := app.API.Forum(cmd.Context(), id)
			if err != nil {
				return err
			}
			return app.OK(forum, output.WithSummary(forum.Title))
		},
	}
}

func newForumsCreateCmd() *cobra.Command {
	var title, region string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a forum (Reps only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			if title == "" {
				return output.ErrUsage("--title is required")
			}
			msg, err := app.API.CreateForum(cmd.Context(), title, region)
			if err != nil {
				return err
			}
			return app.OK(map[string]string{"title": title, "region": region},
				output.WithSummary(messageSummary(msg, "Forum created")))
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Forum title")
	cmd.Flags().StringVarP(&region, "region", "r", "nation", `Region the forum belongs to ("nation" for everyone)`)
	return cmd
}

// NewPostsCmd creates the posts command group.
func NewPostsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Read and write Town Hall posts",
	}
	cmd.AddCommand(
		newPostsListCmd(),
		newPostsShowCmd(),
		newPostsCreateCmd(),
		newPostsLikeCmd(),
		newPostsDeleteCmd(),
	)
	return cmd
}

func newPostsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [forum-id]",
		Short: "List a forum's posts",
		Long:  "List a forum's posts. Without a forum ID you pick one in a terminal.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			forum := ""
			if len(args) > 0 {
				forum = args[0]
			}
			forumID, err := resolveForum(cmd.Context(), app, forum)
			if err != nil {
				return err
			}
			posts, err := app.API.Posts(cmd.Context(), forumID)
			if err != nil {
				return err
			}
			return app.OK(posts, output.WithSummary(fmt.Sprintf("%d post(s)", len(posts))))
		},
	}
}

func newPostsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "post")
			if err != nil {
				return err
			}
			post, err := app.API.GetPost(cmd.Context(), id)
			if err != nil {
				return err
			}
			return app.OK(post,
				output.WithSummary(post.Title),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "comments",
					Cmd:         fmt.Sprintf("egov comments list %d", post.ID),
					Description: "Read the comments",
				}),
			)
		},
	}
}

func newPostsCreateCmd() *cobra.Command {
	var forum, title, content string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Publish a post",
		Long:  `Publish a post in a forum. --content "-" reads the body from stdin.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			forumID, err := resolveForum(cmd.Context(), app, forum)
			if err != nil {
				return err
			}
			if title == "" {
				return output.ErrUsage("--title is required")
			}
			if content, err = promptContent(app, content, "Post content"); err != nil {
				return err
			}

			msg, err := app.API.CreatePost(cmd.Context(), forumID, title, content)
			if err != nil {
				return err
			}
			return app.OK(map[string]any{"forum": forumID, "title": title},
				output.WithSummary(messageSummary(msg, "Post created")),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "list",
					Cmd:         fmt.Sprintf("egov posts list %d", forumID),
					Description: "See the forum's posts",
				}),
			)
		},
	}

	cmd.Flags().StringVarP(&forum, "forum", "f", "", "Forum ID")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Post title")
	cmd.Flags().StringVarP(&content, "content", "c", "", "Post body")
	return cmd
}

func newPostsLikeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "like <id>",
		Short: "Like or unlike a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "post")
			if err != nil {
				return err
			}
			msg, err := app.API.LikePost(cmd.Context(), id)
			if err != nil {
				return err
			}
			return app.OK(map[string]int64{"id": id}, output.WithSummary(messageSummary(msg, "Post likes updated")))
		},
	}
}

func newPostsDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of your posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "post")
			if err != nil {
				return err
			}
			if err := confirmDelete(app, force, fmt.Sprintf("Delete post %d?", id)); err != nil {
				return err
			}
			msg, err := app.API.DeletePost(cmd.Context(), id)
			if err != nil {
				return err
			}
			return app.OK(map[string]int64{"id": id}, output.WithSummary(messageSummary(msg, "Post deleted")))
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")
	return cmd
}

// NewCommentsCmd creates the comments command group.
func NewCommentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comments",
		Short: "Read and write comments on posts",
	}
	cmd.AddCommand(
		newCommentsListCmd(),
		newCommentsCreateCmd(),
		newCommentsLikeCmd(),
		newCommentsDeleteCmd(),
	)
	return cmd
}

func newCommentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <post-id>",
		Short: "List a post's comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			postID, err := parseID(args[0], "post")
			if err != nil {
				return err
			}
			comments, err := app.API.Comments(cmd.Context(), postID)
			if err != nil {
				return err
			}
			return app.OK(comments, output.WithSummary(fmt.Sprintf("%d comment(s)", len(comments))))
		},
	}
}

func newCommentsCreateCmd() *cobra.Command {
	var content string

	cmd := &cobra.Command{
		Use:   "create <post-id>",
		Short: "Comment on a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			postID, err := parseID(args[0], "post")
			if err != nil {
				return err
			}
			if content, err = promptContent(app, content, "Comment"); err != nil {
				return err
			}
			msg, err := app.API.CreateComment(cmd.Context(), postID, content)
			if err != nil {
				return err
			}
			return app.OK(map[string]int64{"post": postID}, output.WithSummary(messageSummary(msg, "Comment created")))
		},
	}

	cmd.Flags().StringVarP(&content, "content", "c", "", `Comment text ("-" reads stdin)`)
	return cmd
}

func newCommentsLikeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "like <id>",
		Short: "Like or unlike a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "comment")
			if err != nil {
				return err
			}
			msg, err := app.API.LikeComment(cmd.Context(), id)
			if err != nil {
				return err
			}
			return app.OK(map[string]int64{"id": id}, output.WithSummary(messageSummary(msg, "Comment likes updated")))
		},
	}
}

func newCommentsDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of your comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "comment")
			if err != nil {
				return err
			}
			if err := confirmDelete(app, force, fmt.Sprintf("Delete comment %d?", id)); err != nil {
				return err
			}
			msg, err := app.API.DeleteComment(cmd.Context(), id)
			if err != nil {
				return err
			}
			return app.OK(map[string]int64{"id": id}, output.WithSummary(messageSummary(msg, "Comment deleted")))
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")
	return cmd
}

// resolveForum parses forum, or lets the user pick one in a terminal.
func resolveForum(ctx context.Context, app *appctx.App, forum string) (int64, error) {
	if forum != "" {
		return parseID(forum, "forum")
	}
	if !app.IsInteractive() {
		return 0, output.ErrUsage("--forum is required")
	}

	item, err := tui.PickWithLoader("Select a forum", func() ([]tui.PickerItem, error) {
		forums, err := app.API.Forums(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]tui.PickerItem, 0, len(forums))
		for _, f := range forums {
			items = append(items, tui.PickerItem{
				ID:          strconv.FormatInt(f.ID, 10),
				Title:       f.Title,
				Description: f.Region,
			})
		}
		return items, nil
	})
	if err != nil {
		return 0, err
	}
	if item == nil {
		return 0, output.ErrUsage("canceled")
	}
	return parseID(item.ID, "forum")
}

// promptContent resolves a body from the flag value, stdin or an editor
// prompt, in that order.
func promptContent(app *appctx.App, content, title string) (string, error) {
	content, err := readValue(content)
	if err != nil {
		return "", err
	}
	if content == "" && app.IsInteractive() {
		if content, err = tui.TextArea(title, ""); err != nil {
			return "", output.ErrUsage("canceled")
		}
	}
	if content == "" {
		return "", output.ErrUsage("--content is required")
	}
	return content, nil
}

// confirmDelete asks before destructive actions in a terminal.
func confirmDelete(app *appctx.App, force bool, question string) error {
	if force || !app.IsInteractive() {
		return nil
	}
	ok, err := tui.Confirm(question, false)
	if err != nil || !ok {
		return output.ErrUsage("canceled")
	}
	return nil
}
