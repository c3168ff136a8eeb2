package commands

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digitalsociety/egov-cli/internal/api"
	"github.com/digitalsociety/egov-cli/internal/appctx"
	"github.com/digitalsociety/egov-cli/internal/output"
)

// NewAPICmd creates the api command for raw API access.
func NewAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api <verb> <path>",
		Short: "Raw API access",
		Long: `Make raw requests to any portal endpoint. Requests go through the same
pipeline as every other command: they are authenticated, and an expired
access token is refreshed and the request replayed once.`,
	}

	cmd.AddCommand(
		newAPIGetCmd(),
		newAPIPostCmd(),
		newAPIDeleteCmd(),
	)

	return cmd
}

func newAPIGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "GET request to API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			path, err := parsePath(args[0], app.API.BaseURL())
			if err != nil {
				return err
			}

			resp, err := app.API.Get(cmd.Context(), path)
			if err != nil {
				return err
			}
			return apiOK(app, resp, apiSummary(resp.Data), apiBreadcrumbs(path)...)
		},
	}
}

func newAPIPostCmd() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "post <path>",
		Short: "POST request to API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			path, err := parsePath(args[0], app.API.BaseURL())
			if err != nil {
				return err
			}
			if data, err = readValue(data); err != nil {
				return err
			}

			var body any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &body); err != nil {
					return output.ErrUsageHint(
						"Invalid JSON data",
						fmt.Sprintf("JSON parse error: %v", err),
					)
				}
			}

			resp, err := app.API.Post(cmd.Context(), path, body)
			if err != nil {
				return err
			}
			return apiOK(app, resp, fmt.Sprintf("POST %s: %s", path, apiSummary(resp.Data)))
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", `JSON request body ("-" reads stdin)`)

	return cmd
}

func newAPIDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path>",
		Short: "DELETE request to API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			path, err := parsePath(args[0], app.API.BaseURL())
			if err != nil {
				return err
			}

			resp, err := app.API.Delete(cmd.Context(), path)
			if err != nil {
				return err
			}
			return apiOK(app, resp, fmt.Sprintf("DELETE %s", path))
		},
	}
}

func apiOK(app *appctx.App, resp *api.Response, summary string, crumbs ...output.Breadcrumb) error {
	var data any = map[string]any{}
	if len(resp.Data) > 0 {
		data = resp.Data
	}
	return app.OK(data,
		output.WithSummary(summary),
		output.WithBreadcrumbs(crumbs...),
	)
}

// parsePath normalizes a path or a URL on the configured origin. URLs on
// other hosts are refused so the bearer token never leaves the portal.
func parsePath(input, baseURL string) (string, error) {
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		u, err := url.Parse(input)
		if err != nil {
			return "", output.ErrUsage("Invalid URL: " + input)
		}
		base, err := url.Parse(baseURL)
		if err != nil || !strings.EqualFold(u.Host, base.Host) {
			return "", output.ErrUsageHint("URL is not on the configured portal",
				"Use --host to talk to another portal")
		}
		input = u.RequestURI()
	}

	if !strings.HasPrefix(input, "/") {
		input = "/" + input
	}
	return input, nil
}

// apiSummary generates a summary from the API response.
func apiSummary(data []byte) string {
	var arr []any
	if err := json.Unmarshal(data, &arr); err == nil {
		return fmt.Sprintf("%d items", len(arr))
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return "API response"
	}

	for _, key := range []string{"message", "title", "username"} {
		if v, ok := obj[key].(string); ok && v != "" {
			if len(v) > 50 {
				v = v[:47] + "..."
			}
			return v
		}
	}
	return "API response"
}

var (
	postsPathPattern    = regexp.MustCompile(`^/api/get_posts/(\d+)/`)
	commentsPathPattern = regexp.MustCompile(`^/api/get_comments/(\d+)/`)
)

// apiBreadcrumbs points from raw paths to the dedicated commands.
func apiBreadcrumbs(path string) []output.Breadcrumb {
	switch {
	case strings.HasPrefix(path, api.PathForums):
		return []output.Breadcrumb{{Action: "list", Cmd: "egov forums", Description: "List forums with formatting"}}
	case strings.HasPrefix(path, api.PathRenewalRequests):
		return []output.Breadcrumb{{Action: "list", Cmd: "egov requests renewals", Description: "Review renewal requests"}}
	case strings.HasPrefix(path, api.PathRegistrationRequests):
		return []output.Breadcrumb{{Action: "list", Cmd: "egov requests registrations", Description: "Review registration requests"}}
	}
	if m := postsPathPattern.FindStringSubmatch(path); m != nil {
		return []output.Breadcrumb{{Action: "list", Cmd: "egov posts list " + m[1], Description: "List posts with formatting"}}
	}
	if m := commentsPathPattern.FindStringSubmatch(path); m != nil {
		return []output.Breadcrumb{{Action: "list", Cmd: "egov comments list " + m[1], Description: "List comments with formatting"}}
	}
	return nil
}
