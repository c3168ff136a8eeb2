package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalsociety/egov-cli/internal/appctx"
	"github.com/digitalsociety/egov-cli/internal/auth"
	"github.com/digitalsociety/egov-cli/internal/commands"
	"github.com/digitalsociety/egov-cli/internal/config"
	"github.com/digitalsociety/egov-cli/internal/devserver"
	"github.com/digitalsociety/egov-cli/internal/output"
	"github.com/digitalsociety/egov-cli/internal/session"
)

func TestResolvePreferences(t *testing.T) {
	boolPtr := func(b bool) *bool { return &b }
	intPtr := func(i int) *int { return &i }

	tests := []struct {
		name        string
		cfg         *config.Config
		setFlags    map[string]string // flags to Set (marks Changed)
		flags       appctx.GlobalFlags
		wantStats   bool
		wantVerbose int
	}{
		{
			name: "nothing configured",
			cfg:  &config.Config{},
		},
		{
			name:      "config enables stats",
			cfg:       &config.Config{Stats: boolPtr(true)},
			wantStats: true,
		},
		{
			name:      "explicit --stats=false overrides config true",
			cfg:       &config.Config{Stats: boolPtr(true)},
			setFlags:  map[string]string{"stats": "false"},
			wantStats: false,
		},
		{
			name:        "config verbose overrides default",
			cfg:         &config.Config{Verbose: intPtr(2)},
			wantVerbose: 2,
		},
		{
			name:        "explicit --verbose overrides config",
			cfg:         &config.Config{Verbose: intPtr(2)},
			setFlags:    map[string]string{"verbose": "1"},
			flags:       appctx.GlobalFlags{Verbose: 1},
			wantVerbose: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			var stats bool
			var verbose int
			cmd.PersistentFlags().BoolVar(&stats, "stats", false, "")
			cmd.PersistentFlags().IntVar(&verbose, "verbose", 0, "")

			for f, v := range tt.setFlags {
				_ = cmd.PersistentFlags().Set(f, v)
			}

			got := resolvePreferences(cmd, tt.cfg, tt.flags)

			assert.Equal(t, tt.wantStats, got.Stats, "Stats")
			assert.Equal(t, tt.wantVerbose, got.Verbose, "Verbose")
		})
	}
}

func TestResolvePreferencesOnSubcommand(t *testing.T) {
	boolPtr := func(b bool) *bool { return &b }
	cfg := &config.Config{Stats: boolPtr(true)}

	resolve := func(args ...string) appctx.GlobalFlags {
		var flags, got appctx.GlobalFlags
		root := &cobra.Command{Use: "egov"}
		root.PersistentFlags().BoolVar(&flags.Stats, "stats", false, "")
		root.AddCommand(&cobra.Command{
			Use: "groups",
			RunE: func(cmd *cobra.Command, args []string) error {
				got = resolvePreferences(cmd, cfg, flags)
				return nil
			},
		})
		root.SetArgs(args)
		require.NoError(t, root.Execute())
		return got
	}

	assert.False(t, resolve("groups", "--stats=false").Stats)
	assert.True(t, resolve("groups").Stats)
}

func TestTransformCobraError(t *testing.T) {
	tests := []struct {
		in      string
		message string
		hint    string
	}{
		{"flag needs an argument: --jq", "--jq requires a value", ""},
		{"unknown flag: --colour", "Unknown option: --colour", ""},
		{"unknown shorthand flag: 'x' in -x", "Unknown option: -x", ""},
		{`unknown command "frobnicate" for "egov"`, `unknown command "frobnicate" for "egov"`, "Run: egov commands"},
		{`invalid argument "x" for "-v, --verbose" flag`, `invalid argument "x" for "-v, --verbose" flag`, ""},
		{"accepts 1 arg(s), received 0", "accepts 1 arg(s), received 0", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := transformCobraError(errors.New(tt.in))
			var e *output.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, output.CodeUsage, e.Code)
			assert.Equal(t, tt.message, e.Message)
			assert.Equal(t, tt.hint, e.Hint)
		})
	}

	plain := errors.New("something else")
	assert.Same(t, plain, transformCobraError(plain))
}

func TestSkipSetup(t *testing.T) {
	root := NewRootCmd()
	root.AddCommand(commands.All()...)
	root.InitDefaultHelpCmd()

	find := func(args ...string) *cobra.Command {
		cmd, _, err := root.Find(args)
		require.NoError(t, err)
		return cmd
	}

	assert.True(t, skipSetup(find("help")))
	assert.True(t, skipSetup(find("version")))
	assert.True(t, skipSetup(find("completion")))
	assert.True(t, skipSetup(find("completion", "zsh")))
	assert.False(t, skipSetup(find("auth", "login")))
	assert.False(t, skipSetup(find("forums")))
}

// testPortal points the CLI at a dev server with file-backed credentials in
// a temporary config directory.
func testPortal(t *testing.T) (*devserver.Server, string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	srv := devserver.New(devserver.Config{}, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	t.Setenv(config.EnvBaseURL, ts.URL)
	t.Setenv(config.EnvCredentialBackend, session.BackendFile)
	return srv, ts.URL
}

// loginOutOfBand stores a session the way a previous egov run would have.
func loginOutOfBand(t *testing.T, baseURL, username string) {
	t.Helper()
	sess := session.New(session.NewFileBackend(config.GlobalConfigDir()), baseURL)
	mgr := auth.NewManager(sess, baseURL, nil)
	require.NoError(t, mgr.Login(context.Background(), username, username+"-pass"))
}

func runCLI(t *testing.T, args ...string) (int, *bytes.Buffer) {
	t.Helper()
	root := NewRootCmd()
	root.AddCommand(commands.All()...)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	return run(context.Background(), root), &out
}

func TestRunSucceeds(t *testing.T) {
	_, baseURL := testPortal(t)
	loginOutOfBand(t, baseURL, "citizen")

	code, out := runCLI(t, "--json", "notifications")
	require.Equal(t, 0, code, out.String())

	var env struct {
		OK      bool   `json:"ok"`
		Summary string `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &env))
	assert.True(t, env.OK)
	assert.Equal(t, "1 notification(s)", env.Summary)
}

func TestRunRefreshesAcrossInvocations(t *testing.T) {
	srv, baseURL := testPortal(t)
	loginOutOfBand(t, baseURL, "citizen")
	srv.ExpireAccessTokens()

	code, out := runCLI(t, "--json", "groups")
	require.Equal(t, 0, code, out.String())
	assert.Equal(t, int64(1), srv.Stats().Refreshes)

	// The refreshed token was persisted for the next run.
	code, out = runCLI(t, "--json", "groups")
	require.Equal(t, 0, code, out.String())
	assert.Equal(t, int64(1), srv.Stats().Refreshes)
}

func TestRunSessionExpired(t *testing.T) {
	srv, baseURL := testPortal(t)
	loginOutOfBand(t, baseURL, "citizen")
	srv.ExpireAccessTokens()
	srv.RevokeRefreshTokens()

	code, out := runCLI(t, "--json", "documents")
	assert.Equal(t, output.ExitSessionExpired, code)

	var resp output.ErrorResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp), out.String())
	assert.False(t, resp.OK)
	assert.Equal(t, output.CodeSessionExpired, resp.Code)

	// The failure is remembered: the next run does not refresh again.
	code, _ = runCLI(t, "--json", "documents")
	assert.Equal(t, output.ExitAuth, code)
	assert.Equal(t, int64(1), srv.Stats().FailedRefreshes)
}

func TestRunWithRedisBackend(t *testing.T) {
	srv, baseURL := testPortal(t)
	mr := miniredis.RunT(t)
	redisURL := "redis://" + mr.Addr() + "/0"
	t.Setenv(config.EnvCredentialBackend, session.BackendRedis)
	t.Setenv(config.EnvRedisURL, redisURL)

	backend, err := session.DialRedis(redisURL)
	require.NoError(t, err)
	sess := session.New(backend, baseURL)
	require.NoError(t, auth.NewManager(sess, baseURL, nil).Login(context.Background(), "citizen", "citizen-pass"))
	require.NoError(t, sess.Close())
	srv.ExpireAccessTokens()

	code, out := runCLI(t, "--json", "groups")
	require.Equal(t, 0, code, out.String())
	assert.Equal(t, int64(1), srv.Stats().Refreshes)
	assert.NotEmpty(t, mr.HGet("egov:session:"+baseURL, session.KeyAccessToken))
}

func TestRunUsageErrors(t *testing.T) {
	testPortal(t)

	code, out := runCLI(t, "--json", "--colour")
	assert.Equal(t, output.ExitUsage, code)

	var resp output.ErrorResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp), out.String())
	assert.Equal(t, "Unknown option: --colour", resp.Error)

	code, _ = runCLI(t, "--json", "--jq", ".[", "groups")
	assert.Equal(t, output.ExitUsage, code)
}

func TestRunVersion(t *testing.T) {
	code, out := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "egov version")
}
