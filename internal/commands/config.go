package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digitalsociety/egov-cli/internal/config"
	"github.com/digitalsociety/egov-cli/internal/output"
	"github.com/digitalsociety/egov-cli/internal/session"
)

// configKeys are the keys accepted by config set, with their kind.
var configKeys = map[string]string{
	"base_url":           "string",
	"csrf_token":         "string",
	"credential_backend": "backend",
	"credentials_dir":    "string",
	"redis_url":          "string",
	"format":             "format",
	"no_keyring":         "bool",
	"debug":              "bool",
	"stats":              "bool",
	"verbose":            "verbose",
}

// NewConfigCmd creates the config command for managing configuration.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage egov configuration.

Configuration is loaded from multiple sources with the following precedence:
  flags > env > .env > global > system > defaults

Config locations:
  - System: /etc/egov/config.json
  - Global: ~/.config/egov/config.json
  - .env:   ./.env (EGOV_* keys; base and redis URLs are not read from it)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetCmd(),
		newConfigUnsetCmd(),
		newConfigPathCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the current effective configuration with source information.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}
}

func runConfigShow(cmd *cobra.Command) error {
	app, err := requireApp(cmd)
	if err != nil {
		return err
	}
	cfg := app.Config

	csrf := ""
	if cfg.CSRFToken != "" {
		csrf = "(set)"
	}
	keys := []struct {
		key     string
		value   string
		include bool
	}{
		{"base_url", cfg.BaseURL, true},
		{"csrf_token", csrf, cfg.CSRFToken != ""},
		{"credential_backend", cfg.CredentialBackend, true},
		{"credentials_dir", cfg.CredentialsDir, cfg.CredentialsDir != ""},
		{"redis_url", redactURL(cfg.RedisURL), cfg.RedisURL != ""},
		{"format", cfg.Format, cfg.Format != ""},
		{"no_keyring", strconv.FormatBool(cfg.NoKeyring), cfg.NoKeyring},
		{"debug", strconv.FormatBool(cfg.Debug), cfg.Debug},
		{"stats", fmt.Sprintf("%t", cfg.Stats != nil && *cfg.Stats), cfg.Stats != nil},
		{"verbose", fmt.Sprintf("%d", derefInt(cfg.Verbose)), cfg.Verbose != nil},
	}

	configData := make(map[string]any)
	for _, k := range keys {
		if k.include {
			configData[k.key] = map[string]string{
				"value":  k.value,
				"source": cfg.Source(k.key),
			}
		}
	}

	return app.OK(configData,
		output.WithSummary("Effective configuration"),
		output.WithBreadcrumbs(
			output.Breadcrumb{
				Action:      "set",
				Cmd:         "egov config set <key> <value>",
				Description: "Set config value",
			},
		),
	)
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a value in the global config file.

Valid keys: base_url, csrf_token, credential_backend, credentials_dir, redis_url,
            format, no_keyring, debug, stats, verbose`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			key, value := args[0], args[1]

			kind, ok := configKeys[key]
			if !ok {
				names := make([]string, 0, len(configKeys))
				for k := range configKeys {
					names = append(names, k)
				}
				sort.Strings(names)
				return output.ErrUsage(fmt.Sprintf("Invalid config key %q. Valid keys: %s", key, strings.Join(names, ", ")))
			}

			parsed, err := parseConfigValue(key, kind, value)
			if err != nil {
				return err
			}

			configPath := filepath.Join(config.GlobalConfigDir(), "config.json")
			configData, err := readConfigFile(configPath)
			if err != nil {
				return err
			}
			configData[key] = parsed
			if err := writeConfigFile(configPath, configData); err != nil {
				return err
			}

			return app.OK(map[string]any{
				"key":    key,
				"value":  fmt.Sprint(parsed),
				"path":   configPath,
				"status": "set",
			},
				output.WithSummary(fmt.Sprintf("Set %s = %v", key, parsed)),
				output.WithBreadcrumbs(
					output.Breadcrumb{
						Action:      "show",
						Cmd:         "egov config show",
						Description: "View config",
					},
				),
			)
		},
	}
}

func parseConfigValue(key, kind, value string) (any, error) {
	switch kind {
	case "bool":
		b, ok := parseBoolFlag(value)
		if !ok {
			return nil, output.ErrUsage(fmt.Sprintf("%s must be true/false (or 1/0)", key))
		}
		return b, nil
	case "verbose":
		level, err := strconv.Atoi(value)
		if err != nil || level < 0 || level > 2 {
			return nil, output.ErrUsage("verbose must be 0, 1, or 2")
		}
		return level, nil
	case "format":
		if _, err := output.ParseFormat(value); err != nil {
			return nil, output.ErrUsage(err.Error())
		}
	case "backend":
		switch value {
		case session.BackendAuto, session.BackendKeyring, session.BackendFile, session.BackendRedis, session.BackendMemory:
		default:
			return nil, output.ErrUsage(fmt.Sprintf("unknown credential backend %q", value))
		}
	}
	if key == "base_url" {
		return config.NormalizeHost(value), nil
	}
	return value, nil
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Unset a configuration value",
		Long:  "Remove a value from the global config file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			key := args[0]

			configPath := filepath.Join(config.GlobalConfigDir(), "config.json")
			if _, err := os.Stat(configPath); err != nil {
				return app.OK(map[string]any{
					"key":    key,
					"status": "not_found",
				}, output.WithSummary(fmt.Sprintf("Config file not found: %s", configPath)))
			}

			configData, err := readConfigFile(configPath)
			if err != nil {
				return err
			}
			if _, exists := configData[key]; !exists {
				return app.OK(map[string]any{
					"key":    key,
					"status": "not_set",
				}, output.WithSummary(fmt.Sprintf("Key not set: %s", key)))
			}

			delete(configData, key)
			if err := writeConfigFile(configPath, configData); err != nil {
				return err
			}

			return app.OK(map[string]any{
				"key":    key,
				"status": "unset",
			}, output.WithSummary(fmt.Sprintf("Unset %s", key)))
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config and credential locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			return app.OK(map[string]string{
				"global_config": filepath.Join(config.GlobalConfigDir(), "config.json"),
				"system_config": "/etc/egov/config.json",
				"credentials":   app.Session.BackendName(),
			}, output.WithSummary("Configuration paths"))
		},
	}
}

func readConfigFile(path string) (map[string]any, error) {
	configData := make(map[string]any)
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config location
	if err != nil {
		if os.IsNotExist(err) {
			return configData, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	_ = json.Unmarshal(data, &configData) // start fresh if invalid
	return configData, nil
}

func writeConfigFile(path string, configData map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(configData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := atomicWriteFile(path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// redactURL hides the password of a connection URL.
func redactURL(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		if at := strings.LastIndex(raw, "@"); at > i {
			if colon := strings.Index(raw[i+3:at], ":"); colon >= 0 {
				return raw[:i+3+colon+1] + "xxxxx" + raw[at:]
			}
		}
	}
	return raw
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func parseBoolFlag(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// atomicWriteFile writes data to a file atomically using temp+rename.
// Files are always created with 0600 permissions (owner read/write only).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Windows: rename fails when the destination exists.
	if err := os.Rename(tmpPath, path); err != nil && runtime.GOOS == "windows" {
		_ = os.Remove(path)
		if err := os.Rename(tmpPath, path); err != nil {
			os.Remove(tmpPath)
			return err
		}
	} else if err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
