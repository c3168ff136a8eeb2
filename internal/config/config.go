// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultBaseURL is the portal API origin used when nothing else is configured.
const DefaultBaseURL = "http://127.0.0.1:8080"

// Config holds the resolved configuration.
type Config struct {
	// API settings
	BaseURL   string `json:"base_url"`
	CSRFToken string `json:"csrf_token,omitempty"`

	// Credential storage
	CredentialBackend string `json:"credential_backend"`
	CredentialsDir    string `json:"credentials_dir"`
	RedisURL          string `json:"redis_url,omitempty"`
	NoKeyring         bool   `json:"no_keyring,omitempty"`

	// Output settings
	Format string `json:"format"`

	// Behavior preferences (overridable by flags)
	Debug   bool  `json:"debug,omitempty"`
	Stats   *bool `json:"stats,omitempty"`
	Verbose *int  `json:"verbose,omitempty"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `json:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceDotenv  Source = "dotenv"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// Environment variable names.
const (
	EnvBaseURL           = "EGOV_BASE_URL"
	EnvCredentialBackend = "EGOV_CREDENTIAL_BACKEND"
	EnvRedisURL          = "EGOV_REDIS_URL"
	EnvCSRFToken         = "EGOV_CSRF_TOKEN"
	EnvFormat            = "EGOV_FORMAT"
	EnvDebug             = "EGOV_DEBUG"
	EnvNoKeyring         = "EGOV_NO_KEYRING"
	EnvStats             = "EGOV_STATS"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	Host      string
	Backend   string
	CSRFToken string
	Format    string
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		BaseURL:           DefaultBaseURL,
		CredentialBackend: "auto",
		CredentialsDir:    GlobalConfigDir(),
		Format:            "auto",
		Sources:           make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > .env > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, systemConfigPath(), SourceSystem)
	loadFromFile(cfg, globalConfigPath(), SourceGlobal)

	if err := loadDotenv(cfg, ".env"); err != nil {
		return nil, err
	}

	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	cfg.BaseURL = NormalizeBaseURL(cfg.BaseURL)
	return cfg, nil
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fileCfg map[string]any
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	setString := func(key string, dst *string) {
		if v, ok := fileCfg[key].(string); ok && v != "" {
			*dst = v
			cfg.Sources[key] = string(source)
		}
	}
	setString("base_url", &cfg.BaseURL)
	setString("csrf_token", &cfg.CSRFToken)
	setString("credential_backend", &cfg.CredentialBackend)
	setString("credentials_dir", &cfg.CredentialsDir)
	setString("redis_url", &cfg.RedisURL)
	setString("format", &cfg.Format)

	if v, ok := fileCfg["no_keyring"].(bool); ok {
		cfg.NoKeyring = v
		cfg.Sources["no_keyring"] = string(source)
	}
	if v, ok := fileCfg["debug"].(bool); ok {
		cfg.Debug = v
		cfg.Sources["debug"] = string(source)
	}
	if v, ok := fileCfg["stats"].(bool); ok {
		cfg.Stats = &v
		cfg.Sources["stats"] = string(source)
	}
	if fv, ok := fileCfg["verbose"].(float64); ok {
		iv := int(fv)
		if iv >= 0 && iv <= 2 && fv == float64(iv) {
			cfg.Verbose = &iv
			cfg.Sources["verbose"] = string(source)
		}
	}
}

// loadDotenv applies EGOV_* entries from a .env file without touching the
// process environment. The file lives in the working directory, so authority
// keys (base URL and redis URL, which decide where tokens are sent) are not
// accepted from it.
func loadDotenv(cfg *Config, path string) error {
	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for _, key := range []string{EnvBaseURL, EnvRedisURL} {
		if v := vars[key]; v != "" {
			fmt.Fprintf(os.Stderr, "warning: ignoring %s from %s (authority keys are not trusted from .env)\n", key, path)
			delete(vars, key)
		}
	}

	applyVars(cfg, func(k string) string { return vars[k] }, SourceDotenv)
	return nil
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	applyVars(cfg, os.Getenv, SourceEnv)
}

func applyVars(cfg *Config, get func(string) string, source Source) {
	setString := func(env, key string, dst *string) {
		if v := get(env); v != "" {
			*dst = v
			cfg.Sources[key] = string(source)
		}
	}
	setString(EnvBaseURL, "base_url", &cfg.BaseURL)
	setString(EnvCredentialBackend, "credential_backend", &cfg.CredentialBackend)
	setString(EnvRedisURL, "redis_url", &cfg.RedisURL)
	setString(EnvCSRFToken, "csrf_token", &cfg.CSRFToken)
	setString(EnvFormat, "format", &cfg.Format)

	if b, ok := parseEnvBool(get(EnvDebug)); ok {
		cfg.Debug = b
		cfg.Sources["debug"] = string(source)
	}
	if b, ok := parseEnvBool(get(EnvNoKeyring)); ok {
		cfg.NoKeyring = b
		cfg.Sources["no_keyring"] = string(source)
	}
	if b, ok := parseEnvBool(get(EnvStats)); ok {
		cfg.Stats = &b
		cfg.Sources["stats"] = string(source)
	}
}

// parseEnvBool parses a boolean environment variable strictly.
// Returns (value, true) for recognized values, (false, false) for unrecognized.
// Unrecognized values are ignored to preserve three-state pointer semantics.
func parseEnvBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}

// ApplyOverrides applies command-line flag overrides.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.Host != "" {
		cfg.BaseURL = NormalizeHost(o.Host)
		cfg.Sources["base_url"] = string(SourceFlag)
	}
	if o.Backend != "" {
		cfg.CredentialBackend = o.Backend
		cfg.Sources["credential_backend"] = string(SourceFlag)
	}
	if o.CSRFToken != "" {
		cfg.CSRFToken = o.CSRFToken
		cfg.Sources["csrf_token"] = string(SourceFlag)
	}
	if o.Format != "" {
		cfg.Format = o.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
}

// Source returns where key was set, or "default".
func (c *Config) Source(key string) string {
	if s, ok := c.Sources[key]; ok {
		return s
	}
	return string(SourceDefault)
}

func systemConfigPath() string {
	return "/etc/egov/config.json"
}

func globalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.json")
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "egov")
}

// NormalizeBaseURL ensures consistent URL format (no trailing slash).
func NormalizeBaseURL(url string) string {
	return strings.TrimSuffix(url, "/")
}

// NormalizeHost converts a --host value to a full URL.
// Bare loopback hosts default to http://, other bare hosts to https://.
func NormalizeHost(host string) string {
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return NormalizeBaseURL(host)
	}
	if IsLocalhost(host) {
		return "http://" + NormalizeBaseURL(host)
	}
	return "https://" + NormalizeBaseURL(host)
}

// IsLocalhost reports whether host is localhost, a .localhost subdomain,
// 127.0.0.1 or [::1], with an optional port.
func IsLocalhost(host string) bool {
	hostWithoutPort := host
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		if !strings.HasPrefix(host, "[") || strings.HasPrefix(host, "[::1]:") {
			hostWithoutPort = host[:idx]
		}
	}

	switch {
	case hostWithoutPort == "localhost", strings.HasSuffix(hostWithoutPort, ".localhost"):
		return true
	case hostWithoutPort == "127.0.0.1", hostWithoutPort == "[::1]":
		return true
	}
	return false
}
