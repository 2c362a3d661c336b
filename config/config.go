// Package config loads dbgctl settings from defaults, an optional config
// file and DBGCTL_* environment variables. Command-line flags are applied on
// top by the caller through Overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/xhit/go-str2duration/v2"

	"github.com/localrivet/dbgctl/client"
)

const (
	EnvPrefix  = "DBGCTL_"
	EnvConfig  = "DBGCTL_CONFIG"
	appName    = "dbgctl"
	infinities = "infinite,infinity,inf,none,never"
)

// Reconnect backoff policies.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// Keys understood in config files, DBGCTL_* variables and overrides.
const (
	KeyServerURL         = "server-url"
	KeyAPIKey            = "api-key"
	KeyAPIKeyHeader      = "api-key-header"
	KeyUserID            = "user-id"
	KeySSEPath           = "sse-path"
	KeyHealthPath        = "health-path"
	KeyHeaders           = "headers"
	KeyRequestTimeout    = "request-timeout"
	KeyToolTimeout       = "tool-timeout"
	KeyAnalyzeTimeout    = "analyze-timeout"
	KeyReconnectAttempts = "reconnect-attempts"
	KeyReconnectDelay    = "reconnect-delay"
	KeyReconnectMaxDelay = "reconnect-max-delay"
	KeyReconnectBackoff  = "reconnect-backoff"
	KeyStateDB           = "state-db"
	KeyLogLevel          = "log-level"
)

// fileConfig mirrors the on-disk and environment representation.
type fileConfig struct {
	ServerURL         string            `koanf:"server-url"`
	APIKey            string            `koanf:"api-key"`
	APIKeyHeader      string            `koanf:"api-key-header"`
	UserID            string            `koanf:"user-id"`
	SSEPath           string            `koanf:"sse-path"`
	HealthPath        string            `koanf:"health-path"`
	Headers           map[string]string `koanf:"headers"`
	RequestTimeout    string            `koanf:"request-timeout"`
	ToolTimeout       string            `koanf:"tool-timeout"`
	AnalyzeTimeout    string            `koanf:"analyze-timeout"`
	ReconnectAttempts int               `koanf:"reconnect-attempts"`
	ReconnectDelay    string            `koanf:"reconnect-delay"`
	ReconnectMaxDelay string            `koanf:"reconnect-max-delay"`
	ReconnectBackoff  string            `koanf:"reconnect-backoff"`
	StateDB           string            `koanf:"state-db"`
	LogLevel          string            `koanf:"log-level"`
}

// Config is the resolved configuration.
type Config struct {
	ServerURL         string
	APIKey            string
	APIKeyHeader      string
	UserID            string
	SSEPath           string
	HealthPath        string
	Headers           map[string]string
	RequestTimeout    time.Duration
	ToolTimeout       time.Duration
	AnalyzeTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	// ReconnectBackoff is "constant" or "exponential".
	ReconnectBackoff string
	StateDB          string
	LogLevel         string

	// File is the config file that was read, if any.
	File string
}

// Options control where Load looks.
type Options struct {
	// Path is an explicit config file. When empty, DBGCTL_CONFIG is consulted
	// and then SearchPaths.
	Path string
	// SearchPaths are directories searched for dbgctl.{yaml,yml,json}.
	// Nil means the working directory followed by ~/.config/dbgctl.
	SearchPaths []string
	// Overrides take precedence over every other source.
	Overrides map[string]interface{}
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		KeyAPIKeyHeader:      client.DefaultAPIKeyHeader,
		KeySSEPath:           client.DefaultSSEPath,
		KeyHealthPath:        client.DefaultHealthPath,
		KeyRequestTimeout:    client.DefaultRequestTimeout.String(),
		KeyToolTimeout:       client.DefaultToolResponseTimeout.String(),
		KeyAnalyzeTimeout:    client.DefaultAnalyzeTimeout.String(),
		KeyReconnectAttempts: 3,
		KeyReconnectDelay:    "2s",
		KeyReconnectMaxDelay: "30s",
		KeyReconnectBackoff:  BackoffConstant,
		KeyLogLevel:          "info",
	}
}

// Load resolves the configuration. Sources, lowest priority first: defaults,
// config file, environment, overrides.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	path := opts.Path
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("expand config path %s: %w", path, err)
		}
		if err := loadFile(k, expanded); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", expanded, err)
		}
		path = expanded
	} else {
		found, err := searchConfig(k, opts.SearchPaths)
		if err != nil {
			return nil, err
		}
		path = found
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, "", func(key, value string) (string, interface{}) {
		if key == EnvConfig || key == EnvPrefix+"HEADERS" {
			return "", nil
		}
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, EnvPrefix), "_", "-")), value
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	for key, value := range opts.Overrides {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	var raw fileConfig
	if err := k.Unmarshal("", &raw); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg, err := resolve(raw)
	if err != nil {
		return nil, err
	}
	cfg.File = path
	return cfg, nil
}

func resolve(raw fileConfig) (*Config, error) {
	cfg := &Config{
		ServerURL:         strings.TrimRight(raw.ServerURL, "/"),
		APIKey:            raw.APIKey,
		APIKeyHeader:      raw.APIKeyHeader,
		UserID:            raw.UserID,
		SSEPath:           raw.SSEPath,
		HealthPath:        raw.HealthPath,
		Headers:           raw.Headers,
		ReconnectBackoff:  strings.ToLower(strings.TrimSpace(raw.ReconnectBackoff)),
		ReconnectAttempts: raw.ReconnectAttempts,
		LogLevel:          raw.LogLevel,
	}

	var err error
	if cfg.ToolTimeout, err = ParseTimeout(raw.ToolTimeout); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyToolTimeout, err)
	}
	if cfg.AnalyzeTimeout, err = ParseTimeout(raw.AnalyzeTimeout); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyAnalyzeTimeout, err)
	}
	if cfg.ReconnectDelay, err = str2duration.ParseDuration(raw.ReconnectDelay); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyReconnectDelay, err)
	}
	if cfg.ReconnectMaxDelay, err = str2duration.ParseDuration(raw.ReconnectMaxDelay); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyReconnectMaxDelay, err)
	}
	if cfg.RequestTimeout, err = str2duration.ParseDuration(raw.RequestTimeout); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyRequestTimeout, err)
	}
	switch cfg.ReconnectBackoff {
	case BackoffConstant, BackoffExponential:
	default:
		return nil, fmt.Errorf("%s must be %q or %q, got %q", KeyReconnectBackoff, BackoffConstant, BackoffExponential, raw.ReconnectBackoff)
	}
	if cfg.ReconnectAttempts < 1 {
		return nil, fmt.Errorf("%s must be at least 1, got %d", KeyReconnectAttempts, cfg.ReconnectAttempts)
	}

	cfg.StateDB = raw.StateDB
	if cfg.StateDB == "" {
		if cfg.StateDB, err = DefaultStatePath(); err != nil {
			return nil, err
		}
	} else if cfg.StateDB, err = homedir.Expand(cfg.StateDB); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyStateDB, err)
	}
	return cfg, nil
}

// ParseTimeout parses a timeout such as "90s" or "1d2h". "infinite" (and its
// synonyms) yields client.InfiniteTimeout; an empty string yields 0, which the
// client treats as its default.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	for _, word := range strings.Split(infinities, ",") {
		if strings.EqualFold(s, word) {
			return client.InfiniteTimeout, nil
		}
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	return d, nil
}

// FormatTimeout is the inverse of ParseTimeout.
func FormatTimeout(d time.Duration) string {
	if d == client.InfiniteTimeout {
		return "infinite"
	}
	return str2duration.String(d)
}

// DefaultStatePath is ~/.config/dbgctl/state.db, or the platform equivalent.
func DefaultStatePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := homedir.Dir()
		if herr != nil {
			return "", fmt.Errorf("locate config directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, appName, "state.db"), nil
}

func searchConfig(k *koanf.Koanf, searchPaths []string) (string, error) {
	if searchPaths == nil {
		if cwd, err := os.Getwd(); err == nil {
			searchPaths = append(searchPaths, cwd)
		}
		if home, err := homedir.Dir(); err == nil {
			searchPaths = append(searchPaths, filepath.Join(home, ".config", appName))
		}
	}

	names := []string{appName + ".yaml", appName + ".yml", appName + ".json"}
	for _, dir := range searchPaths {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := loadFile(k, path); err != nil {
				return "", fmt.Errorf("error reading config file %s: %w", path, err)
			}
			return path, nil
		}
	}
	return "", nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch filepath.Ext(path) {
	case ".json":
		parser = json.Parser()
	default:
		parser = yaml.Parser()
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		if filepath.Ext(path) == "" {
			if err := k.Load(file.Provider(path), json.Parser()); err != nil {
				return fmt.Errorf("config file must be JSON or YAML: %w", err)
			}
			return nil
		}
		return err
	}
	return nil
}
