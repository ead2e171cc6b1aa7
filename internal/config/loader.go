package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tracetap/internal/sink"
	"github.com/mattjoyce/tracetap/internal/source"
)

const (
	EnvConfig      = "TRACETAP_CONFIG"
	EnvChannelKind = "TRACETAP_CHANNEL_KIND"
	EnvLogLevel    = "TRACETAP_LOG_LEVEL"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Discover returns the config file to use: $TRACETAP_CONFIG, then
// ~/.config/tracetap/config.yaml. It returns "" when neither exists.
func Discover() (string, error) {
	if path := os.Getenv(EnvConfig); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%s points to %s: %w", EnvConfig, path, err)
		}
		return path, nil
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "tracetap", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	return "", nil
}

// LoadDefault discovers and loads the config file, falling back to built-in
// defaults when none exists. Env overrides are applied either way.
func LoadDefault() (*Config, error) {
	path, err := Discover()
	if err != nil {
		return nil, err
	}
	if path == "" {
		cfg := Defaults()
		applyEnvOverrides(cfg)
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// Load reads, interpolates, defaults, overrides and validates a config file.
// A directory is accepted when it contains config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := verifyChecksums(absPath); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourceFile = absPath

	cfg = applyConfigDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Channel.Kind == "" {
		cfg.Channel.Kind = defaults.Channel.Kind
	}
	if cfg.Channel.ID == "" {
		cfg.Channel.ID = defaults.Channel.ID
	}
	if cfg.Channel.Path == "" {
		cfg.Channel.Path = defaults.Channel.Path
	}

	if cfg.Workspace.SweepAfter == 0 {
		cfg.Workspace.SweepAfter = defaults.Workspace.SweepAfter
	}

	if cfg.Sink.Mode == "" {
		cfg.Sink.Mode = defaults.Sink.Mode
	}
	if cfg.Sink.Timestamp == "" {
		cfg.Sink.Timestamp = defaults.Sink.Timestamp
	}

	if cfg.Control.Listen == "" {
		cfg.Control.Listen = defaults.Control.Listen
	}

	return cfg
}

// applyEnvOverrides lets the environment win over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(source.EnvChannelID); v != "" {
		cfg.Channel.ID = v
	}
	if v := os.Getenv(source.EnvChannelPath); v != "" {
		cfg.Channel.Path = v
	}
	if v := os.Getenv(EnvChannelKind); v != "" {
		cfg.Channel.Kind = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Service.LogLevel = strings.ToLower(v)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Validate checks a config built or modified in code.
func Validate(cfg *Config) error {
	return validate(cfg)
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	switch cfg.Channel.Kind {
	case source.KindSpool, source.KindSQLite:
	default:
		return fmt.Errorf("channel.kind must be spool or sqlite (got %q)", cfg.Channel.Kind)
	}
	if strings.ContainsAny(cfg.Channel.ID, `/\`) || cfg.Channel.ID == "." || cfg.Channel.ID == ".." {
		return fmt.Errorf("channel.id must be a plain name (got %q)", cfg.Channel.ID)
	}
	if err := checkUnresolved("channel.path", cfg.Channel.Path); err != nil {
		return err
	}
	if err := checkUnresolved("workspace.base", cfg.Workspace.Base); err != nil {
		return err
	}
	if cfg.Workspace.SweepAfter < 0 {
		return fmt.Errorf("workspace.sweep_after must not be negative")
	}

	if _, err := sink.ParseMode(cfg.Sink.Mode); err != nil {
		return fmt.Errorf("sink.mode: %w", err)
	}
	if _, err := sink.ParseTimestampFormat(cfg.Sink.Timestamp); err != nil {
		return fmt.Errorf("sink.timestamp: %w", err)
	}

	for i, sub := range cfg.Subscriptions {
		if strings.TrimSpace(sub.Module) == "" {
			return fmt.Errorf("subscriptions[%d]: module is required", i)
		}
	}

	if cfg.Control.Enabled && cfg.Control.Listen == "" {
		return fmt.Errorf("control.listen is required when control is enabled")
	}
	if err := checkUnresolved("control.token", cfg.Control.Token); err != nil {
		return err
	}
	return nil
}

func checkUnresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
