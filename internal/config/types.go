package config

import (
	"time"

	"github.com/mattjoyce/tracetap/internal/sink"
	"github.com/mattjoyce/tracetap/internal/source"
	"github.com/mattjoyce/tracetap/internal/subscription"
)

// Config represents the complete tracetap configuration.
type Config struct {
	Service       ServiceConfig        `yaml:"service"`
	Channel       ChannelConfig        `yaml:"channel"`
	Workspace     WorkspaceConfig      `yaml:"workspace"`
	Sink          SinkConfig           `yaml:"sink"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions,omitempty"`
	Control       ControlConfig        `yaml:"control"`

	// SourceFile is the file the config was loaded from, empty for defaults.
	SourceFile string `yaml:"-"`
}

// ServiceConfig defines process-level settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ChannelConfig selects the trace channel a client attaches to.
type ChannelConfig struct {
	Kind string `yaml:"kind"` // spool | sqlite
	ID   string `yaml:"id"`
	Path string `yaml:"path"`
}

// WorkspaceConfig controls client working directories.
type WorkspaceConfig struct {
	Base       string        `yaml:"base"`
	SweepAfter time.Duration `yaml:"sweep_after"`
}

// SinkConfig selects the text sink layout.
type SinkConfig struct {
	Mode      string `yaml:"mode"`      // abbreviated | verbose
	Timestamp string `yaml:"timestamp"` // short | full
}

// SubscriptionConfig is one EnableMessage call applied at startup, in file
// order.
type SubscriptionConfig struct {
	Module   string `yaml:"module"`
	Category string `yaml:"category,omitempty"`
	Enabled  *bool  `yaml:"enabled,omitempty"` // nil means true
}

// ControlConfig defines the local control HTTP server.
type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Token is an optional bearer token; supports ${VAR}.
	Token string `yaml:"token,omitempty"`
}

// Key returns the subscription key.
func (s SubscriptionConfig) Key() subscription.Key {
	return subscription.Key{Module: s.Module, Category: s.Category}
}

// IsEnabled reports the enable flag, defaulting to true.
func (s SubscriptionConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ChannelOptions converts the channel section into source options.
func (c *Config) ChannelOptions() source.Options {
	return source.Options{
		Kind:       c.Channel.Kind,
		Identifier: c.Channel.ID,
		BasePath:   c.Channel.Path,
	}
}

// Formatter converts the sink section into a text formatter.
func (c *Config) Formatter() (sink.Formatter, error) {
	mode, err := sink.ParseMode(c.Sink.Mode)
	if err != nil {
		return sink.Formatter{}, err
	}
	ts, err := sink.ParseTimestampFormat(c.Sink.Timestamp)
	if err != nil {
		return sink.Formatter{}, err
	}
	return sink.Formatter{Mode: mode, Timestamp: ts}, nil
}

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "tracetap",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Channel: ChannelConfig{
			Kind: source.KindSpool,
			ID:   source.DefaultIdentifier,
			Path: source.DefaultBasePath(),
		},
		Workspace: WorkspaceConfig{
			SweepAfter: 24 * time.Hour,
		},
		Sink: SinkConfig{
			Mode:      string(sink.ModeAbbreviated),
			Timestamp: string(sink.TimestampShort),
		},
		Control: ControlConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8089",
		},
	}
}
