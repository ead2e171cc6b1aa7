package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattjoyce/tracetap/internal/sink"
	"github.com/mattjoyce/tracetap/internal/source"
	"github.com/mattjoyce/tracetap/internal/subscription"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file uses defaults",
			yaml: ``,
			checkFn: func(t *testing.T, cfg *Config) {
				def := Defaults()
				if cfg.Channel != def.Channel {
					t.Errorf("channel = %+v, want %+v", cfg.Channel, def.Channel)
				}
				if cfg.Sink.Mode != "abbreviated" || cfg.Sink.Timestamp != "short" {
					t.Errorf("sink defaults not applied: %+v", cfg.Sink)
				}
				if cfg.Workspace.SweepAfter != 24*time.Hour {
					t.Errorf("sweep_after = %v, want 24h", cfg.Workspace.SweepAfter)
				}
				if cfg.Control.Enabled {
					t.Error("control should be disabled by default")
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  name: bench
  log_level: debug
  log_format: text
channel:
  kind: sqlite
  id: bench
  path: /var/tmp/traces
workspace:
  base: /var/tmp/work
  sweep_after: 2h
sink:
  mode: verbose
  timestamp: full
subscriptions:
  - module: Net
  - module: Net
    category: Debug
    enabled: false
control:
  enabled: true
  listen: 127.0.0.1:9000
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "bench" || cfg.Service.LogFormat != "text" {
					t.Errorf("service not parsed: %+v", cfg.Service)
				}
				if cfg.Channel.Kind != source.KindSQLite {
					t.Errorf("channel.kind = %q", cfg.Channel.Kind)
				}
				opts := cfg.ChannelOptions()
				if opts.DatabasePath() != "/var/tmp/traces/bench.db" {
					t.Errorf("database path = %q", opts.DatabasePath())
				}
				if cfg.Workspace.SweepAfter != 2*time.Hour {
					t.Errorf("sweep_after = %v", cfg.Workspace.SweepAfter)
				}
				f, err := cfg.Formatter()
				if err != nil {
					t.Fatal(err)
				}
				if f.Mode != sink.ModeVerbose || f.Timestamp != sink.TimestampFull {
					t.Errorf("formatter = %+v", f)
				}
				if len(cfg.Subscriptions) != 2 {
					t.Fatalf("len(subscriptions) = %d", len(cfg.Subscriptions))
				}
				if !cfg.Subscriptions[0].IsEnabled() {
					t.Error("omitted enabled should default to true")
				}
				if cfg.Subscriptions[1].IsEnabled() {
					t.Error("explicit enabled: false ignored")
				}
				if cfg.Subscriptions[1].Key() != (subscription.Key{Module: "Net", Category: "Debug"}) {
					t.Errorf("key = %v", cfg.Subscriptions[1].Key())
				}
				if !cfg.Control.Enabled || cfg.Control.Listen != "127.0.0.1:9000" {
					t.Errorf("control = %+v", cfg.Control)
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
channel:
  path: ${TRACE_ROOT}/chan
`,
			env: map[string]string{"TRACE_ROOT": "/srv"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Channel.Path != "/srv/chan" {
					t.Errorf("channel.path = %q", cfg.Channel.Path)
				}
			},
		},
		{
			name: "unresolved variable rejected",
			yaml: `
channel:
  path: ${TRACETAP_TEST_UNSET_ROOT}/chan
`,
			wantErr: true,
		},
		{
			name: "env overrides file",
			yaml: `
service:
  log_level: info
channel:
  kind: spool
  id: fromfile
`,
			env: map[string]string{
				"TRACETAP_CHANNEL_ID":   "fromenv",
				"TRACETAP_CHANNEL_KIND": "SQLITE",
				"TRACETAP_LOG_LEVEL":    "warn",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Channel.ID != "fromenv" {
					t.Errorf("channel.id = %q", cfg.Channel.ID)
				}
				if cfg.Channel.Kind != source.KindSQLite {
					t.Errorf("channel.kind = %q", cfg.Channel.Kind)
				}
				if cfg.Service.LogLevel != "warn" {
					t.Errorf("log_level = %q", cfg.Service.LogLevel)
				}
			},
		},
		{
			name:    "invalid log level",
			yaml:    "service:\n  log_level: chatty\n",
			wantErr: true,
		},
		{
			name:    "invalid channel kind",
			yaml:    "channel:\n  kind: memory\n",
			wantErr: true,
		},
		{
			name:    "channel id with separator",
			yaml:    "channel:\n  id: ../escape\n",
			wantErr: true,
		},
		{
			name:    "invalid sink mode",
			yaml:    "sink:\n  mode: loud\n",
			wantErr: true,
		},
		{
			name:    "subscription without module",
			yaml:    "subscriptions:\n  - category: Error\n",
			wantErr: true,
		},
		{
			name:    "unknown field",
			yaml:    "channel:\n  kynd: spool\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{source.EnvChannelID, source.EnvChannelPath, EnvChannelKind, EnvLogLevel} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.SourceFile != path {
				t.Errorf("SourceFile = %q, want %q", cfg.SourceFile, path)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("service:\n  name: dir\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.Service.Name != "dir" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("Load() of a directory without config.yaml should fail")
	}
}

func TestDiscover(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvConfig, "")

	path, err := Discover()
	if err != nil || path != "" {
		t.Fatalf("Discover() = %q, %v; want empty", path, err)
	}

	userConfig := filepath.Join(home, ".config", "tracetap", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(userConfig), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(userConfig, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	path, err = Discover()
	if err != nil || path != userConfig {
		t.Fatalf("Discover() = %q, %v; want %q", path, err, userConfig)
	}

	explicit := filepath.Join(t.TempDir(), "explicit.yaml")
	if err := os.WriteFile(explicit, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfig, explicit)
	path, err = Discover()
	if err != nil || path != explicit {
		t.Fatalf("Discover() = %q, %v; want %q", path, err, explicit)
	}

	t.Setenv(EnvConfig, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Discover(); err == nil {
		t.Fatal("Discover() with a dangling TRACETAP_CONFIG should fail")
	}
}

func TestLoadDefaultWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	if cfg.SourceFile != "" {
		t.Errorf("SourceFile = %q, want empty", cfg.SourceFile)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("log_level = %q, want env override", cfg.Service.LogLevel)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TRACETAP_TEST_DOTENV=fromfile\nTRACETAP_TEST_PRESET=fromfile\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TRACETAP_TEST_PRESET", "fromshell")
	t.Setenv("TRACETAP_TEST_DOTENV", "")
	os.Unsetenv("TRACETAP_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("TRACETAP_TEST_DOTENV"); got != "fromfile" {
		t.Errorf("TRACETAP_TEST_DOTENV = %q", got)
	}
	if got := os.Getenv("TRACETAP_TEST_PRESET"); got != "fromshell" {
		t.Errorf(".env overrode an existing variable: %q", got)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}
}
