package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSetupWriter(t *testing.T) {
	// Reset logger for testing
	logger = nil
	once = *new(sync.Once)

	var buf bytes.Buffer
	SetupWriter(&buf, "DEBUG", "json")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	Debug("debug line", "k", "v")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["msg"] != "debug line" {
		t.Errorf("Expected msg 'debug line', got %v", out["msg"])
	}
	if out["k"] != "v" {
		t.Errorf("Expected k 'v', got %v", out["k"])
	}

	// Second call is ignored.
	var other bytes.Buffer
	SetupWriter(&other, "ERROR", "text")
	Info("still json")
	if other.Len() != 0 {
		t.Errorf("Expected second Setup to be ignored, got %q", other.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "info", "text")
	l.Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("Expected text handler output, got %q", buf.String())
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, nil)
	logger = slog.New(h)

	WithComponent("dispatch").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}

	if out["component"] != "dispatch" {
		t.Errorf("Expected component 'dispatch', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithModule(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithModule("Network").Info("module msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["module"] != "Network" {
		t.Errorf("Expected module 'Network', got %v", out["module"])
	}
}

func TestWithClient(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithClient("/tmp/tracetap-abc").Info("client msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["work_dir"] != "/tmp/tracetap-abc" {
		t.Errorf("Expected work_dir, got %v", out["work_dir"])
	}
}
