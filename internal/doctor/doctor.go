// Package doctor diagnoses a tracetap configuration against the machine it
// will run on.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/mattjoyce/tracetap/internal/config"
	"github.com/mattjoyce/tracetap/internal/source"
	"github.com/mattjoyce/tracetap/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.validateChannel(r)
	d.validateWorkspace(r)
	d.warnSubscriptions(r)
	d.warnControl(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateConfig(r *Result) {
	if err := config.Validate(d.cfg); err != nil {
		d.addError(r, "config", "", err.Error())
	}
}

// validateChannel checks the channel location is usable for change
// notification.
func (d *Doctor) validateChannel(r *Result) {
	opts := d.cfg.ChannelOptions()

	target := opts.SpoolDir()
	if d.cfg.Channel.Kind == source.KindSQLite {
		target = opts.DatabasePath()
	}

	if err := storage.ValidateLocalFilesystem(target, "channel path"); err != nil {
		d.addError(r, "channel", "channel.path", err.Error())
		return
	}

	info, err := os.Stat(target)
	switch {
	case os.IsNotExist(err):
		d.addWarning(r, "channel", "channel.path", fmt.Sprintf("%s does not exist yet; it is created on first use", target))
	case err != nil:
		d.addError(r, "channel", "channel.path", err.Error())
	case d.cfg.Channel.Kind == source.KindSpool && !info.IsDir():
		d.addError(r, "channel", "channel.path", fmt.Sprintf("%s is not a directory", target))
	case d.cfg.Channel.Kind == source.KindSQLite && info.IsDir():
		d.addError(r, "channel", "channel.path", fmt.Sprintf("%s is a directory, want a database file", target))
	}
}

// validateWorkspace checks that working directories can be created.
func (d *Doctor) validateWorkspace(r *Result) {
	base := d.cfg.Workspace.Base
	if base == "" {
		base = os.TempDir()
	}

	info, err := os.Stat(base)
	if os.IsNotExist(err) {
		d.addWarning(r, "workspace", "workspace.base", fmt.Sprintf("%s does not exist yet; it is created on first use", base))
		return
	}
	if err != nil {
		d.addError(r, "workspace", "workspace.base", err.Error())
		return
	}
	if !info.IsDir() {
		d.addError(r, "workspace", "workspace.base", fmt.Sprintf("%s is not a directory", base))
		return
	}

	probe, err := os.CreateTemp(base, ".tracetap-doctor-*")
	if err != nil {
		d.addError(r, "workspace", "workspace.base", fmt.Sprintf("%s is not writable: %v", base, err))
		return
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
}

func (d *Doctor) warnSubscriptions(r *Result) {
	if len(d.cfg.Subscriptions) == 0 {
		d.addWarning(r, "subscriptions", "subscriptions",
			"no subscriptions configured; nothing is delivered until one is enabled")
		return
	}

	seen := make(map[string]int)
	for i, sub := range d.cfg.Subscriptions {
		key := sub.Key().String()
		if prev, ok := seen[key]; ok {
			d.addWarning(r, "subscriptions", fmt.Sprintf("subscriptions[%d]", i),
				fmt.Sprintf("%s repeats subscriptions[%d]; the later entry wins", key, prev))
		}
		seen[key] = i
	}
}

func (d *Doctor) warnControl(r *Result) {
	c := d.cfg.Control
	if !c.Enabled {
		if c.Token != "" {
			d.addWarning(r, "control", "control.token", "token is set but the control server is disabled")
		}
		return
	}
	if c.Token == "" && !isLoopback(c.Listen) {
		d.addWarning(r, "control", "control.listen",
			fmt.Sprintf("%s is reachable off-host and no token is configured", c.Listen))
	}
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
