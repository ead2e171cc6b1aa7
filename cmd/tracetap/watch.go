package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/tracetap/internal/client"
	"github.com/mattjoyce/tracetap/internal/log"
	"github.com/mattjoyce/tracetap/internal/tui"
)

func runWatch(args []string) int {
	var subs subFlags
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	logFile := fs.String("log-file", "", "Write logs here instead of discarding them")
	fs.Var(&subs, "sub", "Subscription Module[/Category], prefix ! to disable (repeatable)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 2
	}

	parsed, err := parseSubscriptions(subs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	formatter, err := cfg.Formatter()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// The alternate screen owns the terminal, so logs go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	log.SetupWriter(logOut, cfg.Service.LogLevel, cfg.Service.LogFormat)

	c, err := client.Open(client.Options{
		WorkspaceBase: cfg.Workspace.Base,
		Channel:       cfg.ChannelOptions(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open client: %v\n", err)
		return 1
	}
	defer c.Close()

	s := tui.NewSink(256)
	defer s.Close()
	if err := c.RegisterSink(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := applySubscriptions(c, cfg, parsed); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	m := tui.New(s, tui.Options{
		Channel:   cfg.Channel.ID,
		WorkDir:   c.WorkDir(),
		Formatter: formatter,
	})
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
