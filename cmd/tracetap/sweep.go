package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mattjoyce/tracetap/internal/config"
	"github.com/mattjoyce/tracetap/internal/source"
	"github.com/mattjoyce/tracetap/internal/workspace"
)

type sweepReport struct {
	workspace.SweepReport
	ExpiredMessages int
}

func runSweep(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	olderThan := fs.Duration("older-than", 0, "Minimum age of a directory or message to remove (default workspace.sweep_after)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	age := *olderThan
	if age == 0 {
		age = cfg.Workspace.SweepAfter
	}

	report, err := sweep(context.Background(), cfg, age)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		return 1
	}
	fmt.Printf("Removed %d working director(ies); %d still owned by a live listener\n", report.DeletedDirs, report.SkippedLive)
	fmt.Printf("Expired %d unclaimed message(s) from channel %s\n", report.ExpiredMessages, cfg.Channel.ID)
	return 0
}

// sweep removes abandoned working directories, then expires channel
// messages no listener claimed within olderThan.
func sweep(ctx context.Context, cfg *config.Config, olderThan time.Duration) (sweepReport, error) {
	if olderThan <= 0 {
		return sweepReport{}, fmt.Errorf("sweep age must be positive, got %s", olderThan)
	}
	mgr, err := workspace.NewFSManager(cfg.Workspace.Base)
	if err != nil {
		return sweepReport{}, err
	}
	dirs, err := mgr.Sweep(ctx, olderThan)
	if err != nil {
		return sweepReport{SweepReport: dirs}, err
	}

	expired, err := source.SweepChannel(ctx, cfg.ChannelOptions(), olderThan)
	if err != nil {
		return sweepReport{SweepReport: dirs}, fmt.Errorf("sweep channel: %w", err)
	}
	return sweepReport{SweepReport: dirs, ExpiredMessages: expired}, nil
}
