package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattjoyce/tracetap/internal/api"
	"github.com/mattjoyce/tracetap/internal/client"
	"github.com/mattjoyce/tracetap/internal/config"
	"github.com/mattjoyce/tracetap/internal/log"
	"github.com/mattjoyce/tracetap/internal/sink"
	"github.com/mattjoyce/tracetap/internal/subscription"
)

const (
	outputText = "text"
	outputSSE  = "sse"
)

// subFlags collects repeated --sub values.
type subFlags []string

func (s *subFlags) String() string { return strings.Join(*s, ",") }

func (s *subFlags) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type subscriptionArg struct {
	Key    subscription.Key
	Enable bool
}

// parseSubscription parses "Module", "Module/Category" or "!Module/Category".
func parseSubscription(raw string) (subscriptionArg, error) {
	arg := subscriptionArg{Enable: true}
	v := strings.TrimSpace(raw)
	if strings.HasPrefix(v, "!") {
		arg.Enable = false
		v = v[1:]
	}
	module, category, _ := strings.Cut(v, "/")
	arg.Key = subscription.Key{Module: strings.TrimSpace(module), Category: strings.TrimSpace(category)}
	if arg.Key.Module == "" {
		return subscriptionArg{}, fmt.Errorf("invalid subscription %q: module is required", raw)
	}
	return arg, nil
}

func parseSubscriptions(raw []string) ([]subscriptionArg, error) {
	out := make([]subscriptionArg, 0, len(raw))
	for _, r := range raw {
		arg, err := parseSubscription(r)
		if err != nil {
			return nil, err
		}
		out = append(out, arg)
	}
	return out, nil
}

type listenOptions struct {
	Subs   []subscriptionArg
	Output string
}

func runListen(args []string) int {
	var subs subFlags
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	output := fs.String("output", outputText, "Output: text or sse")
	verbose := fs.Bool("verbose", false, "Use the verbose line layout")
	fullTime := fs.Bool("full-time", false, "Print full timestamps")
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
	if *verbose {
		cfg.Sink.Mode = string(sink.ModeVerbose)
	}
	if *fullTime {
		cfg.Sink.Timestamp = string(sink.TimestampFull)
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := listen(ctx, cfg, listenOptions{Subs: parsed, Output: *output}, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// applySubscriptions applies config subscriptions followed by subs, in order.
func applySubscriptions(c *client.Client, cfg *config.Config, subs []subscriptionArg) error {
	for _, s := range cfg.Subscriptions {
		if err := c.EnableMessage(s.Module, s.Category, s.IsEnabled()); err != nil {
			return fmt.Errorf("subscription %s: %w", s.Key(), err)
		}
	}
	for _, s := range subs {
		if err := c.EnableMessage(s.Key.Module, s.Key.Category, s.Enable); err != nil {
			return fmt.Errorf("subscription %s: %w", s.Key, err)
		}
	}
	return nil
}

// listen runs one client until ctx is done, the control server fails, or the
// dispatch loop exits on its own.
func listen(ctx context.Context, cfg *config.Config, opts listenOptions, stdout io.Writer) error {
	logger := log.WithComponent("listen")

	if opts.Output == "" {
		opts.Output = outputText
	}
	if opts.Output != outputText && opts.Output != outputSSE {
		return fmt.Errorf("unknown output %q (want text or sse)", opts.Output)
	}
	if opts.Output == outputSSE && !cfg.Control.Enabled {
		return fmt.Errorf("--output sse requires control.enabled")
	}

	formatter, err := cfg.Formatter()
	if err != nil {
		return err
	}

	c, err := client.Open(client.Options{
		WorkspaceBase: cfg.Workspace.Base,
		Channel:       cfg.ChannelOptions(),
	})
	if err != nil {
		return fmt.Errorf("open client: %w", err)
	}

	var server *api.Server
	if cfg.Control.Enabled {
		server = api.New(api.Config{Listen: cfg.Control.Listen, Token: cfg.Control.Token}, c, log.WithComponent("api"))
	}

	var out sink.Sink = sink.NewText(stdout, formatter)
	if opts.Output == outputSSE {
		out = server.MessageSink()
	}
	if err := c.RegisterSink(out); err != nil {
		return errors.Join(err, c.Close())
	}

	if err := applySubscriptions(c, cfg, opts.Subs); err != nil {
		return errors.Join(err, c.Close())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	if server != nil {
		go func() {
			if err := server.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("control server: %w", err)
			}
		}()
		logger.Info("control server enabled", "listen", cfg.Control.Listen)
	}

	logger.Info("listening", "channel", cfg.Channel.ID, "kind", cfg.Channel.Kind, "work_dir", c.WorkDir())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("component failed", "error", runErr)
	case <-c.Done():
		runErr = client.ErrDispatchStopped
	}

	cancel()
	stats := c.Stats()
	if err := c.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close client: %w", err))
	}
	logger.Info("stopped", "delivered", stats.Delivered, "dropped", stats.Dropped, "panics", stats.Panics)
	return runErr
}
