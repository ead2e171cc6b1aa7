package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/tracetap/internal/config"
	"github.com/mattjoyce/tracetap/internal/emitter"
	"github.com/mattjoyce/tracetap/internal/message"
)

type emitOptions struct {
	Module   string
	Category string
	File     string
	Line     int
	Fields   string
	Text     string
}

func runEmit(args []string) int {
	var opts emitOptions
	fs := flag.NewFlagSet("emit", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	fs.StringVar(&opts.Module, "module", "", "Message module (required)")
	fs.StringVar(&opts.Category, "category", "Information", "Message category")
	fs.StringVar(&opts.File, "file", "", "Source file")
	fs.IntVar(&opts.Line, "line", 0, "Source line")
	fs.StringVar(&opts.Fields, "fields", "", "Structured payload as k=v,k=v")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 2
	}
	opts.Text = strings.Join(fs.Args(), " ")

	if opts.Module == "" {
		fmt.Fprintln(os.Stderr, "Error: --module is required")
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	msg, err := emit(context.Background(), cfg, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Emit failed: %v\n", err)
		return 1
	}
	fmt.Println(msg.ID)
	return 0
}

func emit(ctx context.Context, cfg *config.Config, opts emitOptions) (message.Message, error) {
	payload, err := buildPayload(opts.Text, opts.Fields)
	if err != nil {
		return message.Message{}, err
	}

	em, err := emitter.Open(ctx, cfg.ChannelOptions())
	if err != nil {
		return message.Message{}, err
	}
	defer em.Close()

	return em.Emit(ctx, message.Message{
		Module:   opts.Module,
		Category: opts.Category,
		File:     opts.File,
		Line:     opts.Line,
		Payload:  payload,
	})
}

// buildPayload returns Text for plain text, or Fields when --fields is set,
// with any text stored under "msg".
func buildPayload(text, fields string) (message.Payload, error) {
	if fields == "" {
		return message.Text(text), nil
	}

	out := message.Fields{}
	for _, pair := range strings.Split(fields, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid field %q (want k=v)", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if text != "" {
		out["msg"] = text
	}
	return out, nil
}
