package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/tracetap/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "listen":
		if hasHelpFlag(args) {
			printListenHelp()
			return 0
		}
		return runListen(args)
	case "emit":
		if hasHelpFlag(args) {
			printEmitHelp()
			return 0
		}
		return runEmit(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "sweep":
		if hasHelpFlag(args) {
			printSweepHelp()
			return 0
		}
		return runSweep(args)
	case "config":
		return runConfigNoun(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: tracetap version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("tracetap %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// loadConfig loads .env from the working directory, then the config at path
// or the discovered one.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(""); err != nil {
		return nil, err
	}
	if path == "" {
		return config.LoadDefault()
	}
	return config.Load(path)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`tracetap - local trace message listener

Usage:
  tracetap <command> [flags]

Commands:
  listen        Attach to a channel and print matching messages
  emit          Write one message onto a channel
  watch         Full-screen live view of a channel
  sweep         Remove dead listeners' directories and expired messages

Config Commands:
  config check  Validate configuration and environment
  config lock   Record the config file hash in .checksums
  config show   Print the resolved configuration

General:
  --version     Show version information
  version       Show version information
  help          Show this help message

Use 'tracetap <command> --help' for command flags.
`)
}

func printListenHelp() {
	fmt.Println("Usage: tracetap listen [--config PATH] [--sub Module[/Category]]... [--output text|sse] [--verbose] [--full-time]")
	fmt.Println("Attach to the channel and deliver matching messages until interrupted.")
	fmt.Println("Prefix a --sub value with ! to disable it.")
}

func printEmitHelp() {
	fmt.Println("Usage: tracetap emit --module M [--category C] [--file F] [--line N] [--fields k=v,...] [--config PATH] [text...]")
	fmt.Println("Write one message onto the configured channel.")
}

func printWatchHelp() {
	fmt.Println("Usage: tracetap watch [--config PATH] [--sub Module[/Category]]... [--log-file PATH]")
	fmt.Println()
	fmt.Println("Full-screen live view of matching messages.")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  p, Space         Pause or resume scrolling")
	fmt.Println("  c                Clear")
}

func printSweepHelp() {
	fmt.Println("Usage: tracetap sweep [--config PATH] [--older-than DURATION]")
	fmt.Println("Remove working directories whose listener is gone, and channel")
	fmt.Println("messages no listener claimed before --older-than.")
}
