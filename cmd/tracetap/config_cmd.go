package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattjoyce/tracetap/internal/config"
	"github.com/mattjoyce/tracetap/internal/doctor"
	"gopkg.in/yaml.v3"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 2
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 2
	}

	path, err := resolveConfigFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	manifest, err := config.GenerateChecksums(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}
	name := filepath.Base(path)
	fmt.Printf("Locked %s (blake3 %s)\n", path, manifest.Hashes[name][:16])
	return 0
}

// resolveConfigFile maps a flag value, a directory, or discovery to the
// config file itself.
func resolveConfigFile(configPath string) (string, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			return "", err
		}
		if discovered == "" {
			return "", fmt.Errorf("no config file found; pass --config or set %s", config.EnvConfig)
		}
		configPath = discovered
	}

	info, err := os.Stat(configPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %w", err)
	}
	if info.IsDir() {
		configPath = filepath.Join(configPath, "config.yaml")
		if _, err := os.Stat(configPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", configPath)
		}
	}
	return filepath.Abs(configPath)
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render YAML: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tracetap config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, show")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: tracetap config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration and the directories it points at.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: tracetap config lock [--config PATH]")
	fmt.Println("Record the config file's BLAKE3 hash in .checksums beside it.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: tracetap config show [--config PATH] [--json]")
	fmt.Println("Print the resolved configuration.")
}
