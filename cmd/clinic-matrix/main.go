// ABOUTME: Entry point for clinic-matrix, a Matrix front end for the clinic assistant
// ABOUTME: Dispatches the run, init and version subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
)

var version = "dev"

const banner = `
    ╭──────────────────────────────────╮
    │        clinic-matrix bridge      │
    │   patients on Matrix, bookings   │
    │        via clinic-gateway        │
    ╰──────────────────────────────────╯
`

// getConfigPath returns the path to the bridge config file.
// Priority: CLINIC_MATRIX_CONFIG env var > XDG_CONFIG_HOME/clinic/matrix-bridge.toml > ~/.config/clinic/matrix-bridge.toml
func getConfigPath() string {
	if envPath := os.Getenv("CLINIC_MATRIX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "matrix-bridge.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "clinic", "matrix-bridge.toml")
}

// getDataPath returns the clinic data directory shared with clinic-gateway.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "clinic")
}

func usage() {
	fmt.Println("Usage: clinic-matrix <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run        Relay Matrix rooms to clinic-gateway (default)")
	fmt.Println("  init       Create a bridge config file interactively")
	fmt.Println("  version    Print the version")
}

func main() {
	cmd := "run"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "run":
		err = run()
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := getConfigPath()
	cfg, err := Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no config at %s, create one with 'clinic-matrix init'", configPath)
	}
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(os.Stdout, cfg.Logging.Level)
	printStartup(os.Stdout, configPath, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bridge, err := NewBridge(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if cfg.Matrix.RecoveryKey != "" {
		crypto, err := bridge.EnableEncryption(ctx, getDataPath())
		if err != nil {
			return fmt.Errorf("enabling encryption: %w", err)
		}
		defer crypto.Close()
	} else {
		logger.Info("encryption disabled, encrypted rooms will not be answered")
	}

	return bridge.Run(ctx)
}

// printStartup shows where patient messages will go before the bridge connects.
func printStartup(w io.Writer, configPath string, cfg *Config) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	cyan.Fprint(w, banner)
	line := func(label, value string) {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "%-11s %s\n", label+":", value)
	}

	line("Config", configPath)
	line("Homeserver", cfg.Matrix.Homeserver)
	line("Bot", cfg.Matrix.Username)
	line("Gateway", fmt.Sprintf("%s (timeout %s)", cfg.Gateway.URL, cfg.Gateway.Timeout))

	rooms := "all joined rooms"
	if n := len(cfg.Bridge.AllowedRooms); n > 0 {
		rooms = fmt.Sprintf("%d allowed", n)
	}
	line("Rooms", rooms)
	if cfg.Bridge.CommandPrefix != "" {
		line("Prefix", fmt.Sprintf("%q", cfg.Bridge.CommandPrefix))
	}
	line("Redelivery", fmt.Sprintf("%s, %d ids", cfg.Bridge.DedupeWindow, cfg.Bridge.DedupeCapacity))
	if cfg.Matrix.RecoveryKey != "" {
		line("Encryption", "enabled")
	}
	fmt.Fprintln(w)
}

func setupLogger(w io.Writer, level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})).With("app", "clinic-matrix")
}
