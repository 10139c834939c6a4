// ABOUTME: Entry point for clinic-gateway, the appointment booking assistant server
// ABOUTME: Dispatches the serve, init, health, token and bookings subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/clinic-gateway/internal/config"
	"github.com/2389/clinic-gateway/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
       _ _       _                     _
   ___| (_)_ __ (_) ___      __ _  __ _| |_ _____      ____ _ _   _
  / __| | | '_ \| |/ __|____/ _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | (__| | | | | | | (_|_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
  \___|_|_|_| |_|_|\___|     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                             |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: CLINIC_CONFIG env var > XDG_CONFIG_HOME/clinic/gateway.yaml > ~/.config/clinic/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CLINIC_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "clinic", "gateway.yaml")
}

// getDataPath returns the path to the clinic data directory.
// Priority: XDG_DATA_HOME/clinic > ~/.local/share/clinic
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "clinic")
}

func usage() {
	fmt.Println("Usage: clinic-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Start the gateway server")
	fmt.Println("  init                               Create a new config file interactively")
	fmt.Println("  health                             Check gateway health")
	fmt.Println("  token --subject NAME [--role R]    Mint an operator API token")
	fmt.Println("  bookings [--all]                   List upcoming bookings")
	fmt.Println("  version                            Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(args, os.Stdout)
	case "bookings":
		err = runBookings(ctx, args, os.Stdout)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	rules := cfg.Clinic.Rules()
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Registry:  %s\n", cfg.Registry.Backend)
	green.Print("    ▶ ")
	fmt.Printf("Clinic:    %s\n", rules.Location)
	green.Print("    ▶ ")
	fmt.Printf("WhatsApp:  ")
	if cfg.WhatsApp.Enabled {
		cyan.Println("enabled")
	} else {
		gray.Println("disabled")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! API authentication disabled (no auth.jwt_secret)")
	}

	fmt.Println()

	logger.Info("starting clinic-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	color.Green("healthy")
	return nil
}
