// ABOUTME: Interactive config generation for clinic-gateway
// ABOUTME: Writes a gateway.yaml with a fresh JWT secret and clinic opening hours

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
)

// initAnswers holds everything runInit asks for.
type initAnswers struct {
	HTTPAddr  string
	DBPath    string
	JWTSecret string

	Tailscale bool
	TSHost    string
	TSFunnel  bool

	Timezone   string
	OpensAt    string
	LastStart  string
	ClosesAt   string
	ClosedDays []string

	WhatsApp bool

	LogLevel  string
	LogFormat string
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("clinic-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	defaultDbPath := filepath.Join(getDataPath(), "gateway.db")

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	a := initAnswers{JWTSecret: secret}

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	a.DBPath = prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Tailscale Configuration ---")
	a.Tailscale = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.Tailscale {
		a.TSHost = prompt(reader, "Tailscale hostname", "clinic-gateway")
		a.TSFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS, needed for WhatsApp)?", "no"))
	}

	fmt.Println("\n--- Clinic Hours ---")
	a.Timezone = prompt(reader, "Clinic timezone (IANA name)", "Local")
	a.OpensAt = prompt(reader, "First appointment", "09:00")
	a.LastStart = prompt(reader, "Last appointment start", "16:30")
	a.ClosesAt = prompt(reader, "Closing time", "17:00")
	a.ClosedDays = splitList(prompt(reader, "Closed days (comma separated)", "sunday"))

	fmt.Println("\n--- WhatsApp ---")
	a.WhatsApp = yes(prompt(reader, "Enable WhatsApp webhook?", "no"))

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	color.Green("Config written to %s", outputFile)
	fmt.Println()
	fmt.Println("Set these environment variables before running 'clinic-gateway serve':")
	fmt.Println("  OPENAI_API_KEY         API key for the assistant")
	fmt.Println("  CLINIC_ASSISTANT_ID    Id of the configured assistant")
	if a.WhatsApp {
		fmt.Println("  WHATSAPP_VERIFY_TOKEN  Token entered in the Meta webhook settings")
		fmt.Println("  WHATSAPP_APP_SECRET    App secret used to sign webhook deliveries")
		fmt.Println("  WHATSAPP_ACCESS_TOKEN  Graph API access token")
		fmt.Println("  WHATSAPP_PHONE_ID      Phone number id of the business account")
	}
	fmt.Println()
	fmt.Println("Mint an operator token with:")
	fmt.Println("  clinic-gateway token --subject reception --role staff")

	return nil
}

// renderConfig produces a gateway.yaml for the given answers. Secrets for
// external services are referenced through environment variables.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# clinic-gateway configuration\n")
	cfg.WriteString("# Generated by clinic-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", a.HTTPAddr)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", a.DBPath)

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n\n", a.JWTSecret)

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.Tailscale)
	if a.Tailscale {
		fmt.Fprintf(&cfg, "  hostname: %q\n", a.TSHost)
		cfg.WriteString("  auth_key: \"${TS_AUTHKEY}\"\n")
		fmt.Fprintf(&cfg, "  funnel: %t\n", a.TSFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("assistant:\n")
	cfg.WriteString("  api_key: \"${OPENAI_API_KEY}\"\n")
	cfg.WriteString("  assistant_id: \"${CLINIC_ASSISTANT_ID}\"\n\n")

	cfg.WriteString("orchestrator:\n")
	cfg.WriteString("  poll_interval: \"1s\"\n")
	cfg.WriteString("  max_attempts: 30\n\n")

	cfg.WriteString("clinic:\n")
	fmt.Fprintf(&cfg, "  timezone: %q\n", a.Timezone)
	fmt.Fprintf(&cfg, "  opens_at: %q\n", a.OpensAt)
	fmt.Fprintf(&cfg, "  last_start: %q\n", a.LastStart)
	fmt.Fprintf(&cfg, "  closes_at: %q\n", a.ClosesAt)
	cfg.WriteString("  closed_days:\n")
	for _, d := range a.ClosedDays {
		fmt.Fprintf(&cfg, "    - %q\n", d)
	}
	cfg.WriteString("\n")

	cfg.WriteString("whatsapp:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.WhatsApp)
	if a.WhatsApp {
		cfg.WriteString("  verify_token: \"${WHATSAPP_VERIFY_TOKEN}\"\n")
		cfg.WriteString("  app_secret: \"${WHATSAPP_APP_SECRET}\"\n")
		cfg.WriteString("  access_token: \"${WHATSAPP_ACCESS_TOKEN}\"\n")
		cfg.WriteString("  phone_number_id: \"${WHATSAPP_PHONE_ID}\"\n")
		cfg.WriteString("  send_rate: 20\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)

	return cfg.String()
}

// generateSecret returns 32 random bytes, hex encoded.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func yes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
