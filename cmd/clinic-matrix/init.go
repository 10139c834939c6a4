// ABOUTME: Interactive config generation for the clinic-matrix bridge
// ABOUTME: Writes matrix-bridge.toml pointing at a clinic-gateway with secrets read from the environment

package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
)

// Secrets are never written to disk; the generated file expands these.
const (
	envMatrixPassword = "CLINIC_MATRIX_PASSWORD"
	envRecoveryKey    = "CLINIC_MATRIX_RECOVERY_KEY"
	envGatewayToken   = "CLINIC_GATEWAY_TOKEN"
)

// initAnswers holds everything runInit asks for.
type initAnswers struct {
	Homeserver string
	Username   string
	DeviceName string
	Encryption bool

	GatewayURL     string
	GatewayTimeout string

	AllowedRooms    []string
	CommandPrefix   string
	TypingIndicator bool
	DedupeWindow    string
	DedupeCapacity  int

	LogLevel string
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(configPath); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Matrix Account ---")
	a.Homeserver = prompt(reader, "Homeserver URL", "https://matrix.org")
	a.Username = prompt(reader, "Bot username", "clinicbot")
	a.DeviceName = prompt(reader, "Device name", "clinic-matrix")
	a.Encryption = yes(prompt(reader, "Enable end-to-end encryption (needs a recovery key)?", "no"))

	fmt.Println("\n--- Clinic Gateway ---")
	a.GatewayURL = prompt(reader, "Gateway URL", "http://localhost:8080")
	a.GatewayTimeout = prompt(reader, "Reply timeout", "3m")

	fmt.Println("\n--- Bridge Behaviour ---")
	a.AllowedRooms = splitList(prompt(reader, "Allowed room ids (comma separated, empty = all joined rooms)", ""))
	a.CommandPrefix = prompt(reader, "Command prefix (empty = answer every message)", "")
	a.TypingIndicator = yes(prompt(reader, "Show typing while the assistant works?", "yes"))
	a.DedupeWindow = prompt(reader, "Redelivery window", "1h")
	capacity, err := strconv.Atoi(prompt(reader, "Redelivery window capacity", "10000"))
	if err != nil || capacity <= 0 {
		return fmt.Errorf("dedupe capacity must be a positive number")
	}
	a.DedupeCapacity = capacity

	fmt.Println("\n--- Logging ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")

	data, err := renderConfig(a)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Set these environment variables before running 'clinic-matrix run':")
	fmt.Printf("      %-28s Password of the bot account\n", envMatrixPassword)
	fmt.Printf("      %-28s Staff token from 'clinic-gateway token --subject matrix-bridge --role staff'\n", envGatewayToken)
	if a.Encryption {
		fmt.Printf("      %-28s Recovery key used to verify the bot device\n", envRecoveryKey)
	}
	fmt.Println()

	return nil
}

// renderConfig produces matrix-bridge.toml for the given answers. The
// output is the bridge's own Config encoded as TOML, so Parse reads it back.
func renderConfig(a initAnswers) ([]byte, error) {
	cfg := Config{
		Matrix: MatrixConfig{
			Homeserver: a.Homeserver,
			Username:   a.Username,
			Password:   "${" + envMatrixPassword + "}",
			DeviceName: a.DeviceName,
		},
		Gateway: GatewayConfig{
			URL:        a.GatewayURL,
			Token:      "${" + envGatewayToken + "}",
			TimeoutRaw: a.GatewayTimeout,
		},
		Bridge: BridgeConfig{
			AllowedRooms:    a.AllowedRooms,
			CommandPrefix:   a.CommandPrefix,
			TypingIndicator: a.TypingIndicator,
			DedupeCapacity:  a.DedupeCapacity,
			DedupeWindowRaw: a.DedupeWindow,
		},
		Logging: LoggingConfig{Level: a.LogLevel},
	}
	if a.Encryption {
		cfg.Matrix.RecoveryKey = "${" + envRecoveryKey + "}"
	}
	if cfg.Bridge.AllowedRooms == nil {
		cfg.Bridge.AllowedRooms = []string{}
	}

	var buf bytes.Buffer
	buf.WriteString("# clinic-matrix bridge configuration\n")
	buf.WriteString("# Generated by clinic-matrix init\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	if input = strings.TrimSpace(input); input == "" {
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
