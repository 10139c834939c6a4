// ABOUTME: Tests for clinic-matrix startup helpers and init config rendering
// ABOUTME: Rendered configs must load back through Parse with the answers intact

package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CLINIC_MATRIX_CONFIG", "/etc/clinic/bridge.toml")
	assert.Equal(t, "/etc/clinic/bridge.toml", getConfigPath())

	t.Setenv("CLINIC_MATRIX_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "clinic", "matrix-bridge.toml"), getConfigPath())
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "clinic"), getDataPath())
}

func initFixture() initAnswers {
	return initAnswers{
		Homeserver:      "https://matrix.example.org",
		Username:        "clinicbot",
		DeviceName:      "front-desk",
		GatewayURL:      "https://gateway.example.org",
		GatewayTimeout:  "90s",
		AllowedRooms:    []string{"!reception:example.org", "!pediatrics:example.org"},
		CommandPrefix:   "!clinic",
		TypingIndicator: true,
		DedupeWindow:    "30m",
		DedupeCapacity:  500,
		LogLevel:        "debug",
	}
}

func TestRenderConfig_Parses(t *testing.T) {
	t.Setenv(envMatrixPassword, "hunter2")
	t.Setenv(envGatewayToken, "staff-jwt")

	data, err := renderConfig(initFixture())
	require.NoError(t, err)

	cfg, err := Parse(string(data))
	require.NoError(t, err, string(data))

	assert.Equal(t, "https://matrix.example.org", cfg.Matrix.Homeserver)
	assert.Equal(t, "clinicbot", cfg.Matrix.Username)
	assert.Equal(t, "hunter2", cfg.Matrix.Password)
	assert.Equal(t, "front-desk", cfg.Matrix.DeviceName)
	assert.Empty(t, cfg.Matrix.RecoveryKey)

	assert.Equal(t, "https://gateway.example.org", cfg.Gateway.URL)
	assert.Equal(t, "staff-jwt", cfg.Gateway.Token)
	assert.Equal(t, 90*time.Second, cfg.Gateway.Timeout)

	assert.Equal(t, []string{"!reception:example.org", "!pediatrics:example.org"}, cfg.Bridge.AllowedRooms)
	assert.Equal(t, "!clinic", cfg.Bridge.CommandPrefix)
	assert.True(t, cfg.Bridge.TypingIndicator)
	assert.Equal(t, 30*time.Minute, cfg.Bridge.DedupeWindow)
	assert.Equal(t, 500, cfg.Bridge.DedupeCapacity)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestRenderConfig_KeepsSecretsOutOfFile(t *testing.T) {
	a := initFixture()
	a.Encryption = true

	data, err := renderConfig(a)
	require.NoError(t, err)

	var raw map[string]map[string]any
	_, err = toml.Decode(string(data), &raw)
	require.NoError(t, err)

	assert.Equal(t, "${CLINIC_MATRIX_PASSWORD}", raw["matrix"]["password"])
	assert.Equal(t, "${CLINIC_MATRIX_RECOVERY_KEY}", raw["matrix"]["recovery_key"])
	assert.Equal(t, "${CLINIC_GATEWAY_TOKEN}", raw["gateway"]["token"])
	assert.Equal(t, "90s", raw["gateway"]["timeout"])
	assert.Equal(t, "30m", raw["bridge"]["dedupe_window"])
	assert.EqualValues(t, 500, raw["bridge"]["dedupe_capacity"])
	assert.Equal(t, "!clinic", raw["bridge"]["command_prefix"])

	t.Setenv(envMatrixPassword, "hunter2")
	t.Setenv(envGatewayToken, "staff-jwt")
	t.Setenv(envRecoveryKey, "EsTc abcd")
	cfg, err := Parse(string(data))
	require.NoError(t, err)
	assert.Equal(t, "EsTc abcd", cfg.Matrix.RecoveryKey)
}

func TestRenderConfig_AllRoomsByDefault(t *testing.T) {
	t.Setenv(envMatrixPassword, "hunter2")

	a := initFixture()
	a.AllowedRooms = nil
	a.CommandPrefix = ""

	data, err := renderConfig(a)
	require.NoError(t, err)
	assert.Contains(t, string(data), "allowed_rooms = []")

	cfg, err := Parse(string(data))
	require.NoError(t, err)
	assert.Empty(t, cfg.Bridge.AllowedRooms)
	assert.Empty(t, cfg.Bridge.CommandPrefix)
}

func TestPrintStartup(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColor })
	t.Setenv(envMatrixPassword, "hunter2")

	data, err := renderConfig(initFixture())
	require.NoError(t, err)
	cfg, err := Parse(string(data))
	require.NoError(t, err)

	var out bytes.Buffer
	printStartup(&out, "/etc/clinic/matrix-bridge.toml", cfg)

	text := out.String()
	assert.Contains(t, text, "clinic-matrix bridge")
	assert.Contains(t, text, "https://gateway.example.org (timeout 1m30s)")
	assert.Contains(t, text, "2 allowed")
	assert.Contains(t, text, `"!clinic"`)
	assert.Contains(t, text, "30m0s, 500 ids")
	assert.NotContains(t, text, "Encryption")
	assert.NotContains(t, text, "hunter2")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"!a:x", "!b:x"}, splitList(" !a:x, ,!b:x "))
	assert.Nil(t, splitList(""))
}

func TestSetupLogger(t *testing.T) {
	var out bytes.Buffer
	logger := setupLogger(&out, "WARN")

	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	logger.Warn("gateway slow")
	assert.Contains(t, out.String(), "app=clinic-matrix")
}
