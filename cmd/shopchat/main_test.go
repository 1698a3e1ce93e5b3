// ABOUTME: Tests for CLI helpers: token minting, log setup and address handling
// ABOUTME: Config is supplied through SHOPCHAT_CONFIG pointing at a temp file

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/shopchat/internal/auth"
	"github.com/2389/shopchat/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeTestConfig(t *testing.T, secret string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  path: " + filepath.Join(dir, "chat.db") + "\nauth:\n  jwt_secret: \"" + secret + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SHOPCHAT_CONFIG", path)
}

func TestRunToken(t *testing.T) {
	writeTestConfig(t, testSecret)

	var out bytes.Buffer
	err := runToken([]string{"--user", "admin-1", "--name", "Ada", "--role", "Admin"}, &out)
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	id, err := verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)

	assert.Equal(t, "admin-1", id.UserID)
	assert.Equal(t, "Ada", id.DisplayName)
	assert.Equal(t, []string{"admin"}, id.Roles)
}

func TestRunToken_Errors(t *testing.T) {
	t.Run("missing user", func(t *testing.T) {
		writeTestConfig(t, testSecret)
		err := runToken(nil, &bytes.Buffer{})
		assert.ErrorContains(t, err, "--user is required")
	})

	t.Run("no secret configured", func(t *testing.T) {
		writeTestConfig(t, "")
		err := runToken([]string{"--user", "u1"}, &bytes.Buffer{})
		assert.ErrorContains(t, err, "jwt_secret is not configured")
	})

	t.Run("stray argument", func(t *testing.T) {
		writeTestConfig(t, testSecret)
		err := runToken([]string{"--user", "u1", "extra"}, &bytes.Buffer{})
		assert.ErrorContains(t, err, "unexpected argument")
	})
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SHOPCHAT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/shopchat/config.yaml", getConfigPath())

	t.Setenv("SHOPCHAT_CONFIG", "/etc/shopchat.toml")
	assert.Equal(t, "/etc/shopchat.toml", getConfigPath())
}

func TestHealthHost(t *testing.T) {
	assert.Equal(t, "localhost:8080", healthHost(":8080"))
	assert.Equal(t, "10.0.0.2:8080", healthHost("10.0.0.2:8080"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &out)

	logger.Debug("hidden")
	logger.With("component", "hub").Info("connection joined", "conn_id", "c1")
	logger.WithGroup("req").Warn("slow", "ms", 250)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF connection joined component=hub conn_id=c1")
	assert.Contains(t, lines[1], "WRN slow req.ms=250")
}

func TestSetupLogger_JSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &out)
	logger.Debug("started", "port", 8080)

	assert.Contains(t, out.String(), `"msg":"started"`)
	assert.Contains(t, out.String(), `"port":8080`)
}
