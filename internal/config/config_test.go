// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, duration parsing, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"

database:
  driver: "sqlite3"
  path: "./test.db"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  token_ttl: "2h"

chat:
  restrict_claims: true
  system_messages: true
  notify_throttle: "30s"
  general_subject: "Ask us anything"

live:
  send_buffer: 16
  write_wait: "5s"
  pong_wait: "30s"
  max_frame_bytes: 8192
  allowed_origins:
    - "https://shop.example.com"

notify:
  nats:
    enabled: true
    url: "nats://localhost:4222"
  webhook:
    enabled: true
    url: "https://push.example.com/hook"
    timeout: "3s"
  matrix:
    enabled: true
    homeserver: "https://matrix.org"
    user_id: "@shopchat:matrix.org"
    access_token: "matrix-token"
    room_id: "!support:matrix.org"

attachments:
  backend: "cos"
  max_bytes: 1048576
  cos:
    bucket_url: "https://bucket-123.cos.ap-guangzhou.myqcloud.com"
    secret_id: "id"
    secret_key: "key"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/internal/metrics"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database.Driver = %q, want sqlite3", cfg.Database.Driver)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 2h", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.DevHeadersEnabled() {
		t.Error("dev headers should be off when a secret is configured")
	}
	if !cfg.Chat.RestrictClaims || !cfg.Chat.SystemMessages {
		t.Error("chat flags not loaded")
	}
	if cfg.Chat.NotifyThrottle != 30*time.Second {
		t.Errorf("Chat.NotifyThrottle = %v, want 30s", cfg.Chat.NotifyThrottle)
	}
	if cfg.Chat.GeneralSubject != "Ask us anything" {
		t.Errorf("Chat.GeneralSubject = %q", cfg.Chat.GeneralSubject)
	}
	if cfg.Live.SendBuffer != 16 || cfg.Live.MaxFrameBytes != 8192 {
		t.Errorf("Live = %+v", cfg.Live)
	}
	if cfg.Live.PingPeriod() != 27*time.Second {
		t.Errorf("Live.PingPeriod() = %v, want 27s", cfg.Live.PingPeriod())
	}
	if len(cfg.Live.AllowedOrigins) != 1 {
		t.Errorf("Live.AllowedOrigins = %v", cfg.Live.AllowedOrigins)
	}
	if cfg.Notify.NATS.SubjectPrefix != "shopchat.notify" {
		t.Errorf("NATS.SubjectPrefix default = %q", cfg.Notify.NATS.SubjectPrefix)
	}
	if cfg.Notify.Webhook.Timeout != 3*time.Second {
		t.Errorf("Webhook.Timeout = %v, want 3s", cfg.Notify.Webhook.Timeout)
	}
	if cfg.Notify.Matrix.RoomID != "!support:matrix.org" {
		t.Errorf("Matrix.RoomID = %q", cfg.Notify.Matrix.RoomID)
	}
	if cfg.Attachments.Backend != "cos" || cfg.Attachments.MaxBytes != 1048576 {
		t.Errorf("Attachments = %+v", cfg.Attachments)
	}
	if cfg.Logging.Format != "json" || cfg.Metrics.Path != "/internal/metrics" {
		t.Errorf("Logging/Metrics not loaded: %+v %+v", cfg.Logging, cfg.Metrics)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "shopchat.toml", `
[server]
http_addr = ":9090"

[database]
path = "/var/lib/shopchat/chat.db"

[chat]
notify_throttle = "1m"

[live]
pong_wait = "20s"

[notify.webhook]
enabled = true
url = "https://push.example.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("Server.HTTPAddr = %q, want :9090", cfg.Server.HTTPAddr)
	}
	if cfg.Chat.NotifyThrottle != time.Minute {
		t.Errorf("Chat.NotifyThrottle = %v, want 1m", cfg.Chat.NotifyThrottle)
	}
	if cfg.Live.PongWait != 20*time.Second {
		t.Errorf("Live.PongWait = %v, want 20s", cfg.Live.PongWait)
	}
	if !cfg.Notify.Webhook.Enabled {
		t.Error("Notify.Webhook.Enabled should be true")
	}
	if cfg.Attachments.LocalDir != "/var/lib/shopchat/attachments" {
		t.Errorf("Attachments.LocalDir = %q", cfg.Attachments.LocalDir)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
database:
  path: "./chat.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"http_addr", cfg.Server.HTTPAddr, ":8080"},
		{"driver", cfg.Database.Driver, "sqlite"},
		{"token_ttl", cfg.Auth.TokenTTL, 24 * time.Hour},
		{"general_subject", cfg.Chat.GeneralSubject, "General support"},
		{"deep_link_prefix", cfg.Chat.DeepLinkPrefix, "/chat/"},
		{"notify_throttle", cfg.Chat.NotifyThrottle, time.Duration(0)},
		{"send_buffer", cfg.Live.SendBuffer, 64},
		{"write_wait", cfg.Live.WriteWait, 10 * time.Second},
		{"pong_wait", cfg.Live.PongWait, 60 * time.Second},
		{"backend", cfg.Attachments.Backend, "local"},
		{"local_dir", cfg.Attachments.LocalDir, "attachments"},
		{"public_base_url", cfg.Attachments.PublicBaseURL, "/attachments"},
		{"level", cfg.Logging.Level, "info"},
		{"format", cfg.Logging.Format, "text"},
		{"metrics_path", cfg.Metrics.Path, "/metrics"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	if !cfg.Auth.DevHeadersEnabled() {
		t.Error("dev headers should be on without a jwt secret")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("SHOPCHAT_TEST_SECRET", "env-secret-that-is-long-enough-32b")
	t.Setenv("SHOPCHAT_TEST_DB", "/tmp/env.db")

	path := writeConfig(t, "config.yaml", `
database:
  path: "${SHOPCHAT_TEST_DB}"
auth:
  jwt_secret: "${SHOPCHAT_TEST_SECRET}"
notify:
  webhook:
    secret: "${SHOPCHAT_TEST_UNSET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("Database.Path = %q, want /tmp/env.db", cfg.Database.Path)
	}
	if cfg.Auth.JWTSecret != "env-secret-that-is-long-enough-32b" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Notify.Webhook.Secret != "" {
		t.Errorf("unset env var should expand to empty, got %q", cfg.Notify.Webhook.Secret)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing database path",
			content: "server:\n  http_addr: \":8080\"\n",
			wantErr: "database.path is required",
		},
		{
			name:    "bad driver",
			content: "database:\n  path: x.db\n  driver: postgres\n",
			wantErr: "database.driver",
		},
		{
			name:    "short secret",
			content: "database:\n  path: x.db\nauth:\n  jwt_secret: short\n",
			wantErr: "jwt_secret",
		},
		{
			name:    "bad duration",
			content: "database:\n  path: x.db\nlive:\n  pong_wait: soon\n",
			wantErr: "live.pong_wait",
		},
		{
			name:    "tailscale without hostname",
			content: "database:\n  path: x.db\ntailscale:\n  enabled: true\n",
			wantErr: "tailscale.hostname",
		},
		{
			name:    "nats without url",
			content: "database:\n  path: x.db\nnotify:\n  nats:\n    enabled: true\n",
			wantErr: "notify.nats.url",
		},
		{
			name:    "matrix without room",
			content: "database:\n  path: x.db\nnotify:\n  matrix:\n    enabled: true\n    homeserver: https://m.org\n    access_token: t\n",
			wantErr: "notify.matrix",
		},
		{
			name:    "cos without bucket",
			content: "database:\n  path: x.db\nattachments:\n  backend: cos\n",
			wantErr: "bucket_url",
		},
		{
			name:    "unknown backend",
			content: "database:\n  path: x.db\nattachments:\n  backend: s3\n",
			wantErr: "attachments.backend",
		},
		{
			name:    "bad log format",
			content: "database:\n  path: x.db\nlogging:\n  format: xml\n",
			wantErr: "logging.format",
		},
		{
			name:    "invalid yaml",
			content: "database: [unclosed\n",
			wantErr: "parsing config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("Load() should have failed")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("Load() error = %v, want reading error", err)
	}
}

func TestParse_UnknownFormat(t *testing.T) {
	_, err := Parse([]byte(""), "ini")
	if err == nil {
		t.Error("Parse() should reject unknown formats")
	}
}
