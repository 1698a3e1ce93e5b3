// ABOUTME: Configuration loading and parsing for shopchat
// ABOUTME: Supports YAML and TOML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete shopchat configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Chat        ChatConfig        `yaml:"chat" toml:"chat"`
	Live        LiveConfig        `yaml:"live" toml:"live"`
	Notify      NotifyConfig      `yaml:"notify" toml:"notify"`
	Attachments AttachmentsConfig `yaml:"attachments" toml:"attachments"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // gRPC health endpoint; empty disables it
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" (pure Go) or "sqlite3" (cgo)
	Path   string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret" toml:"jwt_secret"`
	DevHeaders bool   `yaml:"dev_headers" toml:"dev_headers"` // trust X-User-* headers

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// DevHeadersEnabled reports whether X-User-* headers identify callers. An
// empty secret leaves no other way to authenticate.
func (a AuthConfig) DevHeadersEnabled() bool {
	return a.DevHeaders || a.JWTSecret == ""
}

// ChatConfig holds chat core behavior
type ChatConfig struct {
	RestrictClaims bool   `yaml:"restrict_claims" toml:"restrict_claims"`
	SystemMessages bool   `yaml:"system_messages" toml:"system_messages"`
	GeneralSubject string `yaml:"general_subject" toml:"general_subject"`
	DeepLinkPrefix string `yaml:"deep_link_prefix" toml:"deep_link_prefix"`

	NotifyThrottle    time.Duration `yaml:"-" toml:"-"`
	NotifyThrottleRaw string        `yaml:"notify_throttle" toml:"notify_throttle"`
}

// LiveConfig holds websocket transport settings
type LiveConfig struct {
	SendBuffer     int      `yaml:"send_buffer" toml:"send_buffer"`
	MaxFrameBytes  int64    `yaml:"max_frame_bytes" toml:"max_frame_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`

	WriteWait    time.Duration `yaml:"-" toml:"-"`
	PongWait     time.Duration `yaml:"-" toml:"-"`
	WriteWaitRaw string        `yaml:"write_wait" toml:"write_wait"`
	PongWaitRaw  string        `yaml:"pong_wait" toml:"pong_wait"`
}

// PingPeriod is how often the server pings a live connection. It must be
// shorter than PongWait.
func (l LiveConfig) PingPeriod() time.Duration {
	return l.PongWait * 9 / 10
}

// NotifyConfig holds push notification backends
type NotifyConfig struct {
	NATS    NATSConfig    `yaml:"nats" toml:"nats"`
	Webhook WebhookConfig `yaml:"webhook" toml:"webhook"`
	Matrix  MatrixConfig  `yaml:"matrix" toml:"matrix"`
}

// NATSConfig holds NATS publishing configuration
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	SubjectPrefix string `yaml:"subject_prefix" toml:"subject_prefix"`
	Stream        string `yaml:"stream" toml:"stream"`
}

// WebhookConfig holds webhook delivery configuration
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	URL     string `yaml:"url" toml:"url"`
	Secret  string `yaml:"secret" toml:"secret"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// MatrixConfig holds Matrix room notification configuration
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	RoomID      string `yaml:"room_id" toml:"room_id"`
}

// AttachmentsConfig holds attachment storage configuration
type AttachmentsConfig struct {
	Backend       string    `yaml:"backend" toml:"backend"` // "local" or "cos"
	LocalDir      string    `yaml:"local_dir" toml:"local_dir"`
	PublicBaseURL string    `yaml:"public_base_url" toml:"public_base_url"`
	MaxBytes      int64     `yaml:"max_bytes" toml:"max_bytes"`
	COS           COSConfig `yaml:"cos" toml:"cos"`
}

// COSConfig holds Tencent COS bucket configuration
type COSConfig struct {
	BucketURL string `yaml:"bucket_url" toml:"bucket_url"`
	SecretID  string `yaml:"secret_id" toml:"secret_id"`
	SecretKey string `yaml:"secret_key" toml:"secret_key"`
	Prefix    string `yaml:"prefix" toml:"prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	return Parse(data, format)
}

// Parse decodes raw configuration in the given format ("yaml" or "toml").
func Parse(data []byte, format string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case "toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case "yaml", "":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in unset optional fields.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Chat.GeneralSubject == "" {
		c.Chat.GeneralSubject = "General support"
	}
	if c.Chat.DeepLinkPrefix == "" {
		c.Chat.DeepLinkPrefix = "/chat/"
	}
	if c.Live.SendBuffer == 0 {
		c.Live.SendBuffer = 64
	}
	if c.Live.MaxFrameBytes == 0 {
		c.Live.MaxFrameBytes = 64 << 10
	}
	if c.Live.WriteWait == 0 {
		c.Live.WriteWait = 10 * time.Second
	}
	if c.Live.PongWait == 0 {
		c.Live.PongWait = 60 * time.Second
	}
	if c.Notify.NATS.SubjectPrefix == "" {
		c.Notify.NATS.SubjectPrefix = "shopchat.notify"
	}
	if c.Notify.Webhook.Timeout == 0 {
		c.Notify.Webhook.Timeout = 5 * time.Second
	}
	if c.Attachments.Backend == "" {
		c.Attachments.Backend = "local"
	}
	if c.Attachments.LocalDir == "" && c.Database.Path != "" {
		c.Attachments.LocalDir = filepath.Join(filepath.Dir(c.Database.Path), "attachments")
	}
	if c.Attachments.PublicBaseURL == "" {
		c.Attachments.PublicBaseURL = "/attachments"
	}
	if c.Attachments.MaxBytes == 0 {
		c.Attachments.MaxBytes = 10 << 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must not be negative")
	}

	if c.Chat.NotifyThrottle < 0 {
		return fmt.Errorf("chat.notify_throttle must not be negative")
	}

	if c.Live.SendBuffer < 1 {
		return fmt.Errorf("live.send_buffer must be positive")
	}
	if c.Live.MaxFrameBytes < 1 {
		return fmt.Errorf("live.max_frame_bytes must be positive")
	}
	if c.Live.WriteWait <= 0 || c.Live.PongWait <= 0 {
		return fmt.Errorf("live.write_wait and live.pong_wait must be positive")
	}

	if c.Notify.NATS.Enabled && c.Notify.NATS.URL == "" {
		return fmt.Errorf("notify.nats.url is required when nats is enabled")
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("notify.webhook.url is required when webhook is enabled")
	}
	if c.Notify.Webhook.Enabled && len(c.Notify.Webhook.Secret) > 64 {
		return fmt.Errorf("notify.webhook.secret must be at most 64 bytes")
	}
	if m := c.Notify.Matrix; m.Enabled && (m.Homeserver == "" || m.AccessToken == "" || m.RoomID == "") {
		return fmt.Errorf("notify.matrix requires homeserver, access_token and room_id when enabled")
	}

	switch c.Attachments.Backend {
	case "local":
		if c.Attachments.LocalDir == "" {
			return fmt.Errorf("attachments.local_dir is required for the local backend")
		}
	case "cos":
		if c.Attachments.COS.BucketURL == "" {
			return fmt.Errorf("attachments.cos.bucket_url is required for the cos backend")
		}
	default:
		return fmt.Errorf("attachments.backend must be local or cos, got %q", c.Attachments.Backend)
	}
	if c.Attachments.MaxBytes < 0 {
		return fmt.Errorf("attachments.max_bytes must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"chat.notify_throttle", cfg.Chat.NotifyThrottleRaw, &cfg.Chat.NotifyThrottle},
		{"live.write_wait", cfg.Live.WriteWaitRaw, &cfg.Live.WriteWait},
		{"live.pong_wait", cfg.Live.PongWaitRaw, &cfg.Live.PongWait},
		{"notify.webhook.timeout", cfg.Notify.Webhook.TimeoutRaw, &cfg.Notify.Webhook.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
