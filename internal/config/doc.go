// Package config handles configuration loading for shopchat.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (chosen by the .toml
// extension) with environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SHOPCHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/shopchat/config.yaml
//  3. ~/.config/shopchat/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${SHOPCHAT_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  token_ttl: "24h"
//	chat:
//	  notify_throttle: "2m"
//	live:
//	  write_wait: "10s"
//	  pong_wait: "60s"
//
// # Configuration Sections
//
// Server and database:
//
//	server:
//	  http_addr: ":8080"
//	  grpc_addr: ":50051"     # optional gRPC health endpoint
//	database:
//	  driver: "sqlite"        # or "sqlite3" for the cgo driver
//	  path: "./shopchat.db"
//
// Authentication. Without a jwt_secret callers are identified by the
// X-User-ID, X-User-Name and X-User-Role headers, which is only suitable for
// development:
//
//	auth:
//	  jwt_secret: "${SHOPCHAT_JWT_SECRET}"
//	  token_ttl: "24h"
//
// Chat behavior:
//
//	chat:
//	  restrict_claims: false  # only admins may claim by replying
//	  system_messages: true   # log assign/close/reopen in the thread
//	  notify_throttle: "2m"
//	  general_subject: "General support"
//
// Push notifications (any combination):
//
//	notify:
//	  nats:
//	    enabled: true
//	    url: "nats://localhost:4222"
//	    subject_prefix: "shopchat.notify"
//	    stream: "NOTIFY"      # optional JetStream persistence
//	  webhook:
//	    enabled: true
//	    url: "https://push.example.com/hook"
//	    secret: "${SHOPCHAT_WEBHOOK_SECRET}"
//	  matrix:
//	    enabled: true
//	    homeserver: "https://matrix.org"
//	    user_id: "@shopchat:matrix.org"
//	    access_token: "${MATRIX_TOKEN}"
//	    room_id: "!support:matrix.org"
//
// Attachments:
//
//	attachments:
//	  backend: "local"        # or "cos"
//	  local_dir: "./attachments"
//	  max_bytes: 10485760
//	  cos:
//	    bucket_url: "https://bucket-1250000000.cos.ap-guangzhou.myqcloud.com"
//	    secret_id: "${COS_SECRET_ID}"
//	    secret_key: "${COS_SECRET_KEY}"
package config
