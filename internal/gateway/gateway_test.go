// ABOUTME: Tests for Gateway construction, lifecycle and health endpoints
// ABOUTME: Runs real listeners on free ports and exercises the gRPC health service

package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/shopchat/internal/config"
)

// freeAddr returns a loopback address with an unused port.
func freeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// testConfig creates a config with an in-memory store, dev identity headers
// and local attachments under a temp dir.
func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()

	raw := fmt.Sprintf(`
server:
  http_addr: %q
database:
  path: ":memory:"
attachments:
  local_dir: %q
  max_bytes: 4096
%s`, freeAddr(t), t.TempDir(), extra)

	cfg, err := config.Parse([]byte(raw), "yaml")
	if err != nil {
		t.Fatalf("config.Parse() failed: %v", err)
	}
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t, "")

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.store == nil {
		t.Error("store should not be nil")
	}
	if gw.chat == nil || gw.hub == nil {
		t.Error("chat service and hub should be wired")
	}
	if gw.verifier != nil {
		t.Error("verifier should be nil without a jwt secret")
	}
	if gw.files == nil {
		t.Error("local attachment handler should be mounted")
	}
}

func TestGatewayNew_WithSecret(t *testing.T) {
	cfg := testConfig(t, `
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
`)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.verifier == nil {
		t.Error("verifier should be set when a secret is configured")
	}
}

func TestGatewayNew_BadNotifier(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Notify.Webhook.Enabled = true
	cfg.Notify.Webhook.URL = ""

	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected New() to fail for a webhook without a url")
	}
}

func TestGatewayShutdown_Idempotent(t *testing.T) {
	gw, err := New(testConfig(t, ""), testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := gw.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown() failed: %v", err)
	}
	if err := gw.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() failed: %v", err)
	}
}

func TestGatewayRunAndShutdown(t *testing.T) {
	gw, err := New(testConfig(t, ""), testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestHealthEndpoints(t *testing.T) {
	cfg := testConfig(t, "")
	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	go func() {
		_ = gw.Run(t.Context())
	}()
	time.Sleep(100 * time.Millisecond)

	tests := []struct {
		path string
		want string
	}{
		{"/health", "OK"},
		{"/health/ready", "ready (0 live connections)"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get("http://" + cfg.Server.HTTPAddr + tt.path)
			if err != nil {
				t.Fatalf("GET %s failed: %v", tt.path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected status 200, got %d", resp.StatusCode)
			}
			body, _ := io.ReadAll(resp.Body)
			if string(body) != tt.want {
				t.Errorf("expected body %q, got %q", tt.want, body)
			}
		})
	}
}

func TestReadyEndpoint_StoreClosed(t *testing.T) {
	gw, err := New(testConfig(t, ""), testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if err := gw.store.Close(); err != nil {
		t.Fatalf("closing store: %v", err)
	}

	resp := doRequest(t, gw.Handler(), http.MethodGet, "/health/ready", "", nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", resp.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gw, err := New(testConfig(t, `
metrics:
  enabled: true
`), testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	resp := doRequest(t, gw.Handler(), http.MethodGet, "/metrics", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestGRPCHealth(t *testing.T) {
	grpcAddr := freeAddr(t)
	cfg := testConfig(t, "")
	cfg.Server.GRPCAddr = grpcAddr

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	go func() {
		_ = gw.Run(t.Context())
	}()
	time.Sleep(100 * time.Millisecond)

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient() failed: %v", err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, service := range []string{"", ChatServiceName} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q) failed: %v", service, err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("Check(%q) = %v, want SERVING", service, resp.GetStatus())
		}
	}
}

func TestFilesPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/attachments", "/attachments"},
		{"https://chat.example.com/files", "/files"},
		{"https://cdn.example.com", "/attachments"},
		{"", "/attachments"},
	}
	for _, tt := range tests {
		if got := filesPrefix(tt.in); got != tt.want {
			t.Errorf("filesPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
