// ABOUTME: Gateway orchestrator that wires the chat core to its HTTP, websocket and gRPC surfaces
// ABOUTME: Builds store, notifiers, attachment host and hub from config and manages server lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/shopchat/internal/attachment"
	"github.com/2389/shopchat/internal/auth"
	"github.com/2389/shopchat/internal/config"
	"github.com/2389/shopchat/internal/conversation"
	"github.com/2389/shopchat/internal/notify"
	"github.com/2389/shopchat/internal/store"
)

// readinessInterval is how often the gRPC health status is refreshed from the store.
const readinessInterval = 10 * time.Second

// Gateway owns the chat core and every server that exposes it.
type Gateway struct {
	config     *config.Config
	store      store.Store
	chat       *conversation.Service
	hub        *conversation.Hub
	notifier   conversation.Notifier
	uploader   *attachment.Uploader
	files      http.Handler // local attachment files, nil for remote hosts
	verifier   auth.TokenVerifier
	live       *liveRegistry
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	logger     *slog.Logger

	tsnetServer *tsnet.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the configured database. SHOPCHAT_DB_PATH overrides the path.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SHOPCHAT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.Open(cfg.Database.Driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildNotifier fans out to every enabled backend, falling back to the log
// when none is configured, and applies the per-thread throttle.
func buildNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (conversation.Notifier, error) {
	var backends []notify.Backend

	if n := cfg.Notify.NATS; n.Enabled {
		b, err := notify.NewNATS(ctx, notify.NATSOptions{
			URL:           n.URL,
			SubjectPrefix: n.SubjectPrefix,
			Stream:        n.Stream,
		}, logger)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}

	if w := cfg.Notify.Webhook; w.Enabled {
		b, err := notify.NewWebhook(notify.WebhookOptions{
			URL:     w.URL,
			Secret:  w.Secret,
			Timeout: w.Timeout,
		}, logger)
		if err != nil {
			_ = closeNotifier(notify.NewMulti(logger, backends...))
			return nil, err
		}
		backends = append(backends, b)
	}

	if m := cfg.Notify.Matrix; m.Enabled {
		b, err := notify.NewMatrix(notify.MatrixOptions{
			Homeserver:  m.Homeserver,
			UserID:      m.UserID,
			AccessToken: m.AccessToken,
			RoomID:      m.RoomID,
		}, logger)
		if err != nil {
			_ = closeNotifier(notify.NewMulti(logger, backends...))
			return nil, err
		}
		backends = append(backends, b)
	}

	if len(backends) == 0 {
		backends = append(backends, notify.NewLogNotifier(logger))
	}

	multi := notify.NewMulti(logger, backends...)
	logger.Info("notification backends configured", "backends", multi.Backends(), "throttle", cfg.Chat.NotifyThrottle)
	return notify.NewThrottled(multi, cfg.Chat.NotifyThrottle), nil
}

func closeNotifier(n any) error {
	if c, ok := n.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// buildAttachmentHost returns the configured host and, for local storage, the
// handler that serves stored files.
func buildAttachmentHost(cfg *config.Config) (attachment.Host, http.Handler, error) {
	a := cfg.Attachments
	switch a.Backend {
	case "cos":
		h, err := attachment.NewCOSHost(attachment.COSOptions{
			BucketURL: a.COS.BucketURL,
			SecretID:  a.COS.SecretID,
			SecretKey: a.COS.SecretKey,
			Prefix:    a.COS.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return h, nil, nil
	default:
		h, err := attachment.NewLocalHost(a.LocalDir, a.PublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return h, h.Handler(), nil
	}
}

// filesPrefix is the path the local attachment handler is mounted under.
func filesPrefix(publicBaseURL string) string {
	u, err := url.Parse(publicBaseURL)
	if err != nil || u.Path == "" {
		return "/attachments"
	}
	return u.Path
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := newWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

func newWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notifier, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("configuring notifications: %w", err)
	}

	host, files, err := buildAttachmentHost(cfg)
	if err != nil {
		_ = closeNotifier(notifier)
		return nil, fmt.Errorf("configuring attachments: %w", err)
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			_ = closeNotifier(notifier)
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		verifier = v
	}
	if cfg.Auth.DevHeadersEnabled() {
		logger.Warn("dev identity headers enabled - callers are trusted by X-User-ID")
	}

	var authorizer conversation.ClaimAuthorizer
	if cfg.Chat.RestrictClaims {
		authorizer = auth.NewRoleClaimAuthorizer(s)
	}

	chat := conversation.New(s, conversation.Options{
		Notifier:       notifier,
		Authorizer:     authorizer,
		Logger:         logger,
		SystemMessages: cfg.Chat.SystemMessages,
		GeneralSubject: cfg.Chat.GeneralSubject,
		DeepLinkPrefix: cfg.Chat.DeepLinkPrefix,
	})
	hub := conversation.NewHub(chat, logger)
	chat.SetBroadcaster(hub)

	grpcServer, healthServer := newGRPCServer()

	gw := &Gateway{
		config:     cfg,
		store:      s,
		chat:       chat,
		hub:        hub,
		notifier:   notifier,
		uploader:   attachment.NewUploader(host, cfg.Attachments.MaxBytes, logger),
		files:      files,
		verifier:   verifier,
		live:       newLiveRegistry(),
		grpcServer: grpcServer,
		health:     healthServer,
		logger:     logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.newRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler serving the REST API, websocket and health endpoints.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates standard TCP listeners. The gRPC listener is nil
// when no gRPC address is configured.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.config.Server.GRPCAddr == "" {
		return nil, httpLn, nil
	}

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or the first server error.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if grpcLn != nil {
		eg.Go(func() error {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		g.watchReadiness(egCtx)
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// watchReadiness mirrors store reachability into the gRPC health status.
func (g *Gateway) watchReadiness(ctx context.Context) {
	ticker := time.NewTicker(readinessInterval)
	defer ticker.Stop()

	for {
		g.refreshHealth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "shopchat", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.createTailscaleHTTPListener(tsCfg)
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener listens on Funnel :443 with Tailscale certs, or
// plain :80 on the tailnet.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	if !tsCfg.Funnel {
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}

	g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
	ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
	if err == nil {
		return ln, nil
	}
	g.logger.Warn("funnel unavailable, falling back to tailnet-only HTTPS", "error", err)

	ln, err = g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
// Safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Hijacked websocket connections are not tracked by http.Server.
	g.live.closeAll()
	g.hub.Close()

	g.shutdownGRPCServer(ctx)

	// Let in-flight notifications finish before closing their backends.
	g.chat.Wait()
	errs = appendCloseError(errs, "notifier close", closeNotifier(g.notifier))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d live connections)", g.hub.TotalConnections())
}
