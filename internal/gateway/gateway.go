// ABOUTME: Gateway orchestrator that wires the store, model proxy and HTTP/gRPC servers
// ABOUTME: Manages listeners (TCP or tailnet), health endpoints and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/slotchat/internal/auth"
	"github.com/2389/slotchat/internal/config"
	"github.com/2389/slotchat/internal/conversation"
	"github.com/2389/slotchat/internal/idempotency"
	"github.com/2389/slotchat/internal/llm"
	"github.com/2389/slotchat/internal/store"
	"github.com/2389/slotchat/internal/webui"
)

// Gateway orchestrates the slotchat server components.
type Gateway struct {
	config       *config.Config
	store        store.Store
	conversation *conversation.Service
	broadcaster  *conversation.Broadcaster
	idempotency  idempotency.Store
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	webUI        *webui.UI
	logger       *slog.Logger

	// verifier is nil when auth is disabled
	verifier auth.TokenVerifier

	// grpcServer serves grpc.health.v1 only; nil when no gRPC listener is configured
	grpcServer   *grpc.Server
	healthServer *health.Server
	stopProbe    context.CancelFunc
}

// initStore opens the configured backend. SLOTCHAT_DB_PATH overrides the SQLite path.
func initStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	opts := store.Options{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		URL:    cfg.Database.URL,
		Name:   cfg.Database.Name,
	}
	if envPath := os.Getenv("SLOTCHAT_DB_PATH"); envPath != "" && (opts.Driver == "" || opts.Driver == store.DriverSQLite) {
		opts.Path = envPath
	}

	s, err := store.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// llmConfig converts the config section into proxy settings
func llmConfig(cfg config.LLMConfig) llm.Config {
	return llm.Config{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		Timeout:      cfg.Timeout,
	}
}

// createVerifier returns the token verifier for the configured auth mode,
// or nil when auth is disabled.
func createVerifier(cfg config.AuthConfig) (auth.TokenVerifier, error) {
	var opts []auth.Option
	if cfg.Issuer != "" {
		opts = append(opts, auth.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, auth.WithAudience(cfg.Audience))
	}

	switch {
	case cfg.JWTSecret != "":
		v, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret), opts...)
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		return v, nil
	case cfg.PublicKeyFile != "":
		v, err := auth.NewRSAVerifierFromFile(cfg.PublicKeyFile, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating RSA verifier: %w", err)
		}
		return v, nil
	default:
		return nil, nil
	}
}

// createIdempotencyStore returns the replay store for the configured backend.
func createIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *slog.Logger) (idempotency.Store, error) {
	if cfg.Backend == "redis" {
		rs, err := idempotency.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPrefix, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("connecting idempotency redis: %w", err)
		}
		logger.Info("idempotency keys stored in redis", "addr", cfg.RedisAddr)
		return rs, nil
	}
	return idempotency.NewMemoryStore(cfg.TTL, cfg.MaxEntries), nil
}

// New creates a new Gateway instance with the given configuration.
// It opens the configured store and builds the model client.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	llmCfg := llmConfig(cfg.LLM)
	if llmCfg.APIKey == "" {
		logger.Warn("llm.api_key not set - model requests will be rejected upstream")
	}
	proxy := llm.NewProxy(llm.NewClient(llmCfg), llmCfg, logger)

	gw, err := newGateway(ctx, cfg, logger, s, proxy)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway assembles a Gateway around an already opened store and querier.
func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger, s store.Store, querier conversation.Querier) (*Gateway, error) {
	verifier, err := createVerifier(cfg.Auth)
	if err != nil {
		return nil, err
	}

	idem, err := createIdempotencyStore(ctx, cfg.Idempotency, logger)
	if err != nil {
		return nil, err
	}

	broadcaster := conversation.NewBroadcaster(logger)
	convService := conversation.New(s, querier, logger)
	convService.SetBroadcaster(broadcaster)

	gw := &Gateway{
		config:       cfg,
		store:        s,
		conversation: convService,
		broadcaster:  broadcaster,
		idempotency:  idem,
		verifier:     verifier,
		logger:       logger.With("component", "gateway"),
	}

	if cfg.Server.GRPCAddr != "" || cfg.Tailscale.Enabled {
		gw.grpcServer, gw.healthServer = createGRPCServer()
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	gw.registerHTTPAPIRoutes(mux)

	if cfg.WebUI.IsEnabled() {
		gw.webUI = webui.New(webui.Config{
			Service:     convService,
			Broadcaster: broadcaster,
			Title:       cfg.WebUI.Title,
			AuthEnabled: verifier != nil,
			Logger:      logger,
		})
		gw.webUI.RegisterRoutes(mux, gw.requireAuth)
		gw.logger.Info("chat page enabled at /")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Event streams never finish on their own; ending them lets Shutdown drain
	gw.httpServer.RegisterOnShutdown(broadcaster.Close)

	return gw, nil
}

// requireAuth wraps h with bearer-token auth when a verifier is configured.
func (g *Gateway) requireAuth(h http.Handler) http.Handler {
	if g.verifier == nil {
		return h
	}
	return auth.HTTPAuthMiddleware(g.verifier, g.logger)(h)
}

// registerHTTPAPIRoutes registers the JSON API, behind auth when configured.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"/api/conversation_post":   g.handleConversationPost,
		"/api/conversation_list":   g.handleConversationList,
		"/api/conversation_get":    g.handleConversationGet,
		"/api/conversation_new":    g.handleConversationNew,
		"/api/conversation_rename": g.handleConversationRename,
		"/api/groq":                g.handleGroq,
		"/api/turn":                g.handleTurn,
	}
	for path, h := range routes {
		mux.Handle(path, g.requireAuth(h))
	}

	if g.verifier != nil {
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no jwt_secret or public_key_file configured; request uids are trusted")
	}
}

// setupTCPListeners creates standard TCP listeners for HTTP and, if configured, gRPC.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
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

// startServers starts the servers in goroutines, returning the error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and blocks until the context is canceled or a server fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	if g.healthServer != nil {
		probeCtx, cancel := context.WithCancel(context.Background())
		g.stopProbe = cancel
		go g.probeStore(probeCtx, storeProbeInterval)
	}

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
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
	return filepath.Join(homeDir, ".local", "share", "slotchat", "tailscale"), nil
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

// setupTailscaleListeners joins the tailnet and returns listeners for gRPC and HTTP.
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

	httpLn, err = g.createTailscaleHTTPListener(tsCfg, grpcLn)
	if err != nil {
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

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig, grpcLn net.Listener) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener(grpcLn)
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener(grpcLn net.Listener) (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.stopProbe != nil {
		g.stopProbe()
	}
	if g.grpcServer != nil {
		g.shutdownGRPCServer(ctx)
	}

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "idempotency close", g.idempotency.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	g.broadcaster.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
