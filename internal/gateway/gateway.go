// ABOUTME: Gateway that wires the booking assistant together and serves HTTP
// ABOUTME: Manages the store, assistant client, registry, webhook and listener lifecycle

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
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/clinic-gateway/internal/assistant"
	"github.com/2389/clinic-gateway/internal/auth"
	"github.com/2389/clinic-gateway/internal/config"
	"github.com/2389/clinic-gateway/internal/dedupe"
	"github.com/2389/clinic-gateway/internal/inbound"
	"github.com/2389/clinic-gateway/internal/orchestrator"
	"github.com/2389/clinic-gateway/internal/registry"
	"github.com/2389/clinic-gateway/internal/slots"
	"github.com/2389/clinic-gateway/internal/store"
	"github.com/2389/clinic-gateway/internal/tools"
	"github.com/2389/clinic-gateway/internal/whatsapp"
)

// Assistant is the remote assistant service: it creates conversations and
// runs turns in them.
type Assistant interface {
	orchestrator.Backend
	registry.Creator
}

// Deps are the external collaborators of a Gateway. New builds them from
// configuration; tests supply fakes through NewWithDeps.
type Deps struct {
	Store     store.Store
	Assistant Assistant
	// Handles overrides where conversation handles live. Defaults to Store.
	Handles registry.HandleStore
	// WhatsApp sends webhook replies. Required when whatsapp is enabled.
	WhatsApp whatsapp.Sender
	// Now overrides the clock used for slot rules.
	Now func() time.Time
	// RunOptions are applied after the configured polling options.
	RunOptions []orchestrator.Option
	// Closers are released on Shutdown after the store.
	Closers []func() error
}

// Gateway serves the clinic's HTTP surface: health, the WhatsApp webhook
// and the operator API.
type Gateway struct {
	config       *config.Config
	store        store.Store
	handles      registry.HandleStore
	assistant    Assistant
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	adapter      *inbound.Adapter
	checker      *slots.Checker
	whatsapp     *whatsapp.Handler
	verifier     *auth.JWTVerifier
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	closers      []func() error
	logger       *slog.Logger
	now          func() time.Time

	// dedupe drops webhook and bridge deliveries already processed
	dedupe *dedupe.Window
}

// openStore opens the booking database; tests replace it.
var openStore = initStore

// initStore opens the booking database, honouring CLINIC_DB_PATH.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CLINIC_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.Open(cfg.Database.Driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initHandles picks the conversation handle store named by registry.backend.
// The returned closer is nil unless a connection was opened.
func initHandles(ctx context.Context, cfg config.RegistryConfig, s store.Store) (registry.HandleStore, func() error, error) {
	switch cfg.Backend {
	case config.RegistryMemory:
		return registry.NewMemoryStore(), nil, nil
	case config.RegistryRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rs := registry.NewRedisStore(client, cfg.KeyPrefix, cfg.TTL)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return rs, client.Close, nil
	default:
		return s, nil, nil
	}
}

// release closes the store and every closer, for a Gateway that never started.
func (d Deps) release() error {
	var errs []error
	if d.Store != nil {
		errs = appendCloseError(errs, "store close", d.Store.Close())
	}
	for _, closeFn := range d.Closers {
		errs = appendCloseError(errs, "close", closeFn())
	}
	return errors.Join(errs...)
}

// New creates a Gateway with real collaborators built from cfg. Anything
// opened before a failure is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (gw *Gateway, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	deps := Deps{Store: s}
	defer func() {
		if err != nil {
			if closeErr := deps.release(); closeErr != nil {
				logger.Warn("releasing resources after failed start", "error", closeErr)
			}
		}
	}()

	client, err := assistant.New(assistant.Config{
		APIKey:         cfg.Assistant.APIKey,
		AssistantID:    cfg.Assistant.AssistantID,
		BaseURL:        cfg.Assistant.BaseURL,
		RequestTimeout: cfg.Assistant.RequestTimeout,
		MaxRetries:     cfg.Assistant.MaxRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating assistant client: %w", err)
	}
	deps.Assistant = client

	handles, closeHandles, err := initHandles(ctx, cfg.Registry, s)
	if err != nil {
		return nil, err
	}
	deps.Handles = handles
	if closeHandles != nil {
		deps.Closers = append(deps.Closers, closeHandles)
	}

	if cfg.WhatsApp.Enabled {
		sender, clientErr := whatsapp.NewClient(whatsapp.ClientConfig{
			AccessToken:   cfg.WhatsApp.AccessToken,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			BaseURL:       cfg.WhatsApp.BaseURL,
			APIVersion:    cfg.WhatsApp.APIVersion,
			SendRate:      cfg.WhatsApp.SendRate,
			SendBurst:     cfg.WhatsApp.SendBurst,
		})
		if clientErr != nil {
			return nil, fmt.Errorf("creating whatsapp client: %w", clientErr)
		}
		deps.WhatsApp = sender
	}

	return NewWithDeps(cfg, deps, logger)
}

// NewWithDeps creates a Gateway around the given collaborators.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Store == nil || deps.Assistant == nil {
		return nil, errors.New("gateway requires a store and an assistant")
	}
	if cfg.WhatsApp.Enabled && deps.WhatsApp == nil {
		return nil, errors.New("whatsapp is enabled but no sender was provided")
	}

	var verifier *auth.JWTVerifier
	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		verifier = v
	}

	handles := deps.Handles
	if handles == nil {
		handles = deps.Store
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	checker := slots.NewChecker(cfg.Clinic.Rules(), deps.Store)
	dispatcher := tools.NewDispatcher(checker, deps.Store, logger, tools.WithClock(now))
	runOpts := append([]orchestrator.Option{
		orchestrator.WithPollInterval(cfg.Orchestrator.PollInterval),
		orchestrator.WithMaxAttempts(cfg.Orchestrator.MaxAttempts),
	}, deps.RunOptions...)
	orch := orchestrator.New(deps.Assistant, dispatcher, logger, runOpts...)
	reg := registry.New(handles, deps.Assistant, logger)

	window := cfg.WhatsApp.DedupeWindow
	if window <= 0 {
		window = time.Hour
	}

	gw := &Gateway{
		config:       cfg,
		store:        deps.Store,
		handles:      handles,
		assistant:    deps.Assistant,
		registry:     reg,
		orchestrator: orch,
		adapter:      inbound.New(reg, orch, logger),
		checker:      checker,
		verifier:     verifier,
		closers:      deps.Closers,
		logger:       logger.With("component", "gateway"),
		now:          now,
		dedupe:       dedupe.New(window, cfg.WhatsApp.DedupeCapacity, dedupe.WithSweepInterval(time.Minute)),
	}

	if cfg.WhatsApp.Enabled {
		gw.whatsapp = whatsapp.NewHandler(whatsapp.HandlerConfig{
			VerifyToken:  cfg.WhatsApp.VerifyToken,
			AppSecret:    cfg.WhatsApp.AppSecret,
			ReplyTimeout: cfg.WhatsApp.ReplyTimeout,
		}, gw.adapter, deps.WhatsApp, gw.dedupe, logger)
		if cfg.WhatsApp.AppSecret == "" {
			gw.logger.Warn("whatsapp.app_secret not set - webhook signatures are not verified")
		}
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the gateway's HTTP routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	// The webhook authenticates with its own verify token and signature.
	if g.whatsapp != nil {
		mux.Handle("/webhook/whatsapp", g.whatsapp)
	}

	g.registerAPIRoutes(mux)
	return mux
}

// registerAPIRoutes registers API routes with or without auth middleware.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	staff := func(h http.HandlerFunc) http.Handler { return h }
	admin := staff
	if g.verifier != nil {
		authMiddleware := auth.Middleware(g.verifier, g.logger)
		staff = func(h http.HandlerFunc) http.Handler {
			return authMiddleware(auth.RequireRole(auth.RoleStaff)(h))
		}
		admin = func(h http.HandlerFunc) http.Handler {
			return authMiddleware(auth.RequireRole(auth.RoleAdmin)(h))
		}
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	mux.Handle("GET /api/bookings", staff(g.handleListBookings))
	mux.Handle("POST /api/bookings", staff(g.handleCreateBooking))
	mux.Handle("GET /api/bookings/{id}", staff(g.handleGetBooking))
	mux.Handle("PATCH /api/bookings/{id}", staff(g.handleUpdateBooking))
	mux.Handle("DELETE /api/bookings/{id}", admin(g.handleCancelBooking))
	mux.Handle("GET /api/availability", staff(g.handleAvailability))
	mux.Handle("POST /api/conversations", staff(g.handleCreateConversation))
	mux.Handle("POST /api/messages", staff(g.handleMessage))
}

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}
	return g.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is canceled, then shuts down.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout,
// since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
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
	return filepath.Join(homeDir, ".local", "share", "clinic-gateway", "tailscale"), nil
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

// setupTailscaleListener joins the tailnet and returns the HTTP listener.
// With funnel enabled the listener is reachable from the public internet,
// which the WhatsApp webhook needs.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
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
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(tsCfg config.TailscaleConfig, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	g.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
	if tsCfg.Funnel && dnsName != "" && g.whatsapp != nil {
		g.logger.Info("whatsapp webhook callback URL", "url", "https://"+dnsName+"/webhook/whatsapp")
	}
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
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

// Shutdown stops accepting requests, waits for in-flight webhook replies
// and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.whatsapp != nil {
		errs = appendCloseError(errs, "whatsapp replies", g.whatsapp.Wait(ctx))
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())
	for _, closeFn := range g.closers {
		errs = appendCloseError(errs, "close", closeFn())
	}
	g.dedupe.Close()

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type pinger interface {
	Ping(ctx context.Context) error
}

// handleReady returns 200 OK when the database and handle store respond.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "dependency", "database", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	if p, ok := g.handles.(pinger); ok && any(g.handles) != any(g.store) {
		if err := p.Ping(ctx); err != nil {
			g.logger.Warn("readiness check failed", "dependency", "registry", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("registry unavailable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
