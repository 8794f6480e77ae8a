// Command tilemap-generator serves the tile-map configuration registry.
//
// It supports two modes:
//  1. "server" (default) – runs the HTTP server exposing REST API, WebSocket, metrics and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server and spins up an internal HTTP API if none is available
//
// Settings come from an optional YAML file, TILEMAP_* environment variables
// (a .env file is honoured) and the flags below, in that order.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/wricardo/tilemap-generator/api"
	"github.com/wricardo/tilemap-generator/logging"
	"github.com/wricardo/tilemap-generator/metrics"
	"github.com/wricardo/tilemap-generator/settings"
	"github.com/wricardo/tilemap-generator/tilemap/export"
	"github.com/wricardo/tilemap-generator/tilemap/registry"
	"github.com/wricardo/tilemap-generator/tilemap/storage"
	"github.com/wricardo/tilemap-generator/transport/mcp"
	"github.com/wricardo/tilemap-generator/transport/websocket"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Tilemap Generator Server"
)

const shutdownTimeout = 10 * time.Second

// Command-line flags override the settings file and environment.
var (
	configPath   = flag.String("config", os.Getenv("TILEMAP_CONFIG"), "Settings YAML file (optional)")
	port         = flag.Int("port", 0, "HTTP server port (overrides settings)")
	host         = flag.String("host", "", "HTTP server host (overrides settings)")
	backend      = flag.String("backend", "", "Storage backend: memory, file, sqlite, badger, redis (overrides settings)")
	storagePath  = flag.String("storage-path", "", "Storage directory or sqlite file (overrides settings)")
	autoload     = flag.String("autoload", "", "Configuration to load after startup (debug aid)")
	debug        = flag.Bool("debug", false, "Enable debug logging")
	version      = flag.Bool("version", false, "Show version information")
	ngrokEnabled = flag.Bool("ngrok", false, "Enable ngrok tunnel")
	ngrokAuth    = flag.String("ngrok-auth", "", "Ngrok auth token (or use NGROK_AUTHTOKEN env var)")
	ngrokDomain  = flag.String("ngrok-domain", "", "Custom ngrok domain (optional)")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [MODE]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "%s v%s\n\n", AppName, Version)
		fmt.Fprintf(os.Stderr, "Available modes:\n")
		fmt.Fprintf(os.Stderr, "  server, http     Run HTTP server with API, WebSocket, and MCP endpoint (default)\n")
		fmt.Fprintf(os.Stderr, "  stdio-mcp        Run MCP stdio server with internal HTTP server\n")
		fmt.Fprintf(os.Stderr, "  mcp-stdio        Alias for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "  mcp              Alias for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                              # Run HTTP server with file storage in ./data\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -backend sqlite -port 9090   # Use sqlite storage on port 9090\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config tilemap.yaml         # Load settings (hot-reloaded)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s stdio-mcp                    # Run MCP stdio server\n", os.Args[0])
	}
}

func main() {
	// Load .env before settings so TILEMAP_* values from it apply.
	envErr := godotenv.Load()

	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, Version)
		os.Exit(0)
	}

	args := flag.Args()
	mode := "server"
	if len(args) > 0 {
		mode = args[0]
	}

	cfg, err := settings.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg)

	logCfg := logging.Config{Level: cfg.Log.Level}
	if mode != "server" && mode != "http" {
		// stdout carries the MCP protocol.
		logCfg.Output = os.Stderr
	}
	logging.Configure(logCfg)
	logger := logging.WithComponent("main")

	if envErr != nil && !os.IsNotExist(envErr) {
		logger.Warn().Err(envErr).Msg("error loading .env file")
	}

	logger.Info().
		Str("version", Version).
		Str("mode", mode).
		Str("backend", cfg.Storage.Backend).
		Msg("starting " + AppName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "stdio-mcp", "mcp-stdio", "mcp":
		err = runStdioMCPWithInternalServer(ctx, cfg)
	case "server", "http":
		err = runServer(ctx, cfg, *configPath)
	default:
		logger.Fatal().Str("mode", mode).Msg("unknown mode, use 'server' (default) or 'stdio-mcp'")
	}
	if err != nil {
		logger.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

// runServer opens storage and serves HTTP until ctx is done.
func runServer(ctx context.Context, cfg settings.Config, configPath string) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()

	holder := settings.NewHolder(cfg, configPath)
	holder.OnReload(a.applySettings)
	return runHTTPServer(ctx, a, holder, cfg)
}

// applyFlags lets explicitly set flags win over settings.
func applyFlags(cfg *settings.Config) {
	if *port != 0 {
		cfg.HTTP.Port = *port
	}
	if *host != "" {
		cfg.HTTP.Host = *host
	}
	if *backend != "" {
		cfg.Storage.Backend = *backend
	}
	if *storagePath != "" {
		cfg.Storage.Path = *storagePath
	}
	if *autoload != "" {
		cfg.Registry.Autoload = *autoload
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
}

// app holds the long-lived components shared by both modes.
type app struct {
	store  storage.Storage
	reg    *registry.Registry
	hub    *websocket.Hub
	sink   export.Sink
	cfg    settings.Config
	logger zerolog.Logger
	closed bool
}

func newApp(ctx context.Context, cfg settings.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.Options())
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	reg := registry.New(store, registry.WithPolicy(cfg.Registry))
	reg.Subscribe(metrics.Observe)

	hub := websocket.NewHub(reg.Snapshot)
	reg.Subscribe(hub.Broadcast)

	if err := reg.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load configurations: %w", err)
	}

	a := &app{
		store:  store,
		reg:    reg,
		hub:    hub,
		cfg:    cfg,
		logger: logging.WithComponent("main"),
	}
	if cfg.Export.Dir != "" {
		sink, err := export.NewDirSink(cfg.Export.Dir)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.sink = sink
	}
	return a, nil
}

// applySettings is the settings reload listener. Only the registry policy
// and log level change at runtime.
func (a *app) applySettings(cfg settings.Config) {
	a.reg.SetPolicy(cfg.Registry)
	if !logging.SetLevel(cfg.Log.Level) {
		a.logger.Warn().Str("level", cfg.Log.Level).Msg("ignoring invalid log level")
	}
}

// handler builds the API router with the /mcp endpoint mounted. mcpBaseURL
// is where the MCP proxy sends its REST calls.
func (a *app) handler(mcpBaseURL string) http.Handler {
	apiServer := api.NewServer(a.reg, a.hub, api.Config{
		RequestsPerMinute: a.cfg.RateLimit.RequestsPerMinute,
		ExportSink:        a.sink,
	})

	mcpClient := mcp.NewClient(mcpBaseURL)
	apiServer.Router().HandleFunc("/mcp", mcpHandler(mcpClient)).Methods(http.MethodPost)
	return apiServer
}

func (a *app) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.store.Close()
}

// mcpHandler answers one JSON-RPC message per POST.
func mcpHandler(client *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := client.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// runHTTPServer serves until ctx is cancelled. If ngrok is enabled (via flag
// or environment), it also provisions a public tunnel.
func runHTTPServer(ctx context.Context, a *app, holder *settings.Holder, cfg settings.Config) error {
	logger := a.logger
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	handler := a.handler(fmt.Sprintf("http://%s", addr))

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.hub.Run(gctx) })
	g.Go(func() error { return holder.Watch(gctx) })

	g.Go(func() error {
		logger.Info().
			Str("addr", addr).
			Str("api", fmt.Sprintf("http://%s/api", addr)).
			Str("websocket", fmt.Sprintf("ws://%s/ws", addr)).
			Str("mcp", fmt.Sprintf("http://%s/mcp", addr)).
			Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
		}
		return nil
	})

	if ngrokRequested() {
		g.Go(func() error { return serveNgrok(gctx, handler, logger) })
	}

	return g.Wait()
}

func ngrokRequested() bool {
	if *ngrokEnabled {
		return true
	}
	env := os.Getenv("NGROK_ENABLED")
	return env == "true" || env == "1"
}

// serveNgrok exposes handler through an ngrok tunnel. Tunnel failures are
// logged and do not stop the local server.
func serveNgrok(ctx context.Context, handler http.Handler, logger zerolog.Logger) error {
	authToken := *ngrokAuth
	if authToken == "" {
		authToken = os.Getenv("NGROK_AUTHTOKEN")
		if authToken == "" {
			authToken = os.Getenv("NGROK_AUTH_TOKEN")
		}
	}
	if authToken == "" {
		logger.Warn().Msg("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN env var)")
		return nil
	}

	domain := *ngrokDomain
	if domain == "" {
		domain = os.Getenv("NGROK_DOMAIN")
	}

	var tunnel ngrokConfig.Tunnel
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
		logger.Info().Str("domain", domain).Msg("using custom ngrok domain")
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		logger.Error().Err(err).Msg("failed to start ngrok tunnel")
		return nil
	}

	srv := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		srv.Close()
		tun.Close()
	}()

	logger.Info().Str("url", tun.URL()).Msg("ngrok tunnel established")
	if err := srv.Serve(tun); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn().Err(err).Msg("ngrok server error")
	}
	logger.Info().Msg("ngrok tunnel closed")
	return nil
}

// runStdioMCPWithInternalServer runs an MCP stdio server. It reuses an API
// already listening on the configured address; otherwise it starts an
// internal one on a random loopback port and targets that.
func runStdioMCPWithInternalServer(ctx context.Context, cfg settings.Config) error {
	logger := logging.WithComponent("main")

	baseURL, a, err := resolveMCPBackend(ctx, cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if a != nil {
		defer a.Close()
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = "http://" + listener.Addr().String()
		logger.Info().Str("url", baseURL).Msg("starting internal HTTP server for MCP stdio")

		internal := &http.Server{Handler: a.handler(baseURL)}
		g.Go(func() error { return a.hub.Run(gctx) })
		g.Go(func() error {
			if err := internal.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return internal.Close()
		})
	}

	mcpClient := mcp.NewClient(baseURL)
	g.Go(func() error {
		logger.Info().Msg("MCP stdio server ready")
		stdio := server.NewStdioServer(mcpClient.GetMCPServer())
		err := stdio.Listen(gctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server error: %w", err)
		}
		return errStdioDone
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errStdioDone) {
		return err
	}
	return nil
}

// resolveMCPBackend returns the URL of a running API server for cfg. When
// none answers, it opens storage and returns an app to serve internally;
// the caller picks the internal address. Storage stays untouched while an
// external server owns it.
func resolveMCPBackend(ctx context.Context, cfg settings.Config) (string, *app, error) {
	externalURL := fmt.Sprintf("http://%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	if externalAPIAvailable(ctx, externalURL) {
		logger := logging.WithComponent("main")
		logger.Info().
			Str("url", externalURL).
			Msg("external API server found, using it for MCP")
		return externalURL, nil, nil
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return "", nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return "", a, nil
}

func externalAPIAvailable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// errStdioDone stops the group once the stdio peer disconnects.
var errStdioDone = errors.New("stdio session ended")
