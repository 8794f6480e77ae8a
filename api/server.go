package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wricardo/tilemap-generator/logging"
	"github.com/wricardo/tilemap-generator/metrics"
	"github.com/wricardo/tilemap-generator/tilemap/export"
	"github.com/wricardo/tilemap-generator/tilemap/registry"
)

// Registry is the subset of *registry.Registry the API drives.
type Registry interface {
	Snapshot() registry.State
	Load(name string) error
	Add(name string, x, y int) error
	ImportConfig(name string, cfg registry.Configuration) error
	Remove(ctx context.Context) error
	Update()
	Edit(fn func(*registry.Configuration) error) error
	Save(ctx context.Context) error
	IsKeyAvailable(name string) bool
	ExportConfig() (export.Artifact, error)
	Export(ctx context.Context, sink export.Sink) (export.Artifact, error)
	SelectTile(id json.RawMessage)
}

// WebSocketHandler serves the /ws endpoint.
type WebSocketHandler interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Config tunes the server.
type Config struct {
	// RequestsPerMinute limits mutating requests per client IP. Zero
	// disables the limit.
	RequestsPerMinute int

	// ExportSink receives artifacts from POST /api/export. When nil that
	// route answers 501.
	ExportSink export.Sink
}

// Server represents the REST API server
type Server struct {
	registry Registry
	hub      WebSocketHandler
	sink     export.Sink
	router   *mux.Router
}

// NewServer creates a new API server. hub may be nil, in which case /ws
// answers 503.
func NewServer(reg Registry, hub WebSocketHandler, cfg Config) *Server {
	s := &Server{
		registry: reg,
		hub:      hub,
		sink:     cfg.ExportSink,
		router:   mux.NewRouter().UseEncodedPath(),
	}

	s.setupRoutes(cfg)
	return s
}

// setupRoutes registers every route. The router matches the escaped path,
// so handlers unescape path variables themselves; configuration names may
// contain "/".
func (s *Server) setupRoutes(cfg Config) {
	s.router.Use(requestID, accessLog)

	api := s.router.PathPrefix("/api").Subrouter()

	// Reads
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/configs", s.handleListConfigs).Methods(http.MethodGet)
	api.HandleFunc("/configs/available", s.handleAvailable).Methods(http.MethodGet)
	api.HandleFunc("/current", s.handleGetCurrent).Methods(http.MethodGet)
	api.HandleFunc("/export", s.handleDownloadExport).Methods(http.MethodGet)

	// Mutations share one per-IP budget.
	limit := rateLimit(cfg.RequestsPerMinute)
	mutate := func(path string, h http.HandlerFunc, method string) {
		api.Handle(path, limit(h)).Methods(method)
	}
	mutate("/configs", s.handleAddConfig, http.MethodPost)
	mutate("/configs/{name}/load", s.handleLoadConfig, http.MethodPost)
	mutate("/current", s.handleEditCurrent, http.MethodPut)
	mutate("/current/touch", s.handleTouchCurrent, http.MethodPost)
	mutate("/current", s.handleRemoveCurrent, http.MethodDelete)
	mutate("/save", s.handleSave, http.MethodPost)
	mutate("/export", s.handleDeliverExport, http.MethodPost)
	mutate("/import", s.handleImport, http.MethodPost)
	mutate("/selected-tile", s.handleSelectTile, http.MethodPut)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the mux so callers can mount extra handlers such as /mcp.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	metrics.RecordAPIError(strconv.Itoa(status))
	respondJSON(w, status, map[string]string{"error": message})
}

// respondRegistryError maps registry and decode errors to HTTP status codes.
func respondRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrDuplicateName), errors.Is(err, registry.ErrEditConflict):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrConfigNotFound), errors.Is(err, registry.ErrNoCurrentConfig):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrInvalidName),
		errors.Is(err, registry.ErrInvalidDimensions),
		errors.Is(err, registry.ErrInvalidPayload),
		errors.Is(err, registry.ErrEmptyImport):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("registry operation failed")
	}
	respondError(w, status, err.Error())
}
