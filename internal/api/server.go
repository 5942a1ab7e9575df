// Package api implements the NeoC network host: a WebSocket endpoint
// that carries input messages to the thinking loop and output events
// back to clients, plus a few JSON endpoints for health and state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/neoc/internal/buildinfo"
	"github.com/nugget/neoc/internal/connwatch"
	"github.com/nugget/neoc/internal/events"
	"github.com/nugget/neoc/internal/loop"
	"github.com/nugget/neoc/internal/memory"
	"github.com/nugget/neoc/internal/usage"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// InputQueue accepts messages for the loop. Satisfied by
// *mailbox.Queue[string].
type InputQueue interface {
	Push(string)
}

// StatusSource reports the loop's state. Satisfied by *loop.Loop.
type StatusSource interface {
	Status() loop.Status
}

// MemoryReader lists long-term memories. Satisfied by
// *memory.SQLiteStore.
type MemoryReader interface {
	Recent(ctx context.Context, kind string, limit int) ([]memory.Record, error)
}

// HealthSource reports the reachability of external services.
// Satisfied by *connwatch.Manager.
type HealthSource interface {
	Services() []connwatch.ServiceStatus
}

// UsageReader aggregates role token usage. Satisfied by *usage.Store.
type UsageReader interface {
	Summary(ctx context.Context, start, end time.Time) (usage.Summary, error)
	SummaryByRole(ctx context.Context, start, end time.Time) (map[string]usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]usage.Summary, error)
}

// Deps holds the server's collaborators. Memory, Health, and Usage are
// optional.
type Deps struct {
	Input  InputQueue
	Bus    *events.Bus
	Status StatusSource
	Memory MemoryReader
	Health HealthSource
	Usage  UsageReader
	Logger *slog.Logger
}

// Server is the HTTP and WebSocket server.
type Server struct {
	address string
	port    int
	deps    Deps
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a server listening on address:port.
func NewServer(address string, port int, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		deps:    deps,
		logger:  deps.Logger.With("component", "api"),
	}
}

// Handler returns the server's routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/memories", s.handleMemories)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("POST /v1/input", s.handleInput)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// healthResponse is the body of /healthz. The loop itself is healthy
// whenever the server answers; unreachable services only degrade it.
type healthResponse struct {
	Status   string                    `json:"status"`
	Services []connwatch.ServiceStatus `json:"services,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy"}
	if s.deps.Health != nil {
		resp.Services = s.deps.Health.Services()
		for _, svc := range resp.Services {
			if !svc.Ready {
				resp.Status = "degraded"
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	info := buildinfo.Info()
	info["uptime"] = buildinfo.Uptime().Round(time.Second).String()
	writeJSON(w, info, s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.deps.Status.Status(), s.logger)
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	if s.deps.Memory == nil {
		http.Error(w, "long-term memory not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}

	records, err := s.deps.Memory.Recent(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		s.logger.Error("memory query failed", "error", err)
		http.Error(w, "memory query failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []memory.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"memories": records}, s.logger)
}

// handleUsage reports role token usage over the last ?hours (default
// 24).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		http.Error(w, "usage tracking not configured", http.StatusServiceUnavailable)
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "hours must be a positive integer", http.StatusBadRequest)
			return
		}
		hours = n
	}
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	total, err := s.deps.Usage.Summary(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage query failed", "error", err)
		http.Error(w, "usage query failed", http.StatusInternalServerError)
		return
	}
	byRole, err := s.deps.Usage.SummaryByRole(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage query failed", "error", err)
		http.Error(w, "usage query failed", http.StatusInternalServerError)
		return
	}
	byModel, err := s.deps.Usage.SummaryByModel(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage query failed", "error", err)
		http.Error(w, "usage query failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"start":    start.UTC(),
		"end":      end.UTC(),
		"total":    total,
		"by_role":  byRole,
		"by_model": byModel,
	}, s.logger)
}

// inputRequest is the body of POST /v1/input.
type inputRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if !sameOrigin(r) {
		http.Error(w, "cross-origin input refused", http.StatusForbidden)
		return
	}
	var req inputRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	s.deps.Input.Push(req.Message)
	w.WriteHeader(http.StatusAccepted)
}
