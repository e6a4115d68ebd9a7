// Package api serves the admin HTTP surface: health, the live connection
// snapshot, per-connection lifecycle history and forced disconnects.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"roomcast/pkg/types"
)

// Inspector exposes the live registry. Implementations run queries on the
// run loop.
type Inspector interface {
	Connections(ctx context.Context) ([]types.ConnectionInfo, error)
	Stats(ctx context.Context) (map[string]int, error)
	Disconnect(ctx context.Context, id string) (bool, error)
}

// HistoryStore reads the lifecycle journal.
type HistoryStore interface {
	History(ctx context.Context, connectionID string) ([]types.LifecycleEvent, error)
	Recent(ctx context.Context, limit int) ([]types.LifecycleEvent, error)
	Counts(ctx context.Context) (map[string]int, error)
	HealthCheck(ctx context.Context) error
}

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
)

// Server routes admin requests. A nil HistoryStore disables the history
// endpoints.
type Server struct {
	inspector Inspector
	history   HistoryStore
	logger    *zap.Logger
	started   time.Time
	router    *http.ServeMux
}

func NewServer(inspector Inspector, history HistoryStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		inspector: inspector,
		history:   history,
		logger:    logger.With(zap.String("component", "api")),
		started:   time.Now(),
		router:    http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/connections", admin(s.handleConnections))
	s.router.Handle("/api/connections/", admin(s.handleConnectionByID))
	s.router.Handle("/api/events", admin(s.handleRecentEvents))
	s.router.Handle("/health", admin(s.healthCheck))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ConnectionsResponse struct {
	Connections []types.ConnectionInfo `json:"connections"`
	Stats       map[string]int         `json:"stats"`
}

type ConnectionResponse struct {
	Connection types.ConnectionInfo `json:"connection"`
}

type EventsResponse struct {
	ConnectionID string                 `json:"connection_id,omitempty"`
	Events       []types.LifecycleEvent `json:"events"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Journal     string         `json:"journal"`
	Connections map[string]int `json:"connections"`
	Events      map[string]int `json:"events,omitempty"`
	Uptime      string         `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/connections
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conns, err := s.inspector.Connections(r.Context())
	if err != nil {
		s.logger.Warn("list connections failed", zap.Error(err))
		s.sendError(w, "Failed to list connections", http.StatusServiceUnavailable)
		return
	}
	stats, err := s.inspector.Stats(r.Context())
	if err != nil {
		s.logger.Warn("connection stats failed", zap.Error(err))
		s.sendError(w, "Failed to read connection stats", http.StatusServiceUnavailable)
		return
	}

	s.sendJSON(w, http.StatusOK, ConnectionsResponse{Connections: conns, Stats: stats})
}

// /api/connections/{id} and /api/connections/{id}/events
func (s *Server) handleConnectionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/connections/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		s.sendError(w, "Connection ID required", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			s.getConnection(w, r, id)
		case http.MethodDelete:
			s.disconnect(w, r, id)
		default:
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "events":
		if r.Method != http.MethodGet {
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.connectionEvents(w, r, id)
	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) getConnection(w http.ResponseWriter, r *http.Request, id string) {
	conns, err := s.inspector.Connections(r.Context())
	if err != nil {
		s.sendError(w, "Failed to list connections", http.StatusServiceUnavailable)
		return
	}
	for _, info := range conns {
		if info.ID == id {
			s.sendJSON(w, http.StatusOK, ConnectionResponse{Connection: info})
			return
		}
	}
	s.sendError(w, "Connection not found", http.StatusNotFound)
}

// DELETE /api/connections/{id} asks the transport to close; the close
// callback fires when the transport confirms.
func (s *Server) disconnect(w http.ResponseWriter, r *http.Request, id string) {
	found, err := s.inspector.Disconnect(r.Context(), id)
	if err != nil {
		s.logger.Warn("disconnect failed", zap.String("connection_id", id), zap.Error(err))
		s.sendError(w, "Failed to disconnect", http.StatusServiceUnavailable)
		return
	}
	if !found {
		s.sendError(w, "Connection not found", http.StatusNotFound)
		return
	}
	s.logger.Info("disconnect requested", zap.String("connection_id", id))
	s.sendJSON(w, http.StatusAccepted, map[string]string{"message": "Close requested"})
}

func (s *Server) connectionEvents(w http.ResponseWriter, r *http.Request, id string) {
	if s.history == nil {
		s.sendError(w, "Journal disabled", http.StatusServiceUnavailable)
		return
	}
	events, err := s.history.History(r.Context(), id)
	if err != nil {
		s.logger.Warn("history query failed", zap.String("connection_id", id), zap.Error(err))
		s.sendError(w, "Failed to read history", http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		s.sendError(w, "No history for connection", http.StatusNotFound)
		return
	}
	s.sendJSON(w, http.StatusOK, EventsResponse{ConnectionID: id, Events: events})
}

// GET /api/events?limit=N
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.sendError(w, "Journal disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRecentLimit {
			s.sendError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Warn("recent events query failed", zap.Error(err))
		s.sendError(w, "Failed to read events", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, EventsResponse{Events: events})
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	journalStatus := "disabled"
	var events map[string]int
	if s.history != nil {
		journalStatus = "healthy"
		err := s.history.HealthCheck(ctx)
		if err == nil {
			events, err = s.history.Counts(ctx)
		}
		if err != nil {
			status = "unhealthy"
			journalStatus = "error: " + err.Error()
		}
	}

	stats, err := s.inspector.Stats(ctx)
	if err != nil {
		status = "unhealthy"
		stats = map[string]int{}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Journal:     journalStatus,
		Connections: stats,
		Events:      events,
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsHeaders go on reads and preflights only. Cross-origin pages may read
// the admin surface but never disconnect clients.
var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type, Authorization",
	"Access-Control-Max-Age":       "86400",
}

// admin sets JSON and CORS headers and answers preflight requests.
func admin(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet || r.Method == http.MethodOptions {
			for k, v := range corsHeaders {
				w.Header().Set(k, v)
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		fn(w, r)
	})
}
