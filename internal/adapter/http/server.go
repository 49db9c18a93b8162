package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hydrowatch/flood-telemetry-service/internal/domain"
	"github.com/hydrowatch/flood-telemetry-service/internal/store/sqlite"
)

const maxIngestBody = 1 << 20

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Ingestor derives and stores a record from a raw telemetry payload. The
// pipeline transformer satisfies this, so HTTP ingest and Kafka consumption
// share one derivation path.
type Ingestor interface {
	IngestPayload(ctx context.Context, payload []byte) (domain.DerivedRecord, error)
}

// ReadStore serves the query endpoints.
type ReadStore interface {
	LatestTelemetry(ctx context.Context, nodeID string, limit int) ([]domain.DerivedRecord, error)
	ForecastsForNode(ctx context.Context, nodeID string) ([]sqlite.ForecastRow, error)
	LatestAlerts(ctx context.Context, limit int) ([]domain.Alert, error)
}

// Server exposes ingest, query, health, readiness, and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	ingestor   Ingestor
	store      ReadStore
	logger     *slog.Logger
}

// NewServer creates the HTTP server with all service routes.
func NewServer(addr string, ready ReadinessChecker, ingestor Ingestor, store ReadStore, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ingestor: ingestor,
		store:    store,
		logger:   logger,
	}

	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /v1/nodes/{id}/telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /v1/nodes/{id}/forecasts", s.handleForecasts)
	mux.HandleFunc("GET /v1/alerts", s.handleAlerts)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "read body: " + err.Error()})
		return
	}

	rec, err := s.ingestor.IngestPayload(r.Context(), payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stored": rec})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")
	limit := queryLimit(r, 200)

	recs, err := s.store.LatestTelemetry(r.Context(), nodeID, limit)
	if err != nil {
		s.logger.Error("telemetry query failed", "node_id", nodeID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "query failed"})
		return
	}
	if recs == nil {
		recs = []domain.DerivedRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"node_id": nodeID, "telemetry": recs})
}

func (s *Server) handleForecasts(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")

	rows, err := s.store.ForecastsForNode(r.Context(), nodeID)
	if err != nil {
		s.logger.Error("forecast query failed", "node_id", nodeID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "query failed"})
		return
	}
	if rows == nil {
		rows = []sqlite.ForecastRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"node_id": nodeID, "forecasts": rows})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 5)

	alerts, err := s.store.LatestAlerts(r.Context(), limit)
	if err != nil {
		s.logger.Error("alert query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "query failed"})
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func queryLimit(r *http.Request, def int) int {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
