// Package httpapi exposes the pipeline over HTTP: admission, status reads,
// retry, history, and the SSE event streams. Authentication, validation,
// and rate limiting are applied by surrounding infrastructure.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curbtheory/curbside/cache"
	"github.com/curbtheory/curbside/events"
	"github.com/curbtheory/curbside/storage"
	"github.com/curbtheory/curbside/strategy"
)

// maxRequestBodySize limits POST body sizes.
const maxRequestBodySize = 1 << 20 // 1 MB

// PipelineAPI is the orchestration surface the handlers call.
// *strategy.Pipeline implements it.
type PipelineAPI interface {
	Admit(ctx context.Context, snapshotID string) (*strategy.Admission, error)
	Retry(ctx context.Context, originalID string) (string, error)
}

// ReadStore is the query surface for GET endpoints.
type ReadStore interface {
	GetStrategyRow(ctx context.Context, snapshotID string) (*storage.StrategyRow, error)
	GetBriefing(ctx context.Context, snapshotID string) (*storage.Briefing, error)
	EnsureStrategyRow(ctx context.Context, snapshotID, triggerReason string) error
	StrategyHistory(ctx context.Context, userID string) ([]storage.StrategyAttempt, error)
	Ping(ctx context.Context) error
}

// Server holds handler dependencies.
type Server struct {
	pipeline PipelineAPI
	store    ReadStore
	broker   *events.Broker
	idem     *cache.Idempotency
	logger   *slog.Logger
}

// NewServer builds the HTTP server component.
func NewServer(pipeline PipelineAPI, store ReadStore, broker *events.Broker, idem *cache.Idempotency, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pipeline: pipeline,
		store:    store,
		broker:   broker,
		idem:     idem,
		logger:   logger,
	}
}

// RegisterHandlers registers all routes on the given mux.
func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/blocks", s.handleBlocks)
	mux.HandleFunc("POST /api/strategy/seed", s.handleSeed)
	mux.HandleFunc("POST /api/strategy/run/{snapshotID}", s.handleRun)
	mux.HandleFunc("GET /api/strategy/history", s.handleHistory)
	mux.HandleFunc("GET /api/strategy/briefing/{snapshotID}", s.handleBriefing)
	mux.HandleFunc("GET /api/strategy/{snapshotID}", s.handleGetStrategy)
	mux.HandleFunc("POST /api/strategy/{snapshotID}/retry", s.handleRetry)
	mux.HandleFunc("GET /events/strategy", s.handleEvents(storage.ChannelStrategyReady))
	mux.HandleFunc("GET /events/blocks", s.handleEvents(storage.ChannelBlocksReady))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealthz reports liveness including database reachability.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "database unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
