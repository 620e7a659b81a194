// Package health serves the /health and /status HTTP endpoints per
// §6, wired with plain net/http the way project-pulse's
// cmd/api-gateway wires handlers — no router framework is present in
// any example repo's go.mod, so none is pulled in for two fixed
// routes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"settler/internal/reconcile"
	"settler/internal/stream"
)

// streamFreshness is the §4.H threshold: the stream counts as live if
// it's connected and has seen a block within this window.
const streamFreshness = 5 * time.Minute

// Store is the narrow interface the health surface needs to check
// store reachability.
type Store interface {
	Ping(ctx context.Context) error
}

// Server exposes /health and /status over net/http.
type Server struct {
	store       Store
	supervisor  *stream.Supervisor
	reconciler  *reconcile.Reconciler
	ingestor    diagnosticCounter
	logger      *zap.Logger
	startedAt   time.Time
}

// diagnosticCounter is the narrow interface for the Ingestor's
// revealBlockMismatch counter, exposed on /status.
type diagnosticCounter interface {
	RevealBlockMismatchCount() int64
}

// New builds a health Server. ingestor may be nil in tests that don't
// exercise the diagnostic counter.
func New(store Store, supervisor *stream.Supervisor, reconciler *reconcile.Reconciler, ingestor diagnosticCounter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:      store,
		supervisor: supervisor,
		reconciler: reconciler,
		ingestor:   ingestor,
		logger:     logger.With(zap.String("component", "health")),
		startedAt:  time.Now(),
	}
}

// Handler returns a ServeMux wired with /health and /status.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

type healthBody struct {
	Status   string `json:"status"`
	Database struct {
		Connected bool `json:"connected"`
	} `json:"database"`
	Websocket struct {
		Connected    bool   `json:"connected"`
		LastBlockTime string `json:"lastBlockTime,omitempty"`
		BlockAgeMS   int64  `json:"blockAge"`
	} `json:"websocket"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	storeErr := s.store.Ping(ctx)
	streamState := s.supervisor.State()

	blockAge := time.Duration(0)
	if !streamState.LastBlockAt.IsZero() {
		blockAge = time.Since(streamState.LastBlockAt)
	}
	streamLive := streamState.IsConnected && !streamState.LastBlockAt.IsZero() && blockAge < streamFreshness

	body := healthBody{}
	body.Database.Connected = storeErr == nil
	body.Websocket.Connected = streamState.IsConnected
	body.Websocket.BlockAgeMS = blockAge.Milliseconds()
	if !streamState.LastBlockAt.IsZero() {
		body.Websocket.LastBlockTime = streamState.LastBlockAt.UTC().Format(time.RFC3339)
	}

	healthy := storeErr == nil && streamLive

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		body.Status = "ok"
		w.WriteHeader(http.StatusOK)
	} else {
		body.Status = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("encode health response failed", zap.Error(err))
	}
}

type statusBody struct {
	Status             string `json:"status"`
	PendingBets        int    `json:"pendingBets"`
	StartTime          string `json:"startTime"`
	DatabaseConnected  bool   `json:"databaseConnected"`
	RevealBlockMismatch int64 `json:"revealBlockMismatch,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	storeErr := s.store.Ping(ctx)

	body := statusBody{
		Status:            "running",
		PendingBets:       s.reconciler.Count(),
		StartTime:         s.startedAt.UTC().Format(time.RFC3339),
		DatabaseConnected: storeErr == nil,
	}
	if s.ingestor != nil {
		body.RevealBlockMismatch = s.ingestor.RevealBlockMismatchCount()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("encode status response failed", zap.Error(err))
	}
}
