// Package server exposes the monitoring pipeline over HTTP: session lifecycle
// control, snapshot polling, a WebSocket push feed, and a WebSocket audio
// ingest for callers that stream their own capture.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aegisvoice/sentinel/internal/audio"
	"github.com/aegisvoice/sentinel/internal/bridge"
	"github.com/aegisvoice/sentinel/internal/config"
	"github.com/aegisvoice/sentinel/internal/observability"
	"github.com/aegisvoice/sentinel/internal/session"
)

// SourceFactory opens the configured capture source for a server-initiated
// session. It is nil when no local capture device is configured; sessions can
// still be driven through the ingest endpoint.
type SourceFactory func() (audio.CaptureSource, error)

// Server wires the session manager and the snapshot queue to HTTP handlers
type Server struct {
	cfg     *config.Config
	manager *session.Manager
	queue   *bridge.Queue
	source  SourceFactory
	logger  zerolog.Logger
}

// New creates a server. source may be nil.
func New(cfg *config.Config, manager *session.Manager, queue *bridge.Queue, source SourceFactory, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		manager: manager,
		queue:   queue,
		source:  source,
		logger:  logger,
	}
}

// Routes registers all handlers on a fresh mux
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/session/start", s.handleStart)
	mux.HandleFunc("/session/stop", s.handleStop)
	mux.HandleFunc("/session/snapshot", s.handleSnapshot)
	mux.HandleFunc("/session/stream", s.handleStream)
	mux.HandleFunc("/session/ingest", s.handleIngest)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(s.readinessChecks()))
	if s.cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

// handleStart opens a session on the locally configured capture source
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.source == nil {
		writeError(w, http.StatusUnprocessableEntity, "no capture device configured; stream audio to /session/ingest instead")
		return
	}

	src, err := s.source()
	if err != nil {
		s.logger.Error().Err(err).Msg("Could not open capture source")
		writeError(w, http.StatusBadGateway, fmt.Sprintf("capture source unavailable: %v", err))
		return
	}

	id, err := s.manager.Start(r.Context(), src)
	switch {
	case errors.Is(err, session.ErrSessionActive):
		writeError(w, http.StatusConflict, "a session is already active")
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, fmt.Sprintf("session start failed: %v", err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"sessionId": id,
		"state":     string(s.manager.State()),
	})
}

// handleStop ends the active session and returns its final snapshot
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	err := s.manager.Stop(r.Context())
	switch {
	case errors.Is(err, session.ErrNoSession):
		writeError(w, http.StatusConflict, "no active session")
		return
	case errors.Is(err, session.ErrSessionActive):
		writeError(w, http.StatusConflict, "session is already stopping")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.queue.Snapshot())
}

// handleSnapshot serves the coalesced state for polling consumers
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.queue.Snapshot())
}

func (s *Server) readinessChecks() map[string]observability.HealthCheckFunc {
	checks := map[string]observability.HealthCheckFunc{
		"transcription": func(ctx context.Context) (bool, error) {
			if s.cfg.DeepgramAPIKey == "" {
				return false, fmt.Errorf("transcription API key not configured")
			}
			return true, nil
		},
	}
	if s.cfg.ClassifierURL != "" {
		checks["classifier"] = func(ctx context.Context) (bool, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.cfg.ClassifierURL, nil)
			if err != nil {
				return false, err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return false, err
			}
			resp.Body.Close()
			return resp.StatusCode < http.StatusInternalServerError, nil
		}
	}
	return checks
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
