package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aegisvoice/sentinel/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin: func(r *http.Request) bool {
		// Deployments front this service with their own auth and origin policy
		return true
	},
}

// handleStream pushes the coalesced snapshot over a WebSocket at the poll
// cadence. Each push carries the latest state; a slow client simply sees
// fewer intermediate snapshots.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Snapshot stream upgrade failed")
		return
	}
	defer conn.Close()

	// Drain control frames so pings and the client close are processed
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			snap := s.queue.Snapshot()
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.PollInterval() * 2))
			if err := conn.WriteJSON(snap); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warn().Err(err).Msg("Snapshot stream write failed")
				}
				return
			}
		}
	}
}

// handleIngest accepts a WebSocket carrying raw PCM16 mono audio in binary
// messages and runs a session over it. The session starts on upgrade and
// stops when the client disconnects; transcripts and alerts flow out through
// the snapshot endpoints as usual.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Audio ingest upgrade failed")
		return
	}
	defer conn.Close()

	pr, pw := io.Pipe()
	id, err := s.manager.Start(r.Context(), pr)
	if err != nil {
		status := "session start failed"
		if errors.Is(err, session.ErrSessionActive) {
			status = "a session is already active"
		}
		s.logger.Warn().Err(err).Msg("Audio ingest rejected")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, status),
			time.Now().Add(time.Second))
		_ = pw.Close()
		return
	}

	logger := s.logger.With().Str("session_id", id).Logger()
	logger.Info().Msg("Audio ingest connected")

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("Audio ingest read error")
			}
			break
		}
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		if _, err := pw.Write(data); err != nil {
			// The session ended underneath us; nothing more to feed
			break
		}
	}

	// Client gone: end capture cleanly, then let the stream drain
	_ = pw.Close()
	if err := s.manager.Stop(context.Background()); err != nil && !errors.Is(err, session.ErrNoSession) {
		logger.Warn().Err(err).Msg("Stopping ingest session failed")
	}
	logger.Info().Msg("Audio ingest disconnected")
}
