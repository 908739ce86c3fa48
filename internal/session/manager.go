// Package session owns the capture-to-alert pipeline for one monitoring
// session: it wires the audio chunker into the transcription stream, feeds
// finalized segments to the risk scorer, and publishes every observable
// change to the bridge queue.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegisvoice/sentinel/internal/audio"
	"github.com/aegisvoice/sentinel/internal/bridge"
	"github.com/aegisvoice/sentinel/internal/config"
	"github.com/aegisvoice/sentinel/internal/observability"
	"github.com/aegisvoice/sentinel/internal/resilience"
	"github.com/aegisvoice/sentinel/internal/risk"
	"github.com/aegisvoice/sentinel/internal/stt"
	"github.com/aegisvoice/sentinel/internal/transcript"
)

// State is the lifecycle state of the manager's current session
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateStreaming State = "streaming"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// ErrSessionActive is returned by Start while a session is starting,
// streaming, or stopping
var ErrSessionActive = errors.New("session already active")

// ErrNoSession is returned by Stop when there is nothing to stop
var ErrNoSession = errors.New("no active session")

// Manager runs at most one session at a time. A stopped or failed session
// leaves its final snapshot on the queue until the next Start resets it.
type Manager struct {
	cfg        *config.Config
	provider   stt.Provider
	classifier risk.Classifier
	queue      *bridge.Queue
	logger     zerolog.Logger

	mu      sync.Mutex
	state   State
	current *session
}

// session holds the moving parts of one live pipeline
type session struct {
	id         string
	logger     zerolog.Logger
	startedAt  time.Time
	chunker    *audio.Chunker
	stream     stt.Stream
	sink       *audio.WAVSink
	agg        *transcript.Aggregator
	scorer     *risk.Scorer
	cancel     context.CancelFunc // Stops capture; the stream drains on its own
	framesSent atomic.Uint64
	sendDone   chan struct{}
	recvDone   chan struct{}
	failOnce   sync.Once

	errMu   sync.Mutex
	failErr error
}

func (s *session) setFailErr(err error) {
	s.errMu.Lock()
	s.failErr = err
	s.errMu.Unlock()
}

func (s *session) getFailErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.failErr
}

// NewManager creates a manager bound to one provider, classifier, and queue
func NewManager(cfg *config.Config, provider stt.Provider, classifier risk.Classifier, queue *bridge.Queue, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		provider:   provider,
		classifier: classifier,
		queue:      queue,
		logger:     logger,
		state:      StateIdle,
	}
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the current session's identifier, or "" when idle
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.id
}

// Start opens a transcription stream and begins pumping audio from source.
// The handshake gets one retry; if both attempts fail the session ends in
// the failed state and the source is closed. Start returns once the stream
// is live, with the session ID.
func (m *Manager) Start(ctx context.Context, source audio.CaptureSource) (string, error) {
	m.mu.Lock()
	switch m.state {
	case StateIdle, StateStopped, StateFailed:
	default:
		m.mu.Unlock()
		return "", ErrSessionActive
	}

	id := observability.NewSessionID()
	logger := observability.WithSession(id)

	sess := &session{
		id:        id,
		logger:    logger,
		startedAt: time.Now(),
		agg:       transcript.NewAggregator(),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
	}
	sess.scorer = risk.NewScorer(risk.ScorerConfig{
		WindowSize: m.cfg.ContextWindowSize,
		Threshold:  m.cfg.AlertThreshold,
		Debounce:   m.cfg.DebounceSegments,
	}, m.classifier, m.cfg.KeywordList(), logger)

	m.state = StateStarting
	m.current = sess
	m.mu.Unlock()

	m.queue.Reset(id)
	m.queue.SetState(string(StateStarting))
	logger.Info().Msg("Starting session")

	if m.cfg.RecordingDir != "" {
		sink, err := audio.NewWAVSink(m.cfg.RecordingDir, m.cfg.SampleRate)
		if err != nil {
			// Recording is best effort; the session proceeds without it
			logger.Warn().Err(err).Msg("Could not open recording sink")
			observability.RecordError("recording_sink", "session")
		} else {
			sess.sink = sink
			logger.Info().Str("path", sink.Path()).Msg("Recording to WAV")
		}
	}

	var sink io.Writer
	if sess.sink != nil {
		sink = sess.sink
	}
	chunker := audio.NewChunker(m.chunkerConfig(), source, sink, logger)
	sess.chunker = chunker

	stream, err := m.handshake(ctx, sess)
	if err != nil {
		logger.Error().Err(err).Msg("Transcription handshake failed")
		m.queue.SetError(fmt.Sprintf("transcription handshake failed: %v", err))
		m.queue.SetState(string(StateFailed))
		_ = chunker.Close()
		sess.closeSink()
		m.mu.Lock()
		m.state = StateFailed
		m.mu.Unlock()
		observability.RecordError("handshake", "session")
		return id, err
	}
	sess.stream = stream

	runCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel

	m.mu.Lock()
	m.state = StateStreaming
	m.mu.Unlock()
	m.queue.SetState(string(StateStreaming))
	observability.RecordSessionStart()
	logger.Info().Msg("Session streaming")

	go chunker.Run(runCtx)
	go m.sendLoop(sess)
	go m.recvLoop(sess)

	return id, nil
}

// handshake dials the provider under the configured deadline with one retry
func (m *Manager) handshake(ctx context.Context, sess *session) (stt.Stream, error) {
	hsCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout())
	defer cancel()

	streamCfg := stt.StreamConfig{
		SampleRate:     m.cfg.SampleRate,
		Model:          m.cfg.DeepgramModel,
		Language:       m.cfg.DeepgramLanguage,
		InterimResults: true,
	}

	var stream stt.Stream
	err := resilience.Reconnect(hsCtx, func() error {
		s, err := m.provider.Start(hsCtx, streamCfg)
		if err != nil {
			sess.logger.Warn().Err(err).Msg("Transcription connect attempt failed")
			return err
		}
		stream = s
		return nil
	}, &resilience.ReconnectConfig{
		MaxAttempts: 2,
		Backoff:     time.Duration(m.cfg.RetryInitialBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  m.cfg.HandshakeTimeout(),
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// sendLoop forwards frames to the stream in sequence order. A send failure
// fails the session; frame order is preserved because this is the only
// goroutine writing to the stream.
func (m *Manager) sendLoop(sess *session) {
	defer close(sess.sendDone)

	for frame := range sess.chunker.Frames() {
		if err := sess.stream.Send(frame.Data); err != nil {
			m.fail(sess, fmt.Errorf("audio send failed at frame %d: %w", frame.Seq, err))
			return
		}
		sent := sess.framesSent.Add(1)
		m.queue.SetFrames(sent)
		observability.RecordFrameSent(len(frame.Data))
	}

	if err := sess.chunker.Err(); err != nil {
		m.fail(sess, err)
	}
}

// recvLoop applies transcript events in arrival order and publishes the
// results. It owns the aggregator and scorer, so scoring stays sequential.
// Scoring is not tied to the capture context: events that arrive while the
// stream drains are still scored in full.
func (m *Manager) recvLoop(sess *session) {
	defer close(sess.recvDone)
	ctx := context.Background()

	for ev := range sess.stream.Events() {
		switch ev.Kind {
		case transcript.KindPartial:
			observability.RecordTranscriptEvent("partial")
			sess.agg.Apply(ev)
			m.queue.SetPartial(sess.agg.Partial())
		case transcript.KindFinal:
			observability.RecordTranscriptEvent("final")
			seg, ok := sess.agg.Apply(ev)
			if !ok {
				// Empty final; nothing new to score
				m.queue.SetPartial(sess.agg.Partial())
				continue
			}
			observability.RecordSegment()
			sess.scorer.Observe(ctx, seg)
			m.queue.SetSegment(seg, sess.agg.Transcript())
			m.queue.SetAlert(sess.scorer.Alert())
		}
	}

	if err := sess.stream.Err(); err != nil {
		m.fail(sess, fmt.Errorf("transcription stream failed: %w", err))
	}
}

// Stop ends the current session: capture stops first, then the stream is
// flushed so already-sent audio still produces finals. The drain wait is
// bounded; on timeout the session still stops but the snapshot carries a
// warning that the last utterance may be incomplete.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateStreaming || m.current == nil {
		state := m.state
		m.mu.Unlock()
		if state == StateStopping {
			return ErrSessionActive
		}
		return ErrNoSession
	}
	sess := m.current
	m.state = StateStopping
	m.mu.Unlock()

	m.queue.SetState(string(StateStopping))
	sess.logger.Info().Msg("Stopping session")

	// Stop capture and wait for the in-flight frames to go out. Closing the
	// source unblocks a read in progress; cancelling first marks the ensuing
	// read error as part of the shutdown.
	sess.cancel()
	_ = sess.chunker.Close()
	<-sess.sendDone

	drained := true
	if sess.getFailErr() == nil {
		if err := sess.stream.CloseSend(); err != nil {
			sess.logger.Warn().Err(err).Msg("Stream flush request failed")
		}
		select {
		case <-sess.recvDone:
		case <-time.After(m.cfg.DrainTimeout()):
			drained = false
		case <-ctx.Done():
			drained = false
		}
	}
	_ = sess.stream.Close()
	<-sess.recvDone
	sess.closeSink()

	// A mid-drain transport failure still counts as a stop; the session was
	// already ending
	m.mu.Lock()
	if m.state != StateStopping {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopped
	m.mu.Unlock()

	// Retire the trailing partial without fabricating a segment for it
	partial := sess.agg.Flush()
	m.queue.SetTranscript(sess.agg.Transcript())
	m.queue.SetPartial(partial)
	if !drained {
		sess.logger.Warn().Msg("Drain timeout exceeded, last utterance may be incomplete")
		m.queue.SetError("stream drain timed out; last utterance may be incomplete")
		observability.RecordError("drain_timeout", "session")
	}
	m.queue.SetState(string(StateStopped))
	observability.RecordSessionEnd(sess.startedAt)
	sess.logger.Info().
		Uint64("frames_sent", sess.framesSent.Load()).
		Int("segments", sess.agg.Count()).
		Msg("Session stopped")
	return nil
}

// fail transitions a streaming session to failed exactly once. Failures
// during an orderly stop are ignored; the stop path owns the outcome then.
func (m *Manager) fail(sess *session, err error) {
	sess.failOnce.Do(func() {
		sess.setFailErr(err)
		m.mu.Lock()
		if m.state != StateStreaming || m.current != sess {
			m.mu.Unlock()
			return
		}
		m.state = StateFailed
		m.mu.Unlock()

		sess.logger.Error().Err(err).Msg("Session failed")
		m.queue.SetError(err.Error())
		m.queue.SetState(string(StateFailed))
		observability.RecordError("session_failure", "session")
		observability.RecordSessionEnd(sess.startedAt)

		sess.cancel()
		_ = sess.stream.Close()
		_ = sess.chunker.Close()
		sess.closeSink()
	})
}

func (m *Manager) chunkerConfig() audio.ChunkerConfig {
	return audio.ChunkerConfig{
		FrameBytes:    m.cfg.FrameBytes(),
		FrameDuration: m.cfg.FrameDuration(),
		BufferSize:    m.cfg.FrameBytes() * 16,
	}
}

func (s *session) closeSink() {
	if s.sink == nil {
		return
	}
	if err := s.sink.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Closing recording sink failed")
	}
	s.sink = nil
}
