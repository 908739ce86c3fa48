package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/aegisvoice/sentinel/internal/observability"
	"github.com/aegisvoice/sentinel/internal/transcript"
)

// DeepgramProvider implements Provider using Deepgram's streaming API
type DeepgramProvider struct {
	apiKey string
	logger zerolog.Logger
}

// NewDeepgramProvider creates a Deepgram-backed transcription provider
func NewDeepgramProvider(apiKey string, logger zerolog.Logger) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, logger: logger}
}

// Start opens a websocket session and blocks until Deepgram acknowledges it
// or ctx expires. The returned stream owns the connection exclusively.
func (p *DeepgramProvider) Start(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if p.apiKey == "" {
		return nil, errors.New("deepgram api key is not configured")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          cfg.Model,
		Language:       cfg.Language,
		Punctuate:      true,
		InterimResults: cfg.InterimResults,
		Encoding:       "linear16", // PCM16
		Channels:       1,          // Mono
		SampleRate:     cfg.SampleRate,
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	ds := &deepgramStream{
		events: make(chan transcript.Event, 64),
		opened: make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
		logger: p.logger,
	}

	// Create callback struct that implements LiveMessageCallback interface
	// We embed the default handler and only override the methods we need
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		stream:                 ds,
	}

	client, err := listenClient.NewWSUsingCallback(streamCtx, p.apiKey, nil, tOptions, callback)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create deepgram client: %w", err)
	}
	ds.client = client

	if !client.Connect() {
		cancel()
		return nil, errors.New("deepgram websocket connect refused")
	}

	// The session is live only after the Open acknowledgement
	select {
	case <-ds.opened:
	case <-ds.done:
		cancel()
		return nil, fmt.Errorf("deepgram session closed before handshake: %w", ds.Err())
	case <-ctx.Done():
		client.Stop()
		cancel()
		return nil, fmt.Errorf("deepgram handshake not acknowledged: %w", ctx.Err())
	}

	p.logger.Info().
		Str("model", cfg.Model).
		Str("language", cfg.Language).
		Int("sample_rate", cfg.SampleRate).
		Msg("Deepgram streaming session started")
	return ds, nil
}

type deepgramStream struct {
	client *listenClient.WSCallback

	events chan transcript.Event
	opened chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
	logger zerolog.Logger

	openOnce sync.Once

	mu    sync.Mutex
	ended bool
	err   error
}

// Send transmits one chunk of raw audio in call order
func (s *deepgramStream) Send(audio []byte) error {
	if _, err := s.client.Write(audio); err != nil {
		return fmt.Errorf("failed to send audio to deepgram: %w", err)
	}
	return nil
}

func (s *deepgramStream) Events() <-chan transcript.Event {
	return s.events
}

// CloseSend tells Deepgram no more audio is coming so it flushes final results
func (s *deepgramStream) CloseSend() error {
	s.client.Finish()
	return nil
}

// Close releases the connection
func (s *deepgramStream) Close() error {
	s.end(nil)
	s.client.Stop()
	s.cancel()
	return nil
}

func (s *deepgramStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// end closes the event channel exactly once, recording a terminal error if
// one was not already set. It shares a mutex with deliver so the channel is
// never closed mid-send.
func (s *deepgramStream) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	if err != nil {
		s.err = err
	}
	close(s.done)
	close(s.events)
}

// deliver forwards one event to the consumer. The channel is buffered and the
// consumer drains it until close, so holding the mutex across the send cannot
// deadlock against end.
func (s *deepgramStream) deliver(ev transcript.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we need.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	stream *deepgramStream
}

// Open completes the handshake
func (m *messageCallbackHandler) Open(or *msginterfaces.OpenResponse) error {
	m.stream.openOnce.Do(func() { close(m.stream.opened) })
	return nil
}

// Message maps Deepgram results onto transcript events
func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return nil
	}

	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}

	kind := transcript.KindPartial
	if msg.IsFinal {
		kind = transcript.KindFinal
	}

	m.stream.deliver(transcript.Event{
		Kind:  kind,
		Text:  alt.Transcript,
		Start: msg.Start,
		End:   msg.Start + msg.Duration,
	})
	return nil
}

// Close marks the provider-side flush as complete
func (m *messageCallbackHandler) Close(cr *msginterfaces.CloseResponse) error {
	m.stream.end(nil)
	return nil
}

// Error records a transport failure and terminates the event stream
func (m *messageCallbackHandler) Error(er *msginterfaces.ErrorResponse) error {
	err := fmt.Errorf("deepgram transport error: %s", er.Description)
	m.stream.logger.Error().Str("err_code", er.ErrCode).Msg(err.Error())
	observability.RecordError("transport", "deepgram")
	m.stream.end(err)
	return nil
}
