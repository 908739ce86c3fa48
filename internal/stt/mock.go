package stt

import (
	"context"
	"sync"

	"github.com/aegisvoice/sentinel/internal/transcript"
)

// MockProvider is a scriptable in-memory provider. Useful for tests and for
// local development when no transcription service is configured: handshake
// outcomes are scripted per attempt and events are injected by the caller.
type MockProvider struct {
	mu            sync.Mutex
	startErrs     []error // One entry per Start attempt; nil means success
	startAttempts int
	streams       []*MockStream
}

// NewMockProvider creates a provider whose Start attempts fail with the given
// errors in order; attempts beyond the script succeed
func NewMockProvider(startErrs ...error) *MockProvider {
	return &MockProvider{startErrs: startErrs}
}

// Start consumes the next scripted handshake outcome
func (p *MockProvider) Start(ctx context.Context, cfg StreamConfig) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	attempt := p.startAttempts
	p.startAttempts++

	if attempt < len(p.startErrs) && p.startErrs[attempt] != nil {
		return nil, p.startErrs[attempt]
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream := &MockStream{events: make(chan transcript.Event, 64)}
	p.streams = append(p.streams, stream)
	return stream, nil
}

// StartAttempts returns how many times Start was called
func (p *MockProvider) StartAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startAttempts
}

// LastStream returns the most recently created stream
func (p *MockProvider) LastStream() *MockStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// MockStream records sent audio and relays injected events
type MockStream struct {
	events chan transcript.Event

	mu         sync.Mutex
	sent       [][]byte
	sendErr    error
	closedSend bool
	closed     bool
	holdOpen   bool
	err        error
}

// Send records the chunk, or fails if a send error was injected
func (s *MockStream) Send(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, append([]byte(nil), audio...))
	return nil
}

func (s *MockStream) Events() <-chan transcript.Event {
	return s.events
}

// CloseSend ends the event stream, mimicking the provider-side flush. When
// HoldOpenOnCloseSend was set the stream stays open to simulate a provider
// that never finishes draining.
func (s *MockStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedSend = true
	if !s.holdOpen && !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// HoldOpenOnCloseSend keeps the event stream open across CloseSend
func (s *MockStream) HoldOpenOnCloseSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdOpen = true
}

func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *MockStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit injects one transcript event as if the provider sent it
func (s *MockStream) Emit(ev transcript.Event) {
	s.events <- ev
}

// FailTransport simulates a mid-stream transport failure
func (s *MockStream) FailTransport(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.err = err
		close(s.events)
	}
}

// SetSendError makes subsequent Send calls fail
func (s *MockStream) SetSendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// Sent returns a copy of the audio chunks sent so far
func (s *MockStream) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentCount returns how many chunks were sent
func (s *MockStream) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
