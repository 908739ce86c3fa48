package stt

import (
	"context"

	"github.com/aegisvoice/sentinel/internal/transcript"
)

// StreamConfig describes provider-agnostic streaming settings
type StreamConfig struct {
	SampleRate     int
	Model          string
	Language       string
	InterimResults bool
}

// Stream is an active bidirectional transcription session. Audio goes up in
// the order Send is called; transcript events come down on a single ordered
// channel.
type Stream interface {
	// Send transmits one chunk of raw audio to the provider
	Send(audio []byte) error

	// Events returns the ordered event channel. It is closed when the
	// provider finishes flushing or the transport fails; check Err after.
	Events() <-chan transcript.Event

	// CloseSend signals that no more audio will be sent, prompting the
	// provider to flush its final results
	CloseSend() error

	// Close releases the underlying connection
	Close() error

	// Err returns the terminal transport error, if any, once Events is closed
	Err() error
}

// Provider starts streaming transcription sessions. Start returns only after
// the provider acknowledged the handshake, or fails when ctx expires first.
type Provider interface {
	Start(ctx context.Context, cfg StreamConfig) (Stream, error)
}
