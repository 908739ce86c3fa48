package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegisvoice/sentinel/internal/observability"
)

// ErrCaptureFailure indicates the capture device failed or disconnected.
// The chunker never retries; the session manager decides what happens next.
var ErrCaptureFailure = errors.New("audio capture failure")

// Frame is one fixed-duration slice of captured audio. Frames are immutable
// once emitted and their sequence numbers are strictly increasing and gapless.
type Frame struct {
	Data       []byte
	Seq        uint64
	CapturedAt time.Time
	Duration   time.Duration
}

// CaptureSource delivers raw PCM16 mono samples at a fixed sample rate
type CaptureSource interface {
	io.ReadCloser
}

// ChunkerConfig controls frame slicing
type ChunkerConfig struct {
	FrameBytes    int           // Bytes per fixed-duration frame
	FrameDuration time.Duration // Duration represented by one frame
	BufferSize    int           // Ring buffer capacity in bytes
}

// Chunker slices a continuous capture source into fixed-duration frames.
// Frame k starts exactly where frame k-1 ended; the capture timestamp is
// derived from the session start and the sequence number so durations sum
// without gaps.
type Chunker struct {
	cfg    ChunkerConfig
	source CaptureSource
	sink   io.Writer // Optional recording tee; failures never abort capture
	buf    *RingBuffer
	frames chan Frame
	logger zerolog.Logger

	mu         sync.Mutex
	err        error
	sinkFailed bool
}

// NewChunker creates a chunker for one capture session. sink may be nil.
func NewChunker(cfg ChunkerConfig, source CaptureSource, sink io.Writer, logger zerolog.Logger) *Chunker {
	if cfg.BufferSize < cfg.FrameBytes*4 {
		cfg.BufferSize = cfg.FrameBytes * 16
	}
	return &Chunker{
		cfg:    cfg,
		source: source,
		sink:   sink,
		buf:    NewRingBuffer(cfg.BufferSize + 1),
		frames: make(chan Frame, 32),
		logger: logger,
	}
}

// Frames returns the channel of emitted frames. It is closed when the source
// is exhausted, the context is cancelled, or capture fails; check Err after.
func (c *Chunker) Frames() <-chan Frame {
	return c.frames
}

// Err returns the terminal capture error, if any, once Frames is closed
func (c *Chunker) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Run drives the capture loop until the source ends, capture fails, or ctx
// is cancelled. It always closes the frames channel on return.
func (c *Chunker) Run(ctx context.Context) {
	defer close(c.frames)

	start := time.Now()
	scratch := make([]byte, c.cfg.FrameBytes)
	frame := make([]byte, c.cfg.FrameBytes)
	var seq uint64

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := c.source.Read(scratch)
		if n > 0 {
			c.buf.Write(scratch[:n])
			c.teeToSink(scratch[:n])
		}

		for c.buf.Available() >= c.cfg.FrameBytes {
			if got := c.buf.Read(frame); got != c.cfg.FrameBytes {
				// Cannot happen given the Available check; guard anyway
				c.fail(fmt.Errorf("%w: short frame read (%d of %d bytes)", ErrCaptureFailure, got, c.cfg.FrameBytes))
				return
			}

			out := Frame{
				Data:       append([]byte(nil), frame...),
				Seq:        seq,
				CapturedAt: start.Add(time.Duration(seq) * c.cfg.FrameDuration),
				Duration:   c.cfg.FrameDuration,
			}
			seq++

			select {
			case c.frames <- out:
			case <-ctx.Done():
				return
			}
		}

		if err != nil {
			// A read error after cancellation is the shutdown unblocking the
			// source, not a capture failure
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			c.fail(fmt.Errorf("%w: %v", ErrCaptureFailure, err))
			return
		}
	}
}

// Close releases the underlying capture source
func (c *Chunker) Close() error {
	return c.source.Close()
}

func (c *Chunker) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.logger.Error().Err(err).Msg("Audio capture failed")
	observability.RecordError("capture_failure", "chunker")
}

func (c *Chunker) teeToSink(data []byte) {
	if c.sink == nil {
		return
	}
	if _, err := c.sink.Write(data); err != nil {
		c.mu.Lock()
		first := !c.sinkFailed
		c.sinkFailed = true
		c.mu.Unlock()
		if first {
			// Best-effort sink: log once and keep capturing
			c.logger.Warn().Err(err).Msg("Recording sink write failed, recording disabled")
			observability.RecordError("recording_sink", "chunker")
		}
		c.sink = nil
		return
	}
	observability.RecordRecordingBytes(len(data))
}
