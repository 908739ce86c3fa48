// Package bridge decouples the producer side of the pipeline from consumers.
// It holds one coalesced, last-write-wins snapshot per field: a slow consumer
// always sees the latest state, never an unbounded backlog of events.
package bridge

import (
	"sync"
	"time"

	"github.com/aegisvoice/sentinel/internal/risk"
	"github.com/aegisvoice/sentinel/internal/transcript"
)

// Snapshot is the consumer-facing view of the pipeline. Retrieving it never
// blocks and polling twice with no new underlying events returns identical
// results.
type Snapshot struct {
	SessionID     string              `json:"sessionId"`
	State         string              `json:"state"`
	PartialText   string              `json:"partialText"`
	Transcript    string              `json:"transcript"`
	LatestSegment *transcript.Segment `json:"latestSegment,omitempty"`
	SegmentCount  int                 `json:"segmentCount"`
	FramesSent    uint64              `json:"framesSent"`
	Alert         risk.AlertState     `json:"alert"`
	Error         string              `json:"error,omitempty"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// Queue is the thread-safe hand-off between producers and consumers
type Queue struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{snap: Snapshot{State: "idle"}}
}

// Reset clears all fields for a new session
func (q *Queue) Reset(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.snap = Snapshot{
		SessionID: sessionID,
		State:     "idle",
		UpdatedAt: time.Now(),
	}
}

// SetState publishes a session lifecycle state
func (q *Queue) SetState(state string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.snap.State = state
	q.snap.UpdatedAt = time.Now()
}

// SetPartial publishes the current in-progress partial text
func (q *Queue) SetPartial(text string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.snap.PartialText = text
	q.snap.UpdatedAt = time.Now()
}

// SetSegment publishes a newly finalized segment and the accumulated
// transcript; rapid updates coalesce so only the newest segment is visible
func (q *Queue) SetSegment(seg transcript.Segment, accumulated string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	segCopy := seg
	q.snap.LatestSegment = &segCopy
	q.snap.SegmentCount = seg.Index + 1
	q.snap.Transcript = accumulated
	q.snap.PartialText = ""
	q.snap.UpdatedAt = time.Now()
}

// SetTranscript publishes the accumulated transcript text
func (q *Queue) SetTranscript(text string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.snap.Transcript = text
	q.snap.UpdatedAt = time.Now()
}

// SetAlert publishes the current alert state
func (q *Queue) SetAlert(alert risk.AlertState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.snap.Alert = alert
	q.snap.UpdatedAt = time.Now()
}

// SetFrames publishes the producer's frames-sent counter
func (q *Queue) SetFrames(count uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.snap.FramesSent = count
	q.snap.UpdatedAt = time.Now()
}

// SetError publishes a producer-side failure. Consumers can always tell
// "no alert" apart from "transcription unavailable".
func (q *Queue) SetError(message string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.snap.Error = message
	q.snap.UpdatedAt = time.Now()
}

// Snapshot returns the latest known state. Never blocks; returns the same
// value until a producer publishes something new.
func (q *Queue) Snapshot() Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := q.snap
	if q.snap.LatestSegment != nil {
		segCopy := *q.snap.LatestSegment
		out.LatestSegment = &segCopy
	}
	return out
}
