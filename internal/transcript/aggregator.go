// Package transcript turns the provider's partial/final event stream into an
// ordered, append-only sequence of finalized segments plus one in-progress
// partial.
package transcript

import (
	"strings"
	"sync"
)

// Kind identifies whether an event carries interim or finalized text
type Kind string

const (
	KindPartial Kind = "partial"
	KindFinal   Kind = "final"
)

// Event is one incremental transcription result from the provider. Start and
// End are offsets in seconds relative to session start and are monotonically
// non-decreasing across events of the same kind.
type Event struct {
	Kind  Kind
	Text  string
	Start float64
	End   float64
}

// Segment is the durable record of one final event. Segments are immutable
// and their indices are strictly increasing and gapless.
type Segment struct {
	Index int     `json:"index"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Aggregator maintains at most one live partial at a time. Each partial event
// replaces it; a final event retires it into a Segment. A bare final with no
// preceding partial still yields a Segment. Partials never produce Segments.
type Aggregator struct {
	mu       sync.Mutex
	segments []Segment
	partial  string
	next     int
}

// NewAggregator creates an empty aggregator for one session
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Apply folds one event in arrival order. It returns the created Segment and
// true when the event was a final with non-empty text.
func (a *Aggregator) Apply(ev Event) (Segment, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(ev.Text)

	if ev.Kind == KindPartial {
		if text != "" {
			a.partial = text
		}
		return Segment{}, false
	}

	// Final: retire the live partial whether or not it carried text
	a.partial = ""
	if text == "" {
		return Segment{}, false
	}

	seg := Segment{
		Index: a.next,
		Text:  text,
		Start: ev.Start,
		End:   ev.End,
	}
	a.next++
	a.segments = append(a.segments, seg)
	return seg, true
}

// Partial returns the current in-progress text, if any
func (a *Aggregator) Partial() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.partial
}

// Segments returns a copy of the finalized segments in creation order
func (a *Aggregator) Segments() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Segment, len(a.segments))
	copy(out, a.segments)
	return out
}

// Count returns the number of finalized segments
func (a *Aggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}

// Transcript returns the accumulated text: joined finals plus the trailing
// partial, if one is live.
func (a *Aggregator) Transcript() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	parts := make([]string, 0, len(a.segments)+1)
	for _, seg := range a.segments {
		parts = append(parts, seg.Text)
	}
	if a.partial != "" {
		parts = append(parts, a.partial)
	}
	return strings.Join(parts, " ")
}

// Flush returns the pending partial without fabricating a Segment for it and
// clears the slot. Called when a session stops mid-utterance.
func (a *Aggregator) Flush() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	partial := a.partial
	a.partial = ""
	return partial
}
