// Package risk maintains the rolling context window over finalized transcript
// segments and decides when to raise or clear a violence-risk alert.
package risk

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegisvoice/sentinel/internal/observability"
	"github.com/aegisvoice/sentinel/internal/transcript"
)

// Assessment is the result of scoring one new segment against the current
// context window. Produced exactly once per segment, never recomputed.
type Assessment struct {
	Score          float64              `json:"score"`
	KeywordHit     bool                 `json:"keywordHit"`
	MatchedKeyword string               `json:"matchedKeyword,omitempty"`
	WindowText     string               `json:"windowText"`
	Segments       []transcript.Segment `json:"segments"`
	Degraded       bool                 `json:"degraded"`
	At             time.Time            `json:"at"`
}

// AlertState is the current alert plus the assessment that caused the last
// transition
type AlertState struct {
	Active  bool        `json:"active"`
	Since   time.Time   `json:"since,omitempty"`
	Trigger *Assessment `json:"trigger,omitempty"`
}

// ScorerConfig controls windowing and alert hysteresis
type ScorerConfig struct {
	WindowSize int     // Last N segments kept as classifier context
	Threshold  float64 // Classifier score above which an alert is raised
	Debounce   int     // Consecutive clean segments required to clear
}

// DefaultScorerConfig returns the default scoring configuration
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		WindowSize: 5,
		Threshold:  0.75,
		Debounce:   2,
	}
}

// Scorer owns the context window and alert state for one session. It is
// driven sequentially, one segment at a time, in segment arrival order; it is
// not safe for concurrent use.
type Scorer struct {
	cfg        ScorerConfig
	classifier Classifier
	matcher    *KeywordMatcher
	logger     zerolog.Logger

	window []transcript.Segment
	alert  AlertState
	clean  int // Consecutive clean segments observed while the alert is active
}

// NewScorer creates a scorer with an injected classifier and vocabulary
func NewScorer(cfg ScorerConfig, classifier Classifier, keywords []string, logger zerolog.Logger) *Scorer {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 5
	}
	if cfg.Debounce < 1 {
		cfg.Debounce = 1
	}
	return &Scorer{
		cfg:        cfg,
		classifier: classifier,
		matcher:    NewKeywordMatcher(keywords),
		logger:     logger,
	}
}

// Observe pushes one new segment into the window, scores it, and applies the
// alert transition rules. The keyword flag reflects the new segment's text
// (a keyword hit forces the alert and resets the debounce countdown); the
// classifier scores the concatenated window text. Classifier failure degrades
// the assessment to keyword-only rather than failing the session.
func (s *Scorer) Observe(ctx context.Context, seg transcript.Segment) Assessment {
	s.push(seg)

	windowText := s.windowText()
	matched, keywordHit := s.matcher.Match(seg.Text)

	score, err := s.classifier.Score(ctx, windowText)
	degraded := err != nil
	if degraded {
		s.logger.Warn().Err(err).Msg("Classifier unavailable, degrading to keyword-only scoring")
		observability.RecordError("classifier_unavailable", "scorer")
		score = 0
	}

	assessment := Assessment{
		Score:          score,
		KeywordHit:     keywordHit,
		MatchedKeyword: matched,
		WindowText:     windowText,
		Segments:       s.snapshot(),
		Degraded:       degraded,
		At:             time.Now(),
	}

	s.transition(assessment)
	s.record(assessment)
	return assessment
}

// Alert returns the current alert state
func (s *Scorer) Alert() AlertState {
	return s.alert
}

// Window returns a copy of the current context window, oldest first
func (s *Scorer) Window() []transcript.Segment {
	return s.snapshot()
}

func (s *Scorer) push(seg transcript.Segment) {
	s.window = append(s.window, seg)
	if len(s.window) > s.cfg.WindowSize {
		s.window = s.window[1:]
	}
}

func (s *Scorer) windowText() string {
	text := ""
	for i, seg := range s.window {
		if i > 0 {
			text += " "
		}
		text += seg.Text
	}
	return text
}

func (s *Scorer) snapshot() []transcript.Segment {
	out := make([]transcript.Segment, len(s.window))
	copy(out, s.window)
	return out
}

// transition applies the raise/clear rules with debounce hysteresis
func (s *Scorer) transition(a Assessment) {
	risky := a.Score > s.cfg.Threshold || a.KeywordHit

	if !s.alert.Active {
		if risky {
			trigger := a
			s.alert = AlertState{Active: true, Since: a.At, Trigger: &trigger}
			s.clean = 0
			s.logger.Warn().
				Float64("score", a.Score).
				Bool("keyword_hit", a.KeywordHit).
				Str("matched_keyword", a.MatchedKeyword).
				Msg("Risk alert raised")
			observability.RecordAlertRaised()
		}
		return
	}

	if risky {
		// Any risky segment, keyword hit included, restarts the countdown
		s.clean = 0
		return
	}

	s.clean++
	if s.clean >= s.cfg.Debounce {
		trigger := a
		s.alert = AlertState{Active: false, Since: a.At, Trigger: &trigger}
		s.clean = 0
		s.logger.Info().Int("clean_segments", s.cfg.Debounce).Msg("Risk alert cleared")
		observability.RecordAlertCleared()
	}
}

func (s *Scorer) record(a Assessment) {
	switch {
	case a.Degraded:
		observability.RecordAssessment("degraded")
	case a.KeywordHit:
		observability.RecordAssessment("keyword")
	case a.Score > s.cfg.Threshold:
		observability.RecordAssessment("score")
	default:
		observability.RecordAssessment("clean")
	}
}
