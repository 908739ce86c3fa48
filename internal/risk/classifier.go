package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/aegisvoice/sentinel/internal/observability"
	"github.com/aegisvoice/sentinel/internal/resilience"
)

// Classifier scores a window of transcribed text for violence risk. It is a
// pure scoring dependency: stateless from the caller's perspective and
// replaceable without touching the rest of the pipeline.
type Classifier interface {
	Score(ctx context.Context, text string) (float64, error)
}

// minScoreLength guards against scoring fragments too short to mean anything
const minScoreLength = 10

// KeywordClassifier is the fallback scoring backend: a fixed-vocabulary
// heuristic that approximates the pretrained text model. Each additional
// vocabulary hit pushes the score further toward 1.
type KeywordClassifier struct {
	matcher *KeywordMatcher
}

// NewKeywordClassifier creates a classifier over the given vocabulary
func NewKeywordClassifier(keywords []string) *KeywordClassifier {
	return &KeywordClassifier{matcher: NewKeywordMatcher(keywords)}
}

// Score returns 0 for text with no vocabulary hits and approaches 1 as hits
// accumulate (one hit scores 0.8)
func (k *KeywordClassifier) Score(_ context.Context, text string) (float64, error) {
	if len(text) < minScoreLength {
		return 0, nil
	}
	hits := k.matcher.CountMatches(text)
	if hits == 0 {
		return 0, nil
	}
	return 1 - math.Pow(0.2, float64(hits)), nil
}

// HTTPClassifier scores text against a remote inference endpoint. Calls are
// guarded by a circuit breaker and one retry on transient network errors;
// failures surface to the scorer, which degrades to keyword-only scoring.
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
	breaker  *resilience.CircuitBreaker
	retry    *resilience.RetryConfig
}

// HTTPClassifierConfig controls the remote classifier adapter
type HTTPClassifierConfig struct {
	Endpoint            string
	Timeout             time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	RetryInitialBackoff time.Duration
}

// NewHTTPClassifier creates a classifier backed by a remote scoring endpoint
func NewHTTPClassifier(cfg HTTPClassifierConfig) *HTTPClassifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerResetTimeout <= 0 {
		cfg.BreakerResetTimeout = 30 * time.Second
	}
	if cfg.RetryInitialBackoff <= 0 {
		cfg.RetryInitialBackoff = 100 * time.Millisecond
	}
	return &HTTPClassifier{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		breaker:  resilience.NewCircuitBreaker("classifier", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout),
		retry: &resilience.RetryConfig{
			MaxAttempts:       2,
			InitialBackoff:    cfg.RetryInitialBackoff,
			MaxBackoff:        time.Second,
			BackoffMultiplier: 2.0,
		},
	}
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// Score posts the window text to the inference endpoint
func (h *HTTPClassifier) Score(ctx context.Context, text string) (float64, error) {
	if len(text) < minScoreLength {
		return 0, nil
	}

	start := time.Now()
	var score float64

	err := h.breaker.Call(func() error {
		return resilience.Retry(func() error {
			var callErr error
			score, callErr = h.invoke(ctx, text)
			return callErr
		}, h.retry, resilience.IsRetryableNetworkError)
	})

	observability.UpdateCircuitBreakerState(h.breaker.Name(), int(h.breaker.GetState()))
	observability.RecordClassifierCall(start, err == nil)
	if err != nil {
		observability.IncrementCircuitBreakerFailures(h.breaker.Name())
		return 0, err
	}

	if score < 0 || score > 1 {
		return 0, fmt.Errorf("classifier returned score %f outside [0,1]", score)
	}
	return score, nil
}

func (h *HTTPClassifier) invoke(ctx context.Context, text string) (float64, error) {
	payload, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return 0, fmt.Errorf("failed to encode score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode score response: %w", err)
	}
	return out.Score, nil
}
