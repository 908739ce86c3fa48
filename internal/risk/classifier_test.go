package risk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestHTTPClassifier(endpoint string) *HTTPClassifier {
	return NewHTTPClassifier(HTTPClassifierConfig{
		Endpoint:            endpoint,
		Timeout:             time.Second,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: time.Second,
		RetryInitialBackoff: time.Millisecond,
	})
}

func TestHTTPClassifier_Score(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"score": 0.82}`))
	}))
	defer server.Close()

	c := newTestHTTPClassifier(server.URL)
	score, err := c.Score(context.Background(), "a window of text long enough to score")
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if score != 0.82 {
		t.Errorf("Expected score 0.82, got %f", score)
	}
}

func TestHTTPClassifier_ShortTextSkipsEndpoint(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	c := newTestHTTPClassifier(server.URL)
	score, err := c.Score(context.Background(), "short")
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if score != 0 || called {
		t.Error("Text below minimum length must score 0 without calling the endpoint")
	}
}

func TestHTTPClassifier_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestHTTPClassifier(server.URL)
	if _, err := c.Score(context.Background(), "a window of text long enough to score"); err == nil {
		t.Error("Expected error on HTTP 500")
	}
}

func TestHTTPClassifier_OutOfRangeScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"score": 1.7}`))
	}))
	defer server.Close()

	c := newTestHTTPClassifier(server.URL)
	if _, err := c.Score(context.Background(), "a window of text long enough to score"); err == nil {
		t.Error("Expected error for score outside [0,1]")
	}
}

func TestHTTPClassifier_CircuitOpensAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewHTTPClassifier(HTTPClassifierConfig{
		Endpoint:            server.URL,
		Timeout:             time.Second,
		BreakerMaxFailures:  2,
		BreakerResetTimeout: time.Hour,
		RetryInitialBackoff: time.Millisecond,
	})

	text := "a window of text long enough to score"
	for i := 0; i < 2; i++ {
		if _, err := c.Score(context.Background(), text); err == nil {
			t.Fatalf("Call %d: expected error", i)
		}
	}

	// Circuit is open now; the endpoint must not be reached
	server.Close()
	if _, err := c.Score(context.Background(), text); err == nil {
		t.Error("Expected circuit-open error")
	}
}
