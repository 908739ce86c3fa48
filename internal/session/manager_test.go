package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegisvoice/sentinel/internal/bridge"
	"github.com/aegisvoice/sentinel/internal/config"
	"github.com/aegisvoice/sentinel/internal/risk"
	"github.com/aegisvoice/sentinel/internal/stt"
	"github.com/aegisvoice/sentinel/internal/transcript"
)

// testSource serves scripted PCM data, then either blocks until closed or
// returns a scripted error
type testSource struct {
	mu     sync.Mutex
	data   []byte
	err    error
	closed chan struct{}
	once   sync.Once
}

func newTestSource(data []byte, err error) *testSource {
	return &testSource{data: data, err: err, closed: make(chan struct{})}
}

func (s *testSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.data) > 0 {
		n := copy(p, s.data)
		s.data = s.data[n:]
		s.mu.Unlock()
		return n, nil
	}
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	<-s.closed
	return 0, io.EOF
}

func (s *testSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                "8080",
		DeepgramAPIKey:      "test-key",
		SampleRate:          16000,
		FrameDurationMs:     100,
		ContextWindowSize:   5,
		AlertThreshold:      0.75,
		DebounceSegments:    2,
		ClassifierTimeout:   1,
		HandshakeTimeoutMs:  1000,
		DrainTimeoutMs:      500,
		PollIntervalMs:      50,
		RetryInitialBackoff: 1,
	}
}

func newTestManager(cfg *config.Config, provider stt.Provider) (*Manager, *bridge.Queue) {
	queue := bridge.NewQueue()
	classifier := risk.NewKeywordClassifier(cfg.KeywordList())
	return NewManager(cfg, provider, classifier, queue, zerolog.Nop()), queue
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManager_StartRetriesHandshakeOnce(t *testing.T) {
	provider := stt.NewMockProvider(errors.New("dial refused"))
	mgr, queue := newTestManager(testConfig(), provider)

	source := newTestSource(nil, nil)
	id, err := mgr.Start(context.Background(), source)
	if err != nil {
		t.Fatalf("Start returned error despite retry: %v", err)
	}
	if id == "" {
		t.Error("expected a session ID")
	}
	if got := provider.StartAttempts(); got != 2 {
		t.Errorf("expected exactly 2 handshake attempts, got %d", got)
	}
	if mgr.State() != StateStreaming {
		t.Errorf("expected streaming state, got %s", mgr.State())
	}
	if snap := queue.Snapshot(); snap.State != string(StateStreaming) {
		t.Errorf("snapshot state = %q, want %q", snap.State, StateStreaming)
	}

	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestManager_StartFailsWhenBothAttemptsFail(t *testing.T) {
	dialErr := errors.New("dial refused")
	provider := stt.NewMockProvider(dialErr, dialErr)
	mgr, queue := newTestManager(testConfig(), provider)

	source := newTestSource(nil, nil)
	if _, err := mgr.Start(context.Background(), source); err == nil {
		t.Fatal("expected Start to fail after both attempts")
	}
	if got := provider.StartAttempts(); got != 2 {
		t.Errorf("expected exactly 2 handshake attempts, got %d", got)
	}
	if mgr.State() != StateFailed {
		t.Errorf("expected failed state, got %s", mgr.State())
	}
	snap := queue.Snapshot()
	if snap.State != string(StateFailed) {
		t.Errorf("snapshot state = %q, want %q", snap.State, StateFailed)
	}
	if snap.Error == "" {
		t.Error("expected snapshot error to be set")
	}
}

func TestManager_SecondStartWhileActive(t *testing.T) {
	provider := stt.NewMockProvider()
	mgr, _ := newTestManager(testConfig(), provider)

	source := newTestSource(nil, nil)
	if _, err := mgr.Start(context.Background(), source); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := mgr.Start(context.Background(), newTestSource(nil, nil)); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestManager_StopWithoutSession(t *testing.T) {
	mgr, _ := newTestManager(testConfig(), stt.NewMockProvider())
	if err := mgr.Stop(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestManager_FramesSentInOrder(t *testing.T) {
	cfg := testConfig()
	provider := stt.NewMockProvider()
	mgr, queue := newTestManager(cfg, provider)

	// Five full frames of ramp data so byte continuity is checkable
	frameBytes := cfg.FrameBytes()
	data := make([]byte, 5*frameBytes)
	for i := range data {
		data[i] = byte(i % 251)
	}

	source := newTestSource(data, nil)
	if _, err := mgr.Start(context.Background(), source); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stream := provider.LastStream()
	waitFor(t, 2*time.Second, "all frames to be sent", func() bool {
		return stream.SentCount() == 5
	})

	sent := stream.Sent()
	offset := 0
	for i, chunk := range sent {
		if len(chunk) != frameBytes {
			t.Fatalf("frame %d has %d bytes, want %d", i, len(chunk), frameBytes)
		}
		for j, b := range chunk {
			if b != data[offset+j] {
				t.Fatalf("frame %d byte %d = %d, want %d", i, j, b, data[offset+j])
			}
		}
		offset += frameBytes
	}

	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if snap := queue.Snapshot(); snap.FramesSent != 5 {
		t.Errorf("snapshot frames sent = %d, want 5", snap.FramesSent)
	}
}

func TestManager_SegmentFlowsToSnapshotAndAlert(t *testing.T) {
	provider := stt.NewMockProvider()
	mgr, queue := newTestManager(testConfig(), provider)

	if _, err := mgr.Start(context.Background(), newTestSource(nil, nil)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream := provider.LastStream()

	stream.Emit(transcript.Event{Kind: transcript.KindPartial, Text: "he has a", Start: 0, End: 1.5})
	waitFor(t, time.Second, "partial to reach snapshot", func() bool {
		return queue.Snapshot().PartialText == "he has a"
	})

	stream.Emit(transcript.Event{Kind: transcript.KindFinal, Text: "he has a gun", Start: 0, End: 2.1})
	waitFor(t, time.Second, "segment to reach snapshot", func() bool {
		return queue.Snapshot().SegmentCount == 1
	})

	snap := queue.Snapshot()
	if snap.LatestSegment == nil || snap.LatestSegment.Text != "he has a gun" {
		t.Fatalf("unexpected latest segment: %+v", snap.LatestSegment)
	}
	if snap.PartialText != "" {
		t.Errorf("expected partial cleared after final, got %q", snap.PartialText)
	}
	if !snap.Alert.Active {
		t.Error("expected keyword segment to raise the alert")
	}
	if snap.Alert.Trigger == nil || snap.Alert.Trigger.MatchedKeyword != "gun" {
		t.Errorf("unexpected alert trigger: %+v", snap.Alert.Trigger)
	}

	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestManager_StopMidUtteranceKeepsPartial(t *testing.T) {
	provider := stt.NewMockProvider()
	mgr, queue := newTestManager(testConfig(), provider)

	if _, err := mgr.Start(context.Background(), newTestSource(nil, nil)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream := provider.LastStream()

	stream.Emit(transcript.Event{Kind: transcript.KindFinal, Text: "stay away from me", Start: 0, End: 1.8})
	stream.Emit(transcript.Event{Kind: transcript.KindPartial, Text: "i said stay", Start: 1.8, End: 2.4})
	waitFor(t, time.Second, "partial to reach snapshot", func() bool {
		return queue.Snapshot().PartialText == "i said stay"
	})

	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if mgr.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", mgr.State())
	}

	snap := queue.Snapshot()
	if snap.State != string(StateStopped) {
		t.Errorf("snapshot state = %q, want %q", snap.State, StateStopped)
	}
	if snap.SegmentCount != 1 {
		t.Errorf("expected exactly one segment, partial must not become one; got %d", snap.SegmentCount)
	}
	if snap.PartialText != "i said stay" {
		t.Errorf("expected trailing partial in snapshot, got %q", snap.PartialText)
	}
	if snap.Transcript != "stay away from me" {
		t.Errorf("unexpected transcript: %q", snap.Transcript)
	}
	if snap.Error != "" {
		t.Errorf("clean stop must not set an error, got %q", snap.Error)
	}
}

func TestManager_DrainTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.DrainTimeoutMs = 100
	provider := stt.NewMockProvider()
	mgr, queue := newTestManager(cfg, provider)

	if _, err := mgr.Start(context.Background(), newTestSource(nil, nil)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	provider.LastStream().HoldOpenOnCloseSend()

	start := time.Now()
	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Stop took %v, drain wait is not bounded", elapsed)
	}
	if mgr.State() != StateStopped {
		t.Errorf("expected stopped state after drain timeout, got %s", mgr.State())
	}
	snap := queue.Snapshot()
	if !strings.Contains(snap.Error, "incomplete") {
		t.Errorf("expected drain warning in snapshot error, got %q", snap.Error)
	}
}

func TestManager_TransportFailure(t *testing.T) {
	provider := stt.NewMockProvider()
	mgr, queue := newTestManager(testConfig(), provider)

	if _, err := mgr.Start(context.Background(), newTestSource(nil, nil)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	provider.LastStream().FailTransport(errors.New("websocket reset"))

	waitFor(t, time.Second, "session to fail", func() bool {
		return mgr.State() == StateFailed
	})
	snap := queue.Snapshot()
	if snap.State != string(StateFailed) {
		t.Errorf("snapshot state = %q, want %q", snap.State, StateFailed)
	}
	if !strings.Contains(snap.Error, "websocket reset") {
		t.Errorf("expected transport error in snapshot, got %q", snap.Error)
	}
}

func TestManager_CaptureFailure(t *testing.T) {
	provider := stt.NewMockProvider()
	mgr, queue := newTestManager(testConfig(), provider)

	source := newTestSource(nil, errors.New("device unplugged"))
	if _, err := mgr.Start(context.Background(), source); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, time.Second, "session to fail", func() bool {
		return mgr.State() == StateFailed
	})
	if snap := queue.Snapshot(); !strings.Contains(snap.Error, "capture") {
		t.Errorf("expected capture failure in snapshot, got %q", snap.Error)
	}
}

func TestManager_RestartAfterStop(t *testing.T) {
	provider := stt.NewMockProvider()
	mgr, queue := newTestManager(testConfig(), provider)

	first, err := mgr.Start(context.Background(), newTestSource(nil, nil))
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	second, err := mgr.Start(context.Background(), newTestSource(nil, nil))
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if first == second {
		t.Error("expected a fresh session ID on restart")
	}
	if snap := queue.Snapshot(); snap.SessionID != second {
		t.Errorf("snapshot session = %q, want %q", snap.SessionID, second)
	}
	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
