package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aegisvoice/sentinel/internal/audio"
	"github.com/aegisvoice/sentinel/internal/bridge"
	"github.com/aegisvoice/sentinel/internal/config"
	"github.com/aegisvoice/sentinel/internal/observability"
	"github.com/aegisvoice/sentinel/internal/risk"
	"github.com/aegisvoice/sentinel/internal/server"
	"github.com/aegisvoice/sentinel/internal/session"
	"github.com/aegisvoice/sentinel/internal/stt"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("model", cfg.DeepgramModel).
		Str("language", cfg.DeepgramLanguage).
		Int("sample_rate", cfg.SampleRate).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Sentinel starting")

	// Risk classifier: remote inference endpoint when configured, keyword
	// heuristic otherwise
	var classifier risk.Classifier
	if cfg.ClassifierURL != "" {
		classifier = risk.NewHTTPClassifier(risk.HTTPClassifierConfig{
			Endpoint:            cfg.ClassifierURL,
			Timeout:             time.Duration(cfg.ClassifierTimeout) * time.Second,
			BreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
			BreakerResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
			RetryInitialBackoff: time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		})
		logger.Info().Str("endpoint", cfg.ClassifierURL).Msg("Using remote risk classifier")
	} else {
		classifier = risk.NewKeywordClassifier(cfg.KeywordList())
		logger.Info().Int("vocabulary", len(cfg.KeywordList())).Msg("Using keyword risk classifier")
	}

	provider := stt.NewDeepgramProvider(cfg.DeepgramAPIKey, logger)
	queue := bridge.NewQueue()
	manager := session.NewManager(cfg, provider, classifier, queue, logger)

	// Local capture opens the configured device path; without one, audio
	// arrives over the ingest WebSocket
	var factory server.SourceFactory
	if cfg.AudioDevice != "" {
		device := cfg.AudioDevice
		factory = func() (audio.CaptureSource, error) {
			return os.Open(device)
		}
		logger.Info().Str("device", device).Msg("Local audio capture enabled")
	}

	srv := server.New(cfg, manager, queue, factory, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("ingest", fmt.Sprintf("ws://localhost:%s/session/ingest", cfg.Port)).
			Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")

	// Stop any live session first so the stream drains and the recording is
	// finalized
	if err := manager.Stop(context.Background()); err != nil && !errors.Is(err, session.ErrNoSession) {
		logger.Warn().Err(err).Msg("Stopping session during shutdown failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
