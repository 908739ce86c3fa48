package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultKeywords is the built-in alert vocabulary. A match on any entry is a
// sufficient condition for raising an alert, independent of the classifier score.
var DefaultKeywords = []string{
	"kill you",
	"going to kill",
	"i will kill",
	"beat you",
	"hurt you",
	"gun",
	"knife",
	"help me",
	"call the police",
	"leave me alone",
	"don't touch me",
}

// Config holds all configuration for the sentinel service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, pt-BR, es, etc.)

	// Audio capture configuration
	SampleRate      int    `envconfig:"SAMPLE_RATE" default:"16000"`     // PCM16 mono sample rate in Hz
	FrameDurationMs int    `envconfig:"FRAME_DURATION_MS" default:"100"` // Fixed frame duration in milliseconds
	AudioDevice     string `envconfig:"AUDIO_DEVICE" default:""`         // PCM16 capture path (device node or FIFO); empty means ingest-only
	RecordingDir    string `envconfig:"RECORDING_DIR" default:""`        // Directory for WAV recordings; empty disables the sink

	// Risk scoring configuration
	ContextWindowSize int     `envconfig:"CONTEXT_WINDOW_SIZE" default:"5"` // Segments kept as classifier context
	AlertThreshold    float64 `envconfig:"ALERT_THRESHOLD" default:"0.75"`  // Classifier score above which an alert is raised
	DebounceSegments  int     `envconfig:"DEBOUNCE_SEGMENTS" default:"2"`   // Consecutive clean segments required to clear an alert
	Keywords          string  `envconfig:"ALERT_KEYWORDS" default:""`       // Comma-separated vocabulary override
	ClassifierURL     string  `envconfig:"CLASSIFIER_URL" default:""`       // Inference endpoint; empty falls back to the keyword classifier
	ClassifierTimeout int     `envconfig:"CLASSIFIER_TIMEOUT" default:"5"`  // Classifier request timeout in seconds

	// Session lifecycle configuration
	HandshakeTimeoutMs int `envconfig:"HANDSHAKE_TIMEOUT_MS" default:"5000"` // Provider handshake deadline
	DrainTimeoutMs     int `envconfig:"DRAIN_TIMEOUT_MS" default:"3000"`     // Bounded wait for the provider flush on stop
	PollIntervalMs     int `envconfig:"POLL_INTERVAL_MS" default:"200"`      // Consumer poll / push cadence

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.FrameDurationMs <= 0 {
		return fmt.Errorf("FRAME_DURATION_MS must be positive, got %d", c.FrameDurationMs)
	}
	if c.ContextWindowSize <= 0 {
		return fmt.Errorf("CONTEXT_WINDOW_SIZE must be positive, got %d", c.ContextWindowSize)
	}
	if c.AlertThreshold < 0 || c.AlertThreshold > 1 {
		return fmt.Errorf("ALERT_THRESHOLD must be in [0,1], got %f", c.AlertThreshold)
	}
	if c.DebounceSegments < 1 {
		return fmt.Errorf("DEBOUNCE_SEGMENTS must be at least 1, got %d", c.DebounceSegments)
	}
	return nil
}

// FrameDuration returns the fixed frame duration as a time.Duration
func (c *Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameDurationMs) * time.Millisecond
}

// HandshakeTimeout returns the provider handshake deadline
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

// DrainTimeout returns the bounded drain wait used while stopping
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMs) * time.Millisecond
}

// PollInterval returns the consumer poll cadence
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// FrameBytes returns the size of one fixed-duration frame in bytes (PCM16 mono)
func (c *Config) FrameBytes() int {
	return c.SampleRate * c.FrameDurationMs / 1000 * 2
}

// KeywordList returns the configured vocabulary, falling back to DefaultKeywords
func (c *Config) KeywordList() []string {
	if strings.TrimSpace(c.Keywords) == "" {
		return DefaultKeywords
	}
	parts := strings.Split(c.Keywords, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			keywords = append(keywords, trimmed)
		}
	}
	if len(keywords) == 0 {
		return DefaultKeywords
	}
	return keywords
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
