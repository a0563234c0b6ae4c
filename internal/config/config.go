// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported STT providers.
const (
	ProviderMock     = "mock"
	ProviderDeepgram = "deepgram"
	ProviderGoogle   = "google"
)

// Config is the full process configuration. It is read once at startup and
// treated as immutable afterwards.
type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Deepgram      DeepgramConfig
	Google        GoogleConfig
	Mock          MockConfig
	Kafka         KafkaConfig
	Limits        LimitsConfig
	HTTP          HTTPConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds service identity and listener settings.
type ServiceConfig struct {
	Principal string
	Port      string
	GRPCPort  string // empty disables the gRPC health endpoint
	Env       string
}

// STTConfig holds the backend session parameters shared by all live providers.
type STTConfig struct {
	Provider       string
	Encoding       string
	SampleRateHz   int
	Channels       int // 0 leaves the channel count unspecified
	Model          string
	LanguageCode   string
	Punctuate      bool
	InterimResults bool
}

// DeepgramConfig holds Deepgram credentials and endpoint.
type DeepgramConfig struct {
	APIKey     string
	URL        string
	CloseGrace time.Duration
}

// GoogleConfig holds Google Cloud Speech settings. Model is separate from
// STTConfig.Model because the providers use different model names.
type GoogleConfig struct {
	CredentialsFile string
	Model           string
}

// MockConfig configures the mock transcript generator.
type MockConfig struct {
	Threshold float64
	Phrases   []string // empty means the built-in phrase list
}

// KafkaConfig configures the transcript event publisher.
type KafkaConfig struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	Principal string
}

// LimitsConfig holds per-session guardrails. Zero disables a limit.
type LimitsConfig struct {
	IdleTimeout   time.Duration
	MaxDuration   time.Duration
	MaxFrameBytes int64
	MaxAudioBytes int64
}

// HTTPConfig configures the public HTTP surface.
type HTTPConfig struct {
	StaticDir      string
	HealthMessage  string
	AllowedOrigins []string
}

// ObservabilityConfig configures logging and the metrics server.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads the configuration from environment variables, falling back to
// defaults for anything unset or unparsable.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-speech-relay")

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			Port:      envOrDefault("PORT", "10000"),
			GRPCPort:  envOrEmpty("GRPC_PORT", "50051"),
			Env:       envOrDefault("ENV", "prod"),
		},
		STT: STTConfig{
			Provider:       strings.ToLower(envOrDefault("STT_PROVIDER", ProviderMock)),
			Encoding:       envOrDefault("STT_ENCODING", "webm-opus"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 48000),
			Channels:       envOrDefaultInt("STT_CHANNELS", 0),
			Model:          envOrDefault("STT_MODEL", "nova"),
			LanguageCode:   os.Getenv("STT_LANGUAGE_CODE"),
			Punctuate:      envOrDefaultBool("STT_PUNCTUATE", true),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", false),
		},
		Deepgram: DeepgramConfig{
			APIKey:     os.Getenv("DEEPGRAM_API_KEY"),
			URL:        envOrDefault("DEEPGRAM_URL", "wss://api.deepgram.com/v1/listen"),
			CloseGrace: envOrDefaultDuration("DEEPGRAM_CLOSE_GRACE", 5*time.Second),
		},
		Google: GoogleConfig{
			CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
			Model:           os.Getenv("GOOGLE_STT_MODEL"),
		},
		Mock: MockConfig{
			Threshold: envOrDefaultFloat("MOCK_THRESHOLD", 0.94),
			Phrases:   envList("MOCK_PHRASES"),
		},
		Kafka: KafkaConfig{
			Enabled:   envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:   envList("KAFKA_BROKERS"),
			Topic:     envOrDefault("KAFKA_TOPIC", "speech.transcript.relayed"),
			Principal: envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Limits: LimitsConfig{
			IdleTimeout:   envOrDefaultDuration("SESSION_IDLE_TIMEOUT", 0),
			MaxDuration:   envOrDefaultDuration("SESSION_MAX_DURATION", 0),
			MaxFrameBytes: envOrDefaultInt64("SESSION_MAX_FRAME_BYTES", 0),
			MaxAudioBytes: envOrDefaultInt64("SESSION_MAX_AUDIO_BYTES", 0),
		},
		HTTP: HTTPConfig{
			StaticDir:      envOrEmpty("STATIC_DIR", "public"),
			HealthMessage:  envOrDefault("HEALTH_MESSAGE", "Speech relay running"),
			AllowedOrigins: envListOrDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Observability: ObservabilityConfig{
			LogLevel:    strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr: envOrEmpty("METRICS_ADDR", ":9090"),
		},
	}
}

// Validate reports configuration that would make the service unusable.
func (c *Config) Validate() error {
	var errs []error

	switch c.STT.Provider {
	case ProviderMock:
		if c.Mock.Threshold < 0 || c.Mock.Threshold > 1 {
			errs = append(errs, fmt.Errorf("MOCK_THRESHOLD must be within [0,1], got %v", c.Mock.Threshold))
		}
	case ProviderDeepgram:
		if c.Deepgram.APIKey == "" {
			errs = append(errs, errors.New("DEEPGRAM_API_KEY must be set for the deepgram provider"))
		}
	case ProviderGoogle:
	default:
		errs = append(errs, fmt.Errorf("unknown STT_PROVIDER %q", c.STT.Provider))
	}

	if c.Service.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must be set when KAFKA_ENABLED is true"))
	}

	return errors.Join(errs...)
}

// MockMode reports whether sessions use the mock transcript generator.
func (c *Config) MockMode() bool {
	return c.STT.Provider == ProviderMock
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envOrEmpty is envOrDefault except that an explicitly empty value is kept,
// which lets operators disable optional listeners.
func envOrEmpty(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envList splits a comma-separated variable, dropping blank entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envListOrDefault(key string, def []string) []string {
	if l := envList(key); len(l) > 0 {
		return l
	}
	return def
}
