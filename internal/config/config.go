// Package config reads process configuration from the environment.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"

	"voice-gateway/internal/cache"
)

type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	VersionID string `env:"GATEWAY_VERSION" envDefault:"v1"`
	Env       string `env:"ENV"`
	LogLevel  string `env:"LOG_LEVEL"`

	// Cache
	BackendURL        string        `env:"BACKEND_URL"`
	CacheDisabled     bool          `env:"CACHE_DISABLED" envDefault:"false"`
	DefaultTTLSeconds int           `env:"DEFAULT_TTL_SECONDS" envDefault:"300"`
	CachePrefix       string        `env:"CACHE_PREFIX" envDefault:"voice"`
	FailureThreshold  int           `env:"CACHE_FAILURE_THRESHOLD" envDefault:"3"`
	CommandTimeout    time.Duration `env:"CACHE_COMMAND_TIMEOUT" envDefault:"3s"`
	SweepInterval     time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"90s"`

	// Conversation storage
	DBBackend string `env:"DB_BACKEND" envDefault:"sqlite"`
	DBDSN     string `env:"DB_DSN" envDefault:"voice.db"`

	// Upstream speech API
	SpeechBaseURL       string        `env:"SPEECH_BASE_URL" envDefault:"https://api.openai.com"`
	SpeechAPIKey        string        `env:"SPEECH_API_KEY"`
	SpeechModel         string        `env:"SPEECH_MODEL" envDefault:"tts-1"`
	SpeechFormat        string        `env:"SPEECH_FORMAT" envDefault:"mp3"`
	SpeechTimeout       time.Duration `env:"SPEECH_TIMEOUT" envDefault:"60s"`
	SpeechVoicesTimeout time.Duration `env:"SPEECH_VOICES_TIMEOUT" envDefault:"10s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, errors.Wrap(err, "config: parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that have no safe default.
func (c Config) Validate() error {
	if !c.CacheDisabled && strings.TrimSpace(c.BackendURL) == "" {
		return cache.ErrMissingBackendURL
	}
	if c.DefaultTTLSeconds <= 0 {
		return errors.Newf("config: DEFAULT_TTL_SECONDS must be positive, got %d", c.DefaultTTLSeconds)
	}
	if c.FailureThreshold <= 0 {
		return errors.Newf("config: CACHE_FAILURE_THRESHOLD must be positive, got %d", c.FailureThreshold)
	}
	switch c.DBBackend {
	case "sqlite", "postgres", "mysql":
	default:
		return errors.Newf("config: unsupported DB_BACKEND %q", c.DBBackend)
	}
	return nil
}

// DefaultTTL is DEFAULT_TTL_SECONDS as a duration.
func (c Config) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}
