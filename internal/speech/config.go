// Package speech is the client for the upstream text-to-speech API.
package speech

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	DefaultModel            = "tts-1"
	DefaultSynthesisTimeout = 60 * time.Second
	DefaultVoicesTimeout    = 10 * time.Second
	DefaultMaxAudioBytes    = 32 << 20
)

// Config describes one speech provider. BaseURL and APIKey are required;
// everything else has a default.
type Config struct {
	BaseURL string
	APIKey  string

	// Model and Format fill in requests that leave them empty.
	Model  string
	Format string

	// Each timeout bounds one call including its retries.
	SynthesisTimeout time.Duration
	VoicesTimeout    time.Duration

	// MaxAudioBytes caps a synthesized clip.
	MaxAudioBytes int64

	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Format == "" {
		c.Format = FormatMP3
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = DefaultSynthesisTimeout
	}
	if c.VoicesTimeout <= 0 {
		c.VoicesTimeout = DefaultVoicesTimeout
	}
	if c.MaxAudioBytes <= 0 {
		c.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	return c
}

func (c Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Newf("speech: base URL %q is not an absolute http(s) URL", c.BaseURL)
	}
	if c.APIKey == "" {
		return errors.New("speech: API key is required")
	}
	if !supportedFormat(c.Format) {
		return errors.Newf("speech: unsupported default format %q", c.Format)
	}
	return nil
}

type client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient applies defaults to cfg and rejects what is still missing.
func NewClient(cfg Config, logger *zap.Logger) (Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		// every request goes to the same provider host
		transport.MaxIdleConnsPerHost = transport.MaxIdleConns
		httpClient = &http.Client{Transport: transport}
	}

	return &client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("speech").With(zap.String("provider", cfg.BaseURL)),
	}, nil
}

// Close releases idle connections.
func (c *client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
