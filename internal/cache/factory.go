package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"voice-gateway/internal/metrics"
)

type Config struct {
	// BackendURL is a redis:// URL. Required unless Disabled.
	BackendURL       string
	Disabled         bool
	DefaultTTL       time.Duration
	Prefix           string
	FailureThreshold int
	CommandTimeout   time.Duration
	SweepInterval    time.Duration
}

// ErrMissingBackendURL means the remote store is enabled without a
// connection string. There is no safe default, so startup must fail.
var ErrMissingBackendURL = errors.New("cache: BACKEND_URL is required unless CACHE_DISABLED is set")

// Open builds the process-wide Store. Configuration errors are returned;
// an unreachable server is not an error, the Store starts on the local
// store and reconnects in the background.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	local := NewLocalStore(cfg.SweepInterval, logger)
	opts := Options{DefaultTTL: cfg.DefaultTTL, Disabled: cfg.Disabled}

	if cfg.Disabled {
		logger.Info("remote cache disabled, using local store only")
		return NewStore(nil, local, opts, logger), nil
	}
	if cfg.BackendURL == "" {
		_ = local.Close()
		return nil, ErrMissingBackendURL
	}

	remote, err := DialRemote(cfg.BackendURL, RemoteOptions{
		Prefix:           cfg.Prefix,
		CommandTimeout:   cfg.CommandTimeout,
		FailureThreshold: cfg.FailureThreshold,
		Observe:          observeHealth(logger),
	}, logger)
	if err != nil {
		_ = local.Close()
		return nil, err
	}

	remote.Connect(ctx)
	return NewStore(remote, local, opts, logger), nil
}

func observeHealth(logger *zap.Logger) func(from, to State) {
	return func(from, to State) {
		if to == StateHealthy {
			metrics.CacheBackendHealthy.Set(1)
		} else {
			metrics.CacheBackendHealthy.Set(0)
		}
		logger.Info("cache backend state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
}
