package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"voice-gateway/internal/metrics"
)

// DefaultTTL applies when a caller passes ttl <= 0.
const DefaultTTL = 5 * time.Minute

// Cache is the interface route handlers and the memoizing wrapper use.
//
// Only caller errors (empty key or pattern, unserializable value) are
// returned; backend failures degrade to a miss or to the local store.
type Cache interface {
	Get(ctx context.Context, key string) (Value, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	Flush(ctx context.Context) (bool, error)
}

type Options struct {
	DefaultTTL time.Duration
	// Disabled routes everything to the local store for the life of the
	// Store. The remote client is never touched.
	Disabled bool
}

// Stats are process-lifetime counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Fallbacks int64 `json:"fallbacks"`
	LocalKeys int   `json:"local_keys"`
}

// Store picks a backend per call: the remote store while it is healthy,
// the local store otherwise, and the local store again when a remote call
// fails midway.
type Store struct {
	remote     Remote
	local      *LocalStore
	disabled   bool
	health     *Health // only used when disabled
	defaultTTL time.Duration
	logger     *zap.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	fallbacks atomic.Int64

	closeOnce sync.Once
}

var _ Cache = (*Store)(nil)

// NewStore takes ownership of remote and local; Close closes both.
// remote may be nil, which behaves like Disabled.
func NewStore(remote Remote, local *LocalStore, opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if local == nil {
		local = NewLocalStore(0, logger)
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}

	s := &Store{
		remote:     remote,
		local:      local,
		disabled:   opts.Disabled || remote == nil,
		defaultTTL: opts.DefaultTTL,
		logger:     logger.Named("cache.store"),
	}
	if s.disabled {
		s.health = DisabledHealth()
		metrics.CacheBackendHealthy.Set(0)
	}
	return s
}

// Backend names the backend the next call would be routed to.
func (s *Store) Backend() string {
	if s.useRemote() {
		return "remote"
	}
	return "local"
}

func (s *Store) useRemote() bool {
	return !s.disabled && s.remote.Healthy()
}

func (s *Store) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.defaultTTL
	}
	return ttl
}

func (s *Store) Get(ctx context.Context, key string) (Value, bool, error) {
	if key == "" {
		return Value{}, false, ErrEmptyKey
	}

	if s.useRemote() {
		data, found, err := s.remote.Get(ctx, key)
		if err == nil {
			return s.count(encodedValue(data), found), found, nil
		}
		s.fallback("get", key, err)
	}

	v, found := s.local.Get(key)
	return s.count(nativeValue(v), found), found, nil
}

func (s *Store) count(v Value, found bool) Value {
	if found {
		s.hits.Add(1)
		return v
	}
	s.misses.Add(1)
	return Value{}
}

// Set encodes value up front so both backends accept exactly the same
// values. ttl <= 0 uses the default TTL.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	data, err := marshal(value)
	if err != nil {
		return false, err
	}
	ttl = s.ttl(ttl)

	if s.useRemote() {
		err := s.remote.Set(ctx, key, data, ttl)
		if err == nil {
			// a copy written during an outage must not resurface later
			s.local.Delete(key)
			return true, nil
		}
		s.fallback("set", key, err)
	}

	s.local.Set(key, value, ttl)
	return true, nil
}

// Delete removes key from both backends and reports whether it existed in
// either.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	removed := false
	if s.useRemote() {
		ok, err := s.remote.Delete(ctx, key)
		if err != nil {
			s.fallback("delete", key, err)
		}
		removed = ok
	}

	if s.local.Delete(key) {
		removed = true
	}
	return removed, nil
}

// DeleteByPattern removes keys matching a Redis-style glob from both
// backends and returns the combined count.
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if _, err := compilePattern(pattern); err != nil {
		return 0, err
	}

	deleted := 0
	if s.useRemote() {
		n, err := s.remote.DeleteMatching(ctx, pattern)
		if err != nil {
			s.fallback("delete_pattern", pattern, err)
		}
		deleted += n
	}

	n, err := s.local.DeleteMatching(pattern)
	if err != nil {
		return deleted, err
	}
	return deleted + n, nil
}

// Flush empties both backends.
func (s *Store) Flush(ctx context.Context) (bool, error) {
	if s.useRemote() {
		if err := s.remote.Flush(ctx); err != nil {
			s.fallback("flush", "", err)
		}
	}
	s.local.Flush()
	return true, nil
}

// Health reports the remote store state, or DISABLED.
func (s *Store) Health() BackendHealth {
	if s.disabled {
		return s.health.Snapshot()
	}
	return s.remote.Health()
}

func (s *Store) Stats() Stats {
	return Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Fallbacks: s.fallbacks.Load(),
		LocalKeys: s.local.Len(),
	}
}

func (s *Store) fallback(op, key string, err error) {
	s.fallbacks.Add(1)
	metrics.CacheFallbacksTotal.WithLabelValues(op).Inc()
	s.logger.Warn("remote cache failed, using local store",
		zap.String("op", op),
		zap.String("cache_key", key),
		zap.Error(err),
	)
}

// Close stops the local sweep and closes the remote client.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.local.Close()
		if s.remote != nil {
			err = s.remote.Close()
		}
	})
	return err
}
