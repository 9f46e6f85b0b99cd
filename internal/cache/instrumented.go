package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"voice-gateway/internal/metrics"
	"voice-gateway/pkg/logging/logging"
)

// InstrumentedCache wraps a Cache with logging + metrics.
type InstrumentedCache struct {
	inner Cache
}

var _ Cache = (*InstrumentedCache)(nil)

// NewInstrumented returns a cache that logs and records metrics.
func NewInstrumented(inner Cache) *InstrumentedCache {
	return &InstrumentedCache{inner: inner}
}

// Unwrap returns the wrapped cache.
func (c *InstrumentedCache) Unwrap() Cache {
	return c.inner
}

func (c *InstrumentedCache) Get(ctx context.Context, key string) (Value, bool, error) {
	backend := c.backend()
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	c.record(ctx, "get", backend, result, key, start, err)

	return value, ok, err
}

func (c *InstrumentedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	backend := c.backend()
	start := time.Now()
	ok, err := c.inner.Set(ctx, key, value, ttl)
	c.record(ctx, "set", backend, resultOf(err), key, start, err, zap.Duration("ttl", ttl))
	return ok, err
}

func (c *InstrumentedCache) Delete(ctx context.Context, key string) (bool, error) {
	backend := c.backend()
	start := time.Now()
	ok, err := c.inner.Delete(ctx, key)
	c.record(ctx, "delete", backend, resultOf(err), key, start, err, zap.Bool("removed", ok))
	return ok, err
}

func (c *InstrumentedCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	backend := c.backend()
	start := time.Now()
	n, err := c.inner.DeleteByPattern(ctx, pattern)
	c.record(ctx, "delete_pattern", backend, resultOf(err), pattern, start, err, zap.Int("removed", n))
	return n, err
}

func (c *InstrumentedCache) Flush(ctx context.Context) (bool, error) {
	backend := c.backend()
	start := time.Now()
	ok, err := c.inner.Flush(ctx)
	c.record(ctx, "flush", backend, resultOf(err), "", start, err)
	return ok, err
}

func (c *InstrumentedCache) backend() string {
	if b, ok := c.inner.(interface{ Backend() string }); ok {
		return b.Backend()
	}
	return "unknown"
}

func (c *InstrumentedCache) record(
	ctx context.Context,
	op, backend, result, key string,
	start time.Time,
	err error,
	extra ...zap.Field,
) {
	elapsed := time.Since(start)
	latencyMs := float64(elapsed.Microseconds()) / 1000.0

	metrics.CacheRequestsTotal.WithLabelValues(op, backend, result).Inc()
	metrics.CacheOpDurationSeconds.WithLabelValues(op).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("cache_op", op),
		zap.String("cache_backend", backend),
		zap.String("cache_key", key),
		zap.String("cache_result", result), // hit | miss | ok | error
		zap.Float64("latency_ms", latencyMs),
	}
	if ns := keyNamespace(key); ns != "" {
		fields = append(fields, zap.String("namespace", ns))
	}
	fields = append(fields, extra...)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_"+op, append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_"+op, fields...)
	}
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// keyNamespace returns the first segment of a key, e.g. "conversations".
func keyNamespace(key string) string {
	ns, _, found := strings.Cut(key, keySeparator)
	if !found {
		return ""
	}
	return ns
}
