package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voice-gateway/internal/backoff"
)

// Reconnect backoff bounds.
const (
	ReconnectBaseBackoff = 100 * time.Millisecond
	ReconnectMaxBackoff  = 5 * time.Second
)

// DefaultCommandTimeout bounds every round trip to the remote store.
const DefaultCommandTimeout = 3 * time.Second

const (
	scanCount   = 256
	deleteBatch = 500
)

// Remote is what the Store needs from a backing store client.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	DeleteMatching(ctx context.Context, pattern string) (int, error)
	Flush(ctx context.Context) error
	Healthy() bool
	Health() BackendHealth
	Close() error
}

type RemoteOptions struct {
	// Prefix namespaces every key, joined with ":".
	Prefix           string
	CommandTimeout   time.Duration
	FailureThreshold int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	// Observe is called on health transitions.
	Observe func(from, to State)
}

func (o RemoteOptions) withDefaults() RemoteOptions {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = ReconnectBaseBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = ReconnectMaxBackoff
	}
	return o
}

// RemoteClient wraps a Redis connection. It never panics or blocks past
// the command timeout; failures come back marked ErrBackendUnavailable and
// are counted in Health.
type RemoteClient struct {
	client *redis.Client
	opts   RemoteOptions
	health *Health
	logger *zap.Logger

	reconnecting atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

var _ Remote = (*RemoteClient)(nil)

// NewRemoteClient takes ownership of client; Close closes it.
func NewRemoteClient(client *redis.Client, opts RemoteOptions, logger *zap.Logger) *RemoteClient {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteClient{
		client: client,
		opts:   opts,
		health: NewHealth(opts.FailureThreshold, opts.Observe),
		logger: logger.Named("cache.remote"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// DialRemote parses a redis:// or rediss:// URL. A malformed URL is a
// configuration error and is returned; connecting is left to Connect.
func DialRemote(url string, opts RemoteOptions, logger *zap.Logger) (*RemoteClient, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse backend url")
	}
	opts = opts.withDefaults()
	redisOpts.DialTimeout = opts.CommandTimeout
	redisOpts.ReadTimeout = opts.CommandTimeout
	redisOpts.WriteTimeout = opts.CommandTimeout
	redisOpts.MaxRetries = 1
	return NewRemoteClient(redis.NewClient(redisOpts), opts, logger), nil
}

// Connect probes the server once. On failure it schedules background
// reconnects instead of returning an error.
func (c *RemoteClient) Connect(ctx context.Context) {
	if !c.health.BeginConnect() {
		return
	}
	if err := c.ping(ctx); err != nil {
		c.logger.Warn("redis connection failed, serving from local store", zap.Error(err))
		c.scheduleReconnect()
		return
	}
	c.logger.Info("redis connection established")
}

// Ping is the explicit health probe. Its error is returned as well as
// recorded.
func (c *RemoteClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

func (c *RemoteClient) ping(ctx context.Context) error {
	return c.do(ctx, "ping", func(ctx context.Context) error {
		return c.client.Ping(ctx).Err()
	})
}

func (c *RemoteClient) Healthy() bool {
	return c.health.Healthy()
}

func (c *RemoteClient) Health() BackendHealth {
	return c.health.Snapshot()
}

// key builds the final Redis key with prefix.
func (c *RemoteClient) key(k string) string {
	if c.opts.Prefix == "" {
		return k
	}
	return c.opts.Prefix + ":" + k
}

func (c *RemoteClient) unprefix(k string) string {
	if c.opts.Prefix == "" {
		return k
	}
	return strings.TrimPrefix(k, c.opts.Prefix+":")
}

// Get returns (nil, false, nil) on a clean miss.
func (c *RemoteClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	found := false
	err := c.do(ctx, "get", func(ctx context.Context) error {
		res, err := c.client.Get(ctx, c.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		data, found = res, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return data, found, nil
}

// Set stores data with ttl. ttl <= 0 stores without expiry.
func (c *RemoteClient) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return c.do(ctx, "set", func(ctx context.Context) error {
		return c.client.Set(ctx, c.key(key), data, ttl).Err()
	})
}

func (c *RemoteClient) Delete(ctx context.Context, key string) (bool, error) {
	var n int64
	err := c.do(ctx, "delete", func(ctx context.Context) error {
		var err error
		n, err = c.client.Del(ctx, c.key(key)).Result()
		return err
	})
	return n > 0, err
}

// KeysMatching walks the keyspace with SCAN, never KEYS. Returned keys have
// the prefix stripped.
func (c *RemoteClient) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := c.do(ctx, "scan", func(ctx context.Context) error {
		keys = keys[:0]
		iter := c.client.Scan(ctx, 0, c.key(pattern), scanCount).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, c.unprefix(iter.Val()))
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteMatching removes every key matching pattern and returns how many
// were deleted.
func (c *RemoteClient) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	keys, err := c.KeysMatching(ctx, pattern)
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		batch := make([]string, 0, end-start)
		for _, k := range keys[start:end] {
			batch = append(batch, c.key(k))
		}

		var n int64
		err := c.do(ctx, "delete", func(ctx context.Context) error {
			var err error
			n, err = c.client.Del(ctx, batch...).Result()
			return err
		})
		deleted += int(n)
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// Flush removes every key under the prefix, or the whole database when no
// prefix is configured.
func (c *RemoteClient) Flush(ctx context.Context) error {
	if c.opts.Prefix != "" {
		_, err := c.DeleteMatching(ctx, "*")
		return err
	}
	return c.do(ctx, "flush", func(ctx context.Context) error {
		return c.client.FlushDB(ctx).Err()
	})
}

// do runs fn under the command timeout and feeds the outcome into Health.
// Cancellation by the caller is not the server's fault and is not counted.
func (c *RemoteClient) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Mark(errors.Wrapf(err, "redis %s", op), ErrBackendUnavailable)
	}

	qctx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
	defer cancel()

	err := fn(qctx)
	if err == nil {
		c.health.RecordSuccess()
		return nil
	}

	wrapped := errors.Mark(errors.Wrapf(err, "redis %s", op), ErrBackendUnavailable)
	if ctx.Err() != nil {
		return wrapped
	}

	switch {
	case c.health.RecordFailure(wrapped):
		c.logger.Warn("redis marked unhealthy",
			zap.String("op", op),
			zap.Error(err),
		)
		c.scheduleReconnect()
	case c.health.Healthy():
		c.logger.Warn("redis operation failed",
			zap.String("op", op),
			zap.Error(err),
		)
	default:
		// reconnect attempts during an outage
		c.logger.Debug("redis operation failed",
			zap.String("op", op),
			zap.Error(err),
		)
	}
	return wrapped
}

// scheduleReconnect starts at most one reconnect loop.
func (c *RemoteClient) scheduleReconnect() {
	if c.ctx.Err() != nil || !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(1)
	go c.reconnectLoop()
}

func (c *RemoteClient) reconnectLoop() {
	defer c.wg.Done()

	c.reconnect()
	c.reconnecting.Store(false)

	// failures may have crossed the threshold while the flag was still set
	if c.health.State() == StateUnhealthy {
		c.scheduleReconnect()
	}
}

func (c *RemoteClient) reconnect() {
	for attempt := 0; ; attempt++ {
		wait := backoff.FullJitter(c.opts.BaseBackoff, c.opts.MaxBackoff, attempt)
		timer := time.NewTimer(wait)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !c.health.BeginConnect() {
			return
		}
		if err := c.ping(c.ctx); err != nil {
			c.logger.Debug("redis reconnect attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Duration("waited", wait),
				zap.Error(err),
			)
			continue
		}

		c.logger.Info("redis connection restored", zap.Int("attempts", attempt+1))
		return
	}
}

// Close stops reconnecting and closes the underlying client.
func (c *RemoteClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
		err = c.client.Close()
	})
	return err
}
