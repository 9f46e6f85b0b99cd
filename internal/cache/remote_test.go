package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestRemote(t *testing.T, opts RemoteOptions) (*miniredis.Miniredis, *RemoteClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	if opts.BaseBackoff == 0 {
		opts.BaseBackoff = 5 * time.Millisecond
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 20 * time.Millisecond
	}
	rc := NewRemoteClient(client, opts, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func TestRemoteConnect(t *testing.T) {
	_, rc := newTestRemote(t, RemoteOptions{})

	assert.Equal(t, StateUnknown, rc.Health().State)
	rc.Connect(context.Background())

	assert.True(t, rc.Healthy())
	assert.True(t, rc.Health().Connected)
}

func TestRemoteSetGet(t *testing.T) {
	mr, rc := newTestRemote(t, RemoteOptions{Prefix: "test"})
	ctx := context.Background()
	rc.Connect(ctx)

	// Miss on empty cache.
	data, found, err := rc.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)

	require.NoError(t, rc.Set(ctx, "key", []byte("value"), time.Minute))
	data, found, err = rc.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("value"), data)

	// stored under the prefix
	raw, err := mr.Get("test:key")
	require.NoError(t, err)
	assert.Equal(t, "value", raw)
	assert.Equal(t, time.Minute, mr.TTL("test:key"))
}

func TestRemoteExpiry(t *testing.T) {
	mr, rc := newTestRemote(t, RemoteOptions{})
	ctx := context.Background()
	rc.Connect(ctx)

	require.NoError(t, rc.Set(ctx, "key", []byte("v"), 2*time.Second))
	mr.FastForward(3 * time.Second)

	_, found, err := rc.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemoteDelete(t *testing.T) {
	_, rc := newTestRemote(t, RemoteOptions{})
	ctx := context.Background()
	rc.Connect(ctx)

	require.NoError(t, rc.Set(ctx, "key", []byte("v"), time.Minute))

	removed, err := rc.Delete(ctx, "key")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = rc.Delete(ctx, "key")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRemoteKeysAndDeleteMatching(t *testing.T) {
	mr, rc := newTestRemote(t, RemoteOptions{Prefix: "voice"})
	ctx := context.Background()
	rc.Connect(ctx)

	for _, k := range []string{"conv:u1:list", "conv:u1:get:a", "conv:u2:list"} {
		require.NoError(t, rc.Set(ctx, k, []byte("x"), time.Minute))
	}
	require.NoError(t, mr.Set("other:conv:u1:list", "x"))

	keys, err := rc.KeysMatching(ctx, "conv:u1:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conv:u1:list", "conv:u1:get:a"}, keys)

	n, err := rc.DeleteMatching(ctx, "conv:u1:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.True(t, mr.Exists("voice:conv:u2:list"))
	assert.True(t, mr.Exists("other:conv:u1:list"), "keys outside the prefix are untouched")
}

func TestRemoteFlushWithPrefixKeepsForeignKeys(t *testing.T) {
	mr, rc := newTestRemote(t, RemoteOptions{Prefix: "voice"})
	ctx := context.Background()
	rc.Connect(ctx)

	require.NoError(t, rc.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, rc.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, mr.Set("foreign", "x"))

	require.NoError(t, rc.Flush(ctx))

	assert.False(t, mr.Exists("voice:a"))
	assert.False(t, mr.Exists("voice:b"))
	assert.True(t, mr.Exists("foreign"))
}

func TestRemoteFlushWithoutPrefix(t *testing.T) {
	mr, rc := newTestRemote(t, RemoteOptions{})
	ctx := context.Background()
	rc.Connect(ctx)

	require.NoError(t, mr.Set("foreign", "x"))
	require.NoError(t, rc.Flush(ctx))
	assert.False(t, mr.Exists("foreign"))
}

func TestRemoteFailuresMarkUnhealthy(t *testing.T) {
	mr, rc := newTestRemote(t, RemoteOptions{
		FailureThreshold: 2,
		// keep the reconnect loop out of the way
		BaseBackoff: time.Hour,
		MaxBackoff:  time.Hour,
	})
	ctx := context.Background()
	rc.Connect(ctx)
	require.True(t, rc.Healthy())

	mr.SetError("ERR server gone")

	_, _, err := rc.Get(ctx, "key")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendUnavailable))
	assert.True(t, rc.Healthy(), "one failure is below the threshold")

	err = rc.Set(ctx, "key", []byte("v"), time.Minute)
	assert.True(t, errors.Is(err, ErrBackendUnavailable))

	health := rc.Health()
	assert.Equal(t, StateUnhealthy, health.State)
	assert.Equal(t, 2, health.ConsecutiveFailures)
	assert.Error(t, health.LastError)
}

func TestRemoteOutageWarnsOnce(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	rc := NewRemoteClient(client, RemoteOptions{
		FailureThreshold: 1,
		BaseBackoff:      time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
	}, zap.New(core))
	t.Cleanup(func() { _ = rc.Close() })
	ctx := context.Background()

	rc.Connect(ctx)
	require.True(t, rc.Healthy())

	mr.SetError("ERR server gone")
	_, _, err := rc.Get(ctx, "key")
	require.Error(t, err)
	assert.False(t, rc.Healthy())

	// let the reconnect loop fail a few times
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("redis reconnect attempt failed").Len() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, logs.FilterMessage("redis marked unhealthy").Len())
	for _, entry := range logs.FilterMessage("redis operation failed").All() {
		assert.Equal(t, zapcore.DebugLevel, entry.Level)
	}
}

func TestRemoteReconnectRestoresHealth(t *testing.T) {
	mr, rc := newTestRemote(t, RemoteOptions{FailureThreshold: 1})
	ctx := context.Background()

	mr.SetError("ERR loading")
	rc.Connect(ctx)
	assert.False(t, rc.Healthy())

	mr.SetError("")

	assert.Eventually(t, rc.Healthy, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, rc.Health().ConsecutiveFailures)
}

func TestRemotePingRecordsError(t *testing.T) {
	mr, rc := newTestRemote(t, RemoteOptions{BaseBackoff: time.Hour, MaxBackoff: time.Hour})
	ctx := context.Background()

	require.NoError(t, rc.Ping(ctx))
	assert.True(t, rc.Healthy())

	mr.SetError("ERR down")
	err := rc.Ping(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, rc.Health().ConsecutiveFailures)
}

func TestRemoteCallerCancellationIsNotCounted(t *testing.T) {
	_, rc := newTestRemote(t, RemoteOptions{})
	rc.Connect(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := rc.Get(ctx, "key")
	assert.True(t, errors.Is(err, ErrBackendUnavailable))
	assert.Equal(t, 0, rc.Health().ConsecutiveFailures)
	assert.True(t, rc.Healthy())
}

func TestDialRemoteRejectsBadURL(t *testing.T) {
	_, err := DialRemote("not a url", RemoteOptions{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
