package cache

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestLocal(t *testing.T, sweep time.Duration) *LocalStore {
	t.Helper()
	s := NewLocalStore(sweep, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLocalStoreTTL(t *testing.T) {
	s := newTestLocal(t, time.Minute)

	s.Set("test:key", "hello", 20*time.Millisecond)

	got, hit := s.Get("test:key")
	require.True(t, hit, "expected hit immediately after Set")
	assert.Equal(t, "hello", got)

	// Wait for TTL to expire
	time.Sleep(40 * time.Millisecond)

	_, hit = s.Get("test:key")
	assert.False(t, hit, "expected miss after TTL expiry")
	assert.Equal(t, 0, s.Len(), "lazy expiry should remove the entry")
}

func TestLocalStoreNoTTLNeverExpires(t *testing.T) {
	s := newTestLocal(t, time.Minute)

	s.Set("forever", 42, 0)
	time.Sleep(5 * time.Millisecond)

	got, hit := s.Get("forever")
	require.True(t, hit)
	assert.Equal(t, 42, got)
	assert.Equal(t, 0, s.Sweep())
}

func TestLocalStoreOverwrite(t *testing.T) {
	s := newTestLocal(t, time.Minute)

	s.Set("k", "first", time.Minute)
	s.Set("k", "second", time.Minute)

	got, hit := s.Get("k")
	require.True(t, hit)
	assert.Equal(t, "second", got)
	assert.Equal(t, 1, s.Len())
}

func TestLocalStoreDelete(t *testing.T) {
	s := newTestLocal(t, time.Minute)

	s.Set("k", "v", time.Minute)
	assert.True(t, s.Delete("k"))
	assert.False(t, s.Delete("k"))

	_, hit := s.Get("k")
	assert.False(t, hit)

	s.Set("stale", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	assert.False(t, s.Delete("stale"), "expired entries do not count as removed")
}

func TestLocalStoreDeleteMatching(t *testing.T) {
	s := newTestLocal(t, time.Minute)

	s.Set("conversations:u1:list:limit:20", 1, time.Minute)
	s.Set("conversations:u1:get:id:abc", 2, time.Minute)
	s.Set("conversations:u2:list:limit:20", 3, time.Minute)
	s.Set("api:path:/x:user:42", 4, time.Minute)

	n, err := s.DeleteMatching("conversations:u1:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, hit := s.Get("conversations:u2:list:limit:20")
	assert.True(t, hit)

	// '*' spans '/' as it does in Redis
	n, err = s.DeleteMatching("api:*:user:4?")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())
}

func TestLocalStoreDeleteMatchingRejectsBadPattern(t *testing.T) {
	s := newTestLocal(t, time.Minute)

	_, err := s.DeleteMatching("")
	assert.ErrorIs(t, err, ErrEmptyPattern)

	_, err = s.DeleteMatching("broken[")
	assert.True(t, errors.Is(err, ErrInvalidPattern))
}

func TestLocalStoreSweep(t *testing.T) {
	s := newTestLocal(t, time.Hour)

	for i := 0; i < sweepBatch*2+10; i++ {
		s.Set(BuildKey("sweep", Params{"i": i}), i, time.Millisecond)
	}
	s.Set("keep", "v", time.Hour)

	time.Sleep(5 * time.Millisecond)

	removed := s.Sweep()
	assert.Equal(t, sweepBatch*2+10, removed)
	assert.Equal(t, 1, s.Len())
}

func TestLocalStoreBackgroundSweep(t *testing.T) {
	s := newTestLocal(t, 10*time.Millisecond)

	s.Set("short", "v", time.Millisecond)

	assert.Eventually(t, func() bool {
		return s.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestLocalStoreFlushAndClose(t *testing.T) {
	s := NewLocalStore(time.Minute, zaptest.NewLogger(t))

	s.Set("a", 1, time.Minute)
	s.Set("b", 2, time.Minute)
	assert.Equal(t, 2, s.Flush())
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close must be idempotent")
}
