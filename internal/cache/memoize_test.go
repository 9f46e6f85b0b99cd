package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listQuery struct {
	UserID string `json:"user"`
	Limit  int    `json:"limit"`
}

// brokenCache fails or panics on every call.
type brokenCache struct {
	panics bool
	sets   atomic.Int64
}

func (b *brokenCache) Get(context.Context, string) (Value, bool, error) {
	if b.panics {
		panic("backend exploded")
	}
	return Value{}, false, errors.New("get failed")
}

func (b *brokenCache) Set(context.Context, string, any, time.Duration) (bool, error) {
	b.sets.Add(1)
	if b.panics {
		panic("backend exploded")
	}
	return false, errors.New("set failed")
}

func (b *brokenCache) Delete(context.Context, string) (bool, error) {
	return false, errors.New("delete failed")
}

func (b *brokenCache) DeleteByPattern(context.Context, string) (int, error) {
	return 0, errors.New("delete failed")
}

func (b *brokenCache) Flush(context.Context) (bool, error) {
	return false, errors.New("flush failed")
}

func countingList(calls *atomic.Int64) func(context.Context, listQuery) ([]voice, error) {
	return func(_ context.Context, q listQuery) ([]voice, error) {
		calls.Add(1)
		return []voice{{ID: q.UserID, Name: "Ava"}}, nil
	}
}

func TestWrapComputesOncePerKey(t *testing.T) {
	for name, build := range map[string]func(t *testing.T) Cache{
		"local":  func(t *testing.T) Cache { return newLocalOnlyStore(t) },
		"remote": func(t *testing.T) Cache { _, s := newRedisStore(t, RemoteOptions{}); return s },
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var calls atomic.Int64
			list := Wrap(build(t), countingList(&calls), WrapOptions[listQuery]{Namespace: "voices"})

			q := listQuery{UserID: "42", Limit: 20}
			first, err := list(ctx, q)
			require.NoError(t, err)
			second, err := list(ctx, q)
			require.NoError(t, err)

			assert.Equal(t, first, second)
			assert.Equal(t, int64(1), calls.Load())

			_, err = list(ctx, listQuery{UserID: "42", Limit: 21})
			require.NoError(t, err)
			assert.Equal(t, int64(2), calls.Load())
		})
	}
}

func TestWrapResultSharingByBackend(t *testing.T) {
	ctx := context.Background()
	_, redisStore := newRedisStore(t, RemoteOptions{})
	var calls atomic.Int64

	for name, shared := range map[string]bool{"local": true, "remote": false} {
		t.Run(name, func(t *testing.T) {
			var c Cache = redisStore
			if name == "local" {
				c = newLocalOnlyStore(t)
			}
			list := Wrap(c, countingList(&calls), WrapOptions[listQuery]{Namespace: "shared"})

			q := listQuery{UserID: "7", Limit: 1}
			_, err := list(ctx, q)
			require.NoError(t, err)
			hit1, err := list(ctx, q)
			require.NoError(t, err)
			hit2, err := list(ctx, q)
			require.NoError(t, err)

			assert.Equal(t, shared, &hit1[0] == &hit2[0])
		})
	}
}

func TestWrapDefaultKey(t *testing.T) {
	ctx := context.Background()
	s := newLocalOnlyStore(t)
	var calls atomic.Int64
	list := Wrap(s, countingList(&calls), WrapOptions[listQuery]{Namespace: "voices"})

	_, err := list(ctx, listQuery{UserID: "42", Limit: 20})
	require.NoError(t, err)

	got, ok := Load[[]voice](ctx, s, "voices:limit:20:user:42")
	require.True(t, ok)
	assert.Equal(t, []voice{{ID: "42", Name: "Ava"}}, got)
}

func TestWrapCustomKeyAndTTL(t *testing.T) {
	ctx := context.Background()
	mr, s := newRedisStore(t, RemoteOptions{})
	var calls atomic.Int64

	list := Wrap(s, countingList(&calls), WrapOptions[listQuery]{
		TTL: 42 * time.Second,
		KeyFunc: func(q listQuery) (string, error) {
			return BuildKey("voices", Params{"user": q.UserID}), nil
		},
	})

	_, err := list(ctx, listQuery{UserID: "7", Limit: 1})
	require.NoError(t, err)
	_, err = list(ctx, listQuery{UserID: "7", Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 42*time.Second, mr.TTL("voices:user:7"))
}

func TestWrapDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	s := newLocalOnlyStore(t)
	var calls atomic.Int64
	boom := errors.New("upstream down")

	fn := Wrap(s, func(_ context.Context, q listQuery) ([]voice, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return []voice{{ID: q.UserID}}, nil
	}, WrapOptions[listQuery]{Namespace: "voices"})

	_, err := fn(ctx, listQuery{UserID: "1"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Stats().LocalKeys)

	got, err := fn(ctx, listQuery{UserID: "1"})
	require.NoError(t, err)
	assert.Equal(t, []voice{{ID: "1"}}, got)
	assert.Equal(t, int64(2), calls.Load())
}

func TestWrapSurvivesBrokenCache(t *testing.T) {
	for name, c := range map[string]*brokenCache{
		"errors": {},
		"panics": {panics: true},
	} {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int64
			list := Wrap(Cache(c), countingList(&calls), WrapOptions[listQuery]{Namespace: "voices"})

			got, err := list(context.Background(), listQuery{UserID: "9"})
			require.NoError(t, err)
			assert.Equal(t, []voice{{ID: "9", Name: "Ava"}}, got)
			assert.Equal(t, int64(1), calls.Load())
			assert.Equal(t, int64(1), c.sets.Load())
		})
	}
}

func TestWrapKeyErrorCallsThrough(t *testing.T) {
	ctx := context.Background()
	s := newLocalOnlyStore(t)
	var calls atomic.Int64

	list := Wrap(s, countingList(&calls), WrapOptions[listQuery]{
		Namespace: "voices",
		KeyFunc: func(listQuery) (string, error) {
			return "", errors.New("no key")
		},
	})

	for i := 0; i < 2; i++ {
		_, err := list(ctx, listQuery{UserID: "1"})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 0, s.Stats().LocalKeys)
}

func TestWrapPanicsOnMisuse(t *testing.T) {
	s := newLocalOnlyStore(t)
	var calls atomic.Int64

	assert.Panics(t, func() {
		Wrap[listQuery, []voice](nil, countingList(&calls), WrapOptions[listQuery]{Namespace: "v"})
	})
	assert.Panics(t, func() {
		Wrap[listQuery, []voice](s, nil, WrapOptions[listQuery]{Namespace: "v"})
	})
	assert.Panics(t, func() {
		Wrap(s, countingList(&calls), WrapOptions[listQuery]{})
	})
}

func TestInvalidateNamespace(t *testing.T) {
	ctx := context.Background()
	s := newLocalOnlyStore(t)
	var calls atomic.Int64
	list := Wrap(s, countingList(&calls), WrapOptions[listQuery]{Namespace: "voices"})

	_, err := s.Set(ctx, "voicesextra:k", 1, time.Minute)
	require.NoError(t, err)

	for _, user := range []string{"1", "2"} {
		_, err := list(ctx, listQuery{UserID: user})
		require.NoError(t, err)
	}
	require.Equal(t, int64(2), calls.Load())

	n, err := InvalidateNamespace(ctx, s, "voices")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = list(ctx, listQuery{UserID: "1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())

	_, ok, err := s.Get(ctx, "voicesextra:k")
	require.NoError(t, err)
	assert.True(t, ok, "sibling namespace untouched")

	_, err = InvalidateNamespace(ctx, s, "")
	assert.ErrorIs(t, err, ErrEmptyNamespace)
}
