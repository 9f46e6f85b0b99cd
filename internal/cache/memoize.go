package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"voice-gateway/pkg/logging/logging"
)

// WrapOptions configures Wrap.
type WrapOptions[A any] struct {
	// Namespace prefixes every key. Required unless KeyFunc is set.
	Namespace string
	// TTL of stored results; <= 0 uses the cache default.
	TTL time.Duration
	// KeyFunc overrides the default key, CompactKey(Namespace, ParamsOf(arg)).
	KeyFunc func(arg A) (string, error)
}

// Wrap returns fn with a cache check in front of it.
//
// Each call of the returned function runs fn at most once: a hit returns
// the cached result without calling fn, a miss calls fn and stores the
// result before returning it. Errors from fn are returned and never cached.
// Cache failures, including a panicking backend, are logged and never
// reach the caller.
//
// Concurrent misses on the same key are not collapsed; every caller that
// misses calls fn.
//
// A hit served by the local store returns the stored value itself, so
// pointers, slices and maps in R are shared with every other reader. Treat
// results as read-only; a hit from the remote store is a fresh copy.
func Wrap[A, R any](c Cache, fn func(ctx context.Context, arg A) (R, error), opts WrapOptions[A]) func(ctx context.Context, arg A) (R, error) {
	if c == nil || fn == nil {
		panic("cache: Wrap requires a cache and a function")
	}

	keyFunc := opts.KeyFunc
	if keyFunc == nil {
		if opts.Namespace == "" {
			panic(ErrEmptyNamespace.Error())
		}
		namespace := opts.Namespace
		keyFunc = func(arg A) (string, error) {
			params, err := ParamsOf(arg)
			if err != nil {
				return "", err
			}
			return CompactKey(namespace, params), nil
		}
	}

	return func(ctx context.Context, arg A) (R, error) {
		logger := logging.L(ctx)

		key, err := keyFunc(arg)
		if err == nil && key == "" {
			err = ErrEmptyKey
		}
		if err != nil {
			logger.Warn("memoize_key_error",
				zap.String("namespace", opts.Namespace),
				zap.Error(err),
			)
			return fn(ctx, arg)
		}

		if cached, ok := lookup[R](ctx, c, key); ok {
			return cached, nil
		}

		result, err := fn(ctx, arg)
		if err != nil {
			var zero R
			return zero, err
		}

		store(ctx, c, key, result, opts.TTL)
		return result, nil
	}
}

// InvalidateNamespace deletes every key under namespace.
func InvalidateNamespace(ctx context.Context, c Cache, namespace string) (int, error) {
	if namespace == "" {
		return 0, ErrEmptyNamespace
	}
	return c.DeleteByPattern(ctx, EscapePattern(namespace)+keySeparator+"*")
}

func lookup[R any](ctx context.Context, c Cache, key string) (result R, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("memoize_lookup_panic",
				zap.String("cache_key", key),
				zap.String("panic", fmt.Sprint(r)),
			)
			var zero R
			result, ok = zero, false
		}
	}()
	return Load[R](ctx, c, key)
}

func store(ctx context.Context, c Cache, key string, value any, ttl time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("memoize_store_panic",
				zap.String("cache_key", key),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	if _, err := c.Set(ctx, key, value, ttl); err != nil {
		logging.L(ctx).Warn("memoize_store_error",
			zap.String("cache_key", key),
			zap.Error(err),
		)
	}
}
