package cache

import "github.com/cockroachdb/errors"

// Environmental errors. The Store absorbs these and degrades instead of
// returning them.
var (
	// ErrBackendUnavailable marks transport and protocol failures of the remote store.
	ErrBackendUnavailable = errors.New("cache: backend unavailable")
	// ErrDecode marks a stored value that could not be decoded into the requested type.
	ErrDecode = errors.New("cache: decode failed")
)

// Caller errors. These indicate a programming mistake and are returned as-is.
var (
	ErrEmptyKey       = errors.New("cache: key must not be empty")
	ErrEmptyPattern   = errors.New("cache: pattern must not be empty")
	ErrInvalidPattern = errors.New("cache: invalid pattern")
	ErrEmptyNamespace = errors.New("cache: namespace must not be empty")
	ErrUnserializable = errors.New("cache: value cannot be serialized")
)
