package cache

import (
	"sync"
	"time"
)

// State is the routing state of the remote store.
type State int32

const (
	StateUnknown State = iota
	StateConnecting
	StateHealthy
	StateUnhealthy
	// StateDisabled is set once from configuration and never left.
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "UNKNOWN"
	case StateConnecting:
		return "CONNECTING"
	case StateHealthy:
		return "HEALTHY"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateDisabled:
		return "DISABLED"
	default:
		return "INVALID"
	}
}

// DefaultFailureThreshold is how many consecutive failures flip a healthy
// remote store to unhealthy.
const DefaultFailureThreshold = 3

// BackendHealth is a point-in-time copy of a Health.
type BackendHealth struct {
	State               State
	Connected           bool
	LastError           error
	ConsecutiveFailures int
	LastChange          time.Time
}

// Health tracks the remote store connection for the whole process.
type Health struct {
	mu         sync.RWMutex
	state      State
	lastError  error
	failures   int
	threshold  int
	lastChange time.Time
	observe    func(from, to State)
}

// NewHealth starts in StateUnknown. observe, if set, is called on every
// state transition outside the lock.
func NewHealth(threshold int, observe func(from, to State)) *Health {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Health{
		state:      StateUnknown,
		threshold:  threshold,
		lastChange: time.Now(),
		observe:    observe,
	}
}

// DisabledHealth returns a Health pinned to StateDisabled.
func DisabledHealth() *Health {
	return &Health{state: StateDisabled, lastChange: time.Now()}
}

func (h *Health) Snapshot() BackendHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return BackendHealth{
		State:               h.state,
		Connected:           h.state == StateHealthy,
		LastError:           h.lastError,
		ConsecutiveFailures: h.failures,
		LastChange:          h.lastChange,
	}
}

func (h *Health) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Healthy reports whether requests may be routed to the remote store.
func (h *Health) Healthy() bool {
	return h.State() == StateHealthy
}

// BeginConnect moves UNKNOWN or UNHEALTHY to CONNECTING. It returns false
// when the store is disabled.
func (h *Health) BeginConnect() bool {
	h.mu.Lock()
	from := h.state
	to := from
	switch from {
	case StateDisabled:
		h.mu.Unlock()
		return false
	case StateUnknown, StateUnhealthy:
		to = StateConnecting
		h.setLocked(to)
	}
	h.mu.Unlock()
	h.notify(from, to)
	return true
}

// RecordSuccess resets the failure count and marks the store healthy.
func (h *Health) RecordSuccess() {
	h.mu.Lock()
	from := h.state
	if from == StateDisabled {
		h.mu.Unlock()
		return
	}
	h.failures = 0
	h.setLocked(StateHealthy)
	h.mu.Unlock()
	h.notify(from, StateHealthy)
}

// RecordFailure counts a failure and reports whether this call took the
// store out of service, that is from HEALTHY or UNKNOWN to UNHEALTHY. A
// failed connect attempt is unhealthy immediately but is not reported; a
// healthy store needs threshold consecutive failures.
func (h *Health) RecordFailure(err error) bool {
	h.mu.Lock()
	from := h.state
	if from == StateDisabled {
		h.mu.Unlock()
		return false
	}
	h.failures++
	h.lastError = err

	to := from
	switch from {
	case StateConnecting:
		to = StateUnhealthy
	case StateHealthy, StateUnknown:
		if h.failures >= h.threshold {
			to = StateUnhealthy
		}
	}
	h.setLocked(to)
	h.mu.Unlock()

	h.notify(from, to)
	return (from == StateHealthy || from == StateUnknown) && to == StateUnhealthy
}

func (h *Health) setLocked(to State) {
	if h.state != to {
		h.state = to
		h.lastChange = time.Now()
	}
}

func (h *Health) notify(from, to State) {
	if h.observe != nil && from != to {
		h.observe(from, to)
	}
}
