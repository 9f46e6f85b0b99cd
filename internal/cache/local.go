package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the local store evicts expired entries.
const DefaultSweepInterval = 90 * time.Second

// sweepBatch bounds how many keys one write-lock acquisition may evict.
const sweepBatch = 256

type localEntry struct {
	value     any
	expiresAt time.Time // zero means never
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// LocalStore is the in-process fallback. Values are kept as-is, so
// mutating a stored pointer is visible to later readers. Contents are lost
// on restart.
type LocalStore struct {
	mu            sync.RWMutex
	items         map[string]localEntry
	stopSweep     chan struct{}
	sweepDone     chan struct{}
	closeOnce     sync.Once
	sweepInterval time.Duration
	logger        *zap.Logger
}

// NewLocalStore starts the background sweep. A non-positive interval uses
// DefaultSweepInterval.
func NewLocalStore(sweepInterval time.Duration, logger *zap.Logger) *LocalStore {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &LocalStore{
		items:         make(map[string]localEntry),
		stopSweep:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
		sweepInterval: sweepInterval,
		logger:        logger.Named("cache.local"),
	}

	go s.sweepLoop()

	return s
}

// Get returns the stored value unless it is missing or expired.
func (s *LocalStore) Get(key string) (any, bool) {
	s.mu.RLock()
	entry, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	now := time.Now()
	if entry.expired(now) {
		s.mu.Lock()
		if e, exists := s.items[key]; exists && e.expired(now) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return nil, false
	}

	return entry.value, true
}

// Set stores value for ttl. ttl <= 0 stores an entry that never expires.
func (s *LocalStore) Set(key string, value any, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.items[key] = localEntry{value: value, expiresAt: expiresAt}
	s.mu.Unlock()
}

// Delete reports whether a live entry was removed.
func (s *LocalStore) Delete(key string) bool {
	s.mu.Lock()
	entry, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	s.mu.Unlock()
	return ok && !entry.expired(time.Now())
}

// DeleteMatching removes every key matching a Redis-style glob and returns
// how many live entries were removed.
func (s *LocalStore) DeleteMatching(pattern string) (int, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	removed := 0

	s.mu.Lock()
	for k, e := range s.items {
		if !re.MatchString(k) {
			continue
		}
		delete(s.items, k)
		if !e.expired(now) {
			removed++
		}
	}
	s.mu.Unlock()

	return removed, nil
}

// Flush removes all entries and returns how many there were.
func (s *LocalStore) Flush() int {
	s.mu.Lock()
	n := len(s.items)
	s.items = make(map[string]localEntry)
	s.mu.Unlock()
	return n
}

// Len returns the number of entries, expired ones included until swept.
func (s *LocalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Sweep evicts expired entries and returns how many it removed. The key
// scan runs under the read lock; deletes take the write lock in batches.
func (s *LocalStore) Sweep() int {
	now := time.Now()

	s.mu.RLock()
	var expired []string
	for k, e := range s.items {
		if e.expired(now) {
			expired = append(expired, k)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for start := 0; start < len(expired); start += sweepBatch {
		end := min(start+sweepBatch, len(expired))

		s.mu.Lock()
		for _, k := range expired[start:end] {
			// the key may have been overwritten since the snapshot
			if e, ok := s.items[k]; ok && e.expired(now) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}

	return removed
}

func (s *LocalStore) sweepLoop() {
	defer close(s.sweepDone)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("swept expired entries", zap.Int("removed", n))
			}
		case <-s.stopSweep:
			return
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (s *LocalStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopSweep)
		<-s.sweepDone
	})
	return nil
}
