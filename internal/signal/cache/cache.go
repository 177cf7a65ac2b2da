// Package cache memoizes detector results per (kind, subject key) so repeat
// evaluations within a TTL skip external lookups. Entry-level atomicity is
// all callers rely on; there are no cross-key transactions.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/linkgate/linkgate/internal/signal"
)

// Store is the result cache contract. Implementations must treat entries
// older than the kind's TTL as absent.
type Store interface {
	Get(ctx context.Context, kind signal.Kind, key string) (signal.Result, bool)
	Put(ctx context.Context, kind signal.Kind, key string, res signal.Result)
}

// TTLs maps detector kinds to their cache lifetime. Kinds without an entry
// fall back to Default.
type TTLs struct {
	PerKind map[signal.Kind]time.Duration
	Default time.Duration
}

// FromThresholds builds the TTL table out of the configured thresholds.
func FromThresholds(th signal.Thresholds) TTLs {
	return TTLs{
		PerKind: map[signal.Kind]time.Duration{
			signal.KindVPN:    th.VPNCacheTTL,
			signal.KindGeo:    th.GeoCacheTTL,
			signal.KindDomain: th.DomainCacheTTL,
		},
		Default: th.VPNCacheTTL,
	}
}

// For returns the TTL for a kind.
func (t TTLs) For(kind signal.Kind) time.Duration {
	if d, ok := t.PerKind[kind]; ok && d > 0 {
		return d
	}
	return t.Default
}

type entry struct {
	res      signal.Result
	storedAt time.Time
}

// MemoryStore is the default in-process cache. Eviction is opportunistic:
// once the entry count exceeds the ceiling, a Put sweeps out everything past
// its TTL. Over-eviction is acceptable; returning a stale entry is not.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttls    TTLs
	ceiling int
	now     func() time.Time
}

// NewMemoryStore creates a memory cache with the given TTL table and size
// ceiling. A ceiling <= 0 defaults to 10000 entries.
func NewMemoryStore(ttls TTLs, ceiling int) *MemoryStore {
	if ceiling <= 0 {
		ceiling = 10000
	}
	return &MemoryStore{
		entries: make(map[string]entry),
		ttls:    ttls,
		ceiling: ceiling,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func cacheKey(kind signal.Kind, key string) string {
	return string(kind) + "\x00" + key
}

func (m *MemoryStore) Get(_ context.Context, kind signal.Kind, key string) (signal.Result, bool) {
	m.mu.RLock()
	e, ok := m.entries[cacheKey(kind, key)]
	m.mu.RUnlock()
	if !ok {
		return signal.Result{}, false
	}
	if m.now().Sub(e.storedAt) >= m.ttls.For(kind) {
		// Expired entries are misses; drop them so the map does not pin memory.
		m.mu.Lock()
		if cur, ok := m.entries[cacheKey(kind, key)]; ok && cur.storedAt.Equal(e.storedAt) {
			delete(m.entries, cacheKey(kind, key))
		}
		m.mu.Unlock()
		return signal.Result{}, false
	}
	return e.res, true
}

func (m *MemoryStore) Put(_ context.Context, kind signal.Kind, key string, res signal.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[cacheKey(kind, key)] = entry{res: res, storedAt: m.now()}
	if len(m.entries) > m.ceiling {
		m.sweepLocked()
	}
}

// sweepLocked evicts entries past their TTL. Caller holds the write lock.
func (m *MemoryStore) sweepLocked() {
	now := m.now()
	for k, e := range m.entries {
		kind := signal.Kind(k[:indexByte(k)])
		if now.Sub(e.storedAt) >= m.ttls.For(kind) {
			delete(m.entries, k)
		}
	}
}

// Len reports the current entry count.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func indexByte(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return i
		}
	}
	return len(s)
}

// InstrumentedStore decorates a Store with a lookup observer, so callers can
// count hits and misses per kind without the cache knowing about metrics.
type InstrumentedStore struct {
	inner    Store
	onLookup func(kind signal.Kind, hit bool)
}

// Instrument wraps store; onLookup fires on every Get. A nil onLookup
// returns store unchanged.
func Instrument(store Store, onLookup func(kind signal.Kind, hit bool)) Store {
	if onLookup == nil {
		return store
	}
	return &InstrumentedStore{inner: store, onLookup: onLookup}
}

func (s *InstrumentedStore) Get(ctx context.Context, kind signal.Kind, key string) (signal.Result, bool) {
	res, ok := s.inner.Get(ctx, kind, key)
	s.onLookup(kind, ok)
	return res, ok
}

func (s *InstrumentedStore) Put(ctx context.Context, kind signal.Kind, key string, res signal.Result) {
	s.inner.Put(ctx, kind, key, res)
}
