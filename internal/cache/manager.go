// Package cache implements the tiered email list cache: a fast in-process
// tier bounded by insertion-order eviction, plus optional durable tiers
// for cross-session persistence.
package cache

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mailpane/mailpane/internal/mail"
)

// Tier selects which backing tier a read or write should touch in
// addition to the always-written fast tier.
type Tier int

const (
	// TierMemory touches only the fast in-process tier.
	TierMemory Tier = iota
	// TierPersistent additionally uses the durable store that survives restarts.
	TierPersistent
	// TierSession additionally uses the durable store that is wiped on startup.
	TierSession
)

// maxFastEntries bounds the fast tier. Once exceeded, the single
// oldest-inserted entry is evicted. This is a strict FIFO bound, not an
// LRU: promotion and reads do not refresh an entry's position.
const maxFastEntries = 100

// storagePrefix namespaces cache entries inside the shared durable stores,
// which also hold sync cursors and the push subscription record.
const storagePrefix = "cache:"

// DurableStore is a key/value tier that may be unavailable or failing;
// the manager swallows its errors and degrades to fast-tier-only behavior.
type DurableStore interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	// Keys returns all keys with the given prefix.
	Keys(prefix string) ([]string, error)
}

// entry wraps a cached page with its creation time and time-to-live.
// It is the JSON layout written to the durable tiers.
type entry struct {
	Data      mail.ListPage `json:"data"`
	Timestamp time.Time     `json:"timestamp"`
	TTL       time.Duration `json:"ttl"`
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.Timestamp) > e.TTL
}

// Manager is the tiered cache. All methods are safe to call with durable
// tiers absent; writes and reads then degrade to the fast tier silently.
//
// Manager is not a singleton: construct one per application session and
// pass it to the components that need it.
type Manager struct {
	mu         sync.Mutex
	fast       map[string]entry
	order      []string // fast-tier keys in insertion order
	persistent DurableStore
	session    DurableStore
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPersistent attaches the durable tier that survives restarts.
func WithPersistent(s DurableStore) Option {
	return func(m *Manager) { m.persistent = s }
}

// WithSession attaches the durable tier that is wiped per session.
func WithSession(s DurableStore) Option {
	return func(m *Manager) { m.session = s }
}

// WithNow overrides the clock, for TTL tests.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger for the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a cache manager. If a durable tier is attached, it is
// scanned once and any malformed or already-expired entries are purged.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		fast:   make(map[string]entry),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.purgeDurable(m.persistent)
	m.purgeDurable(m.session)
	return m
}

// purgeDurable removes expired and unparseable entries from a durable tier.
// Failures are swallowed: a broken durable tier must never break the cache.
func (m *Manager) purgeDurable(store DurableStore) {
	if store == nil {
		return
	}
	keys, err := store.Keys(storagePrefix)
	if err != nil {
		m.logger.Debug("cache: durable scan failed", "error", err)
		return
	}
	now := m.now()
	for _, key := range keys {
		raw, ok, err := store.Get(key)
		if err != nil || !ok {
			continue
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil || e.expired(now) {
			if delErr := store.Delete(key); delErr != nil {
				m.logger.Debug("cache: purge delete failed", "key", key, "error", delErr)
			}
		}
	}
}

func (m *Manager) durable(tier Tier) DurableStore {
	switch tier {
	case TierPersistent:
		return m.persistent
	case TierSession:
		return m.session
	}
	return nil
}

// Set stores a page under key with the given TTL. The fast tier is always
// written; the requested durable tier is written as well when available.
// Durable write failures are swallowed.
func (m *Manager) Set(key string, page mail.ListPage, ttl time.Duration, tier Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := entry{Data: page, Timestamp: m.now(), TTL: ttl}
	m.setFast(key, e)

	if store := m.durable(tier); store != nil {
		raw, err := json.Marshal(e)
		if err == nil {
			err = store.Set(storagePrefix+key, raw)
		}
		if err != nil {
			m.logger.Debug("cache: durable write failed", "key", key, "error", err)
		}
	}
}

// setFast writes the fast tier and applies the FIFO capacity bound.
// Overwriting an existing key keeps its original insertion position.
func (m *Manager) setFast(key string, e entry) {
	if _, exists := m.fast[key]; !exists {
		m.order = append(m.order, key)
	}
	m.fast[key] = e

	if len(m.fast) > maxFastEntries {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.fast, oldest)
	}
}

// Get returns the cached page for key. The fast tier is checked first; an
// expired fast entry is deleted on the spot so it stops holding FIFO
// capacity. On a miss, the requested durable tier is consulted: a valid
// durable hit is promoted back into the fast tier, an expired one is
// deleted as a side effect. Returned pages are detached copies; mutating
// them never leaks into the cache.
func (m *Manager) Get(key string, tier Tier) (mail.ListPage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.fast[key]; ok {
		if !e.expired(now) {
			return e.Data.Clone(), true
		}
		m.deleteFast(key)
	}

	store := m.durable(tier)
	if store == nil {
		return mail.ListPage{}, false
	}

	raw, ok, err := store.Get(storagePrefix + key)
	if err != nil {
		m.logger.Debug("cache: durable read failed", "key", key, "error", err)
		return mail.ListPage{}, false
	}
	if !ok {
		return mail.ListPage{}, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		_ = store.Delete(storagePrefix + key)
		return mail.ListPage{}, false
	}
	if e.expired(now) {
		_ = store.Delete(storagePrefix + key)
		return mail.ListPage{}, false
	}

	m.setFast(key, e)
	return e.Data.Clone(), true
}

// Has reports whether a valid entry exists for key in the given tier.
func (m *Manager) Has(key string, tier Tier) bool {
	_, ok := m.Get(key, tier)
	return ok
}

// Delete removes key from the fast tier and from both durable tiers.
func (m *Manager) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteFast(key)
	for _, store := range []DurableStore{m.persistent, m.session} {
		if store == nil {
			continue
		}
		if err := store.Delete(storagePrefix + key); err != nil {
			m.logger.Debug("cache: durable delete failed", "key", key, "error", err)
		}
	}
}

func (m *Manager) deleteFast(key string) {
	if _, ok := m.fast[key]; !ok {
		return
	}
	delete(m.fast, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// DeleteByPrefix removes every entry whose key starts with prefix, across
// the fast tier and both durable tiers.
func (m *Manager) DeleteByPrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range m.order {
		if strings.HasPrefix(key, prefix) {
			delete(m.fast, key)
		}
	}
	kept := m.order[:0]
	for _, key := range m.order {
		if _, ok := m.fast[key]; ok {
			kept = append(kept, key)
		}
	}
	m.order = kept

	for _, store := range []DurableStore{m.persistent, m.session} {
		if store == nil {
			continue
		}
		keys, err := store.Keys(storagePrefix + prefix)
		if err != nil {
			m.logger.Debug("cache: durable scan failed", "error", err)
			continue
		}
		for _, key := range keys {
			_ = store.Delete(key)
		}
	}
}

// Clear removes every cache entry from all tiers.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fast = make(map[string]entry)
	m.order = nil
	for _, store := range []DurableStore{m.persistent, m.session} {
		if store == nil {
			continue
		}
		keys, err := store.Keys(storagePrefix)
		if err != nil {
			continue
		}
		for _, key := range keys {
			_ = store.Delete(key)
		}
	}
}

// Stats reports entry counts per tier, for the debug endpoint.
type Stats struct {
	Fast       int `json:"fast"`
	Persistent int `json:"persistent"`
	Session    int `json:"session"`
}

// GetStats counts entries in each tier. Durable counts are best-effort.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{Fast: len(m.fast)}
	if m.persistent != nil {
		if keys, err := m.persistent.Keys(storagePrefix); err == nil {
			st.Persistent = len(keys)
		}
	}
	if m.session != nil {
		if keys, err := m.session.Keys(storagePrefix); err == nil {
			st.Session = len(keys)
		}
	}
	return st
}
