// Package application contains use-case orchestration services.
package application

import (
	"sync"
	"time"

	"github.com/openforum/skyrelay/internal/domain/model"
)

// DefaultSessionTTL is how long a cached session stays usable before the
// next caller re-authenticates.
const DefaultSessionTTL = time.Hour

// cachedSession pairs a live session with its eviction instant.
type cachedSession struct {
	session   *model.Session
	expiresAt time.Time
}

// SessionCache is a process-local map from DID to an authenticated session.
// Staleness is checked lazily on read; there is no background sweep.
// Concurrent writers for the same key may race and last write wins, which is
// fine because any valid session is interchangeable; the mutex only keeps
// the map itself safe.
type SessionCache struct {
	mu      sync.RWMutex
	entries map[string]cachedSession
	now     func() time.Time // Injectable for tests.
}

// NewSessionCache creates an empty cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{
		entries: make(map[string]cachedSession),
		now:     time.Now,
	}
}

// Get returns the cached session for a DID, or nil when absent or stale.
func (c *SessionCache) Get(did string) *model.Session {
	c.mu.RLock()
	entry, ok := c.entries[did]
	c.mu.RUnlock()

	if !ok || !c.now().Before(entry.expiresAt) {
		return nil
	}
	return entry.session
}

// Put inserts or overwrites the session for a DID with the given lifetime.
func (c *SessionCache) Put(did string, session *model.Session, ttl time.Duration) {
	c.mu.Lock()
	c.entries[did] = cachedSession{session: session, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Drop removes the entry for a DID, if any. Used on disconnect and when the
// network rejects a cached session ahead of its expiry.
func (c *SessionCache) Drop(did string) {
	c.mu.Lock()
	delete(c.entries, did)
	c.mu.Unlock()
}
