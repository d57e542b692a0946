// Package cache provides the process-local idempotency cache used for
// duplicate-POST protection. Best-effort by design: cross-process
// single-flight is the consolidator's advisory lock, not this cache.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultTTL is the duplicate-request protection window.
const DefaultTTL = 60 * time.Second

// Entry is a memoized response.
type Entry struct {
	StatusCode int
	Body       []byte
}

// Idempotency maps request keys to memoized responses with a TTL. Safe for
// concurrent use. The clock is injectable for tests.
type Idempotency struct {
	mu      sync.Mutex
	entries map[string]idemEntry
	ttl     time.Duration
	now     func() time.Time
}

type idemEntry struct {
	value     Entry
	expiresAt time.Time
}

// Option configures an Idempotency cache.
type Option func(*Idempotency)

// WithClock injects a clock. Tests use this to advance time.
func WithClock(now func() time.Time) Option {
	return func(c *Idempotency) {
		c.now = now
	}
}

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Idempotency) {
		c.ttl = ttl
	}
}

// NewIdempotency creates the cache.
func NewIdempotency(opts ...Option) *Idempotency {
	c := &Idempotency{
		entries: make(map[string]idemEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the memoized response for key, if present and unexpired.
// Expired entries are evicted on access; there is no background sweeper.
func (c *Idempotency) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return Entry{}, false
	}
	return e.value, true
}

// Put memoizes a response under key for the TTL window.
func (c *Idempotency) Put(key string, value Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = idemEntry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Evict removes a key, regardless of expiry.
func (c *Idempotency) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the live entry count, evicting expired entries as a side
// effect.
func (c *Idempotency) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	return len(c.entries)
}

// RequestKey derives a cache key from the explicit Idempotency-Key header
// when present, otherwise a hash of method+path+body.
func RequestKey(header, method, path string, body []byte) string {
	if header != "" {
		return "hdr:" + header
	}
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return "req:" + hex.EncodeToString(h.Sum(nil))
}
