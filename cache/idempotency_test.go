package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotency_PutGet(t *testing.T) {
	c := NewIdempotency()
	c.Put("k", Entry{StatusCode: 202, Body: []byte(`{"ok":true}`)})

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 202, got.StatusCode)
	assert.Equal(t, []byte(`{"ok":true}`), got.Body)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestIdempotency_TTLExpiry(t *testing.T) {
	now := time.Now()
	c := NewIdempotency(WithClock(func() time.Time { return now }))

	c.Put("k", Entry{StatusCode: 202})

	// Within the window the entry replays.
	now = now.Add(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	// Past the window it is gone, and evicted on access.
	now = now.Add(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestIdempotency_Evict(t *testing.T) {
	c := NewIdempotency()
	c.Put("k", Entry{StatusCode: 200})
	c.Evict("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestIdempotency_LenSweepsExpired(t *testing.T) {
	now := time.Now()
	c := NewIdempotency(
		WithClock(func() time.Time { return now }),
		WithTTL(10*time.Second),
	)
	c.Put("a", Entry{})
	c.Put("b", Entry{})
	assert.Equal(t, 2, c.Len())

	now = now.Add(11 * time.Second)
	assert.Equal(t, 0, c.Len())
}

func TestRequestKey(t *testing.T) {
	t.Run("header wins", func(t *testing.T) {
		key := RequestKey("abc-123", "POST", "/api/blocks", []byte(`{}`))
		assert.Equal(t, "hdr:abc-123", key)
	})

	t.Run("hash is stable and input-sensitive", func(t *testing.T) {
		a := RequestKey("", "POST", "/api/blocks", []byte(`{"snapshotId":"s1"}`))
		b := RequestKey("", "POST", "/api/blocks", []byte(`{"snapshotId":"s1"}`))
		c := RequestKey("", "POST", "/api/blocks", []byte(`{"snapshotId":"s2"}`))

		assert.Equal(t, a, b)
		assert.NotEqual(t, a, c)
		assert.Contains(t, a, "req:")
	})
}
