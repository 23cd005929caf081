package toolsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(ttl time.Duration, capacity int) (*Cache, *manualClock) {
	clock := &manualClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCache(ttl, capacity)
	c.now = clock.now
	return c, clock
}

func TestCache_TTLExpiryCloses(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	s := &Session{Identity: "u"}
	c.Put(Key{"u", "c1"}, s)

	got, ok := c.Get(Key{"u", "c1"})
	require.True(t, ok)
	assert.Same(t, s, got)
	got.Release()

	clock.advance(2 * time.Minute)
	_, ok = c.Get(Key{"u", "c1"})
	assert.False(t, ok)
	assert.True(t, s.Closed())
	assert.Zero(t, c.Len())
}

func TestCache_CapacityEvictsOldest(t *testing.T) {
	c, clock := newTestCache(time.Hour, 2)
	first := &Session{}
	second := &Session{}
	third := &Session{}

	c.Put(Key{"u", "1"}, first)
	clock.advance(time.Second)
	c.Put(Key{"u", "2"}, second)
	clock.advance(time.Second)
	c.Put(Key{"u", "3"}, third)

	assert.Equal(t, 2, c.Len())
	assert.True(t, first.Closed())
	_, ok := c.Get(Key{"u", "1"})
	assert.False(t, ok)
	_, ok = c.Get(Key{"u", "3"})
	assert.True(t, ok)
	assert.False(t, third.Closed())
}

func TestCache_ReplaceClosesPrevious(t *testing.T) {
	c, _ := newTestCache(time.Hour, 4)
	old := &Session{}
	c.Put(Key{"u", "1"}, old)
	c.Put(Key{"u", "1"}, &Session{})
	assert.True(t, old.Closed())
	assert.Equal(t, 1, c.Len())
}

func TestCache_InvalidateIdentity(t *testing.T) {
	c, _ := newTestCache(time.Hour, 10)
	a, b, other := &Session{}, &Session{}, &Session{}
	c.Put(Key{"u", "1"}, a)
	c.Put(Key{"u", "2"}, b)
	c.Put(Key{"v", "1"}, other)

	assert.Equal(t, 2, c.InvalidateIdentity("u"))
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.False(t, other.Closed())
	assert.Equal(t, 1, c.Len())

	assert.True(t, c.Invalidate(Key{"v", "1"}))
	assert.False(t, c.Invalidate(Key{"v", "1"}))

	c.Put(Key{"w", "1"}, &Session{})
	c.Close()
	assert.Zero(t, c.Len())
}

func TestCache_HeldSessionOutlivesInvalidation(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	s := &Session{}
	c.Put(Key{"u", "1"}, s)

	held, ok := c.Get(Key{"u", "1"})
	require.True(t, ok)

	assert.Equal(t, 1, c.InvalidateIdentity("u"))
	assert.False(t, held.Closed())
	_, ok = c.Get(Key{"u", "1"})
	assert.False(t, ok)

	held.Release()
	assert.True(t, s.Closed())

	expiring := &Session{}
	c.Put(Key{"u", "2"}, expiring)
	inUse, ok := c.Get(Key{"u", "2"})
	require.True(t, ok)
	clock.advance(2 * time.Minute)
	c.Put(Key{"u", "3"}, &Session{})
	assert.False(t, inUse.Closed())
	inUse.Release()
	assert.True(t, expiring.Closed())
}
