// ABOUTME: Tests for the dedupe window used by notification throttling
// ABOUTME: Validates TTL expiry, capacity eviction, sweeping and concurrent Allow

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestWindow(t *testing.T, ttl time.Duration, maxSize int) (*Window, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	w := New(ttl, maxSize)
	w.mu.Lock()
	w.now = clock.Now
	w.mu.Unlock()
	t.Cleanup(w.Close)
	return w, clock
}

func TestWindow_AllowOncePerWindow(t *testing.T) {
	w, clock := newTestWindow(t, time.Minute, 100)

	assert.True(t, w.Allow("C1|conv-1"))
	assert.False(t, w.Allow("C1|conv-1"))
	assert.True(t, w.Allow("C1|conv-2"), "different key is independent")

	clock.Advance(59 * time.Second)
	assert.False(t, w.Allow("C1|conv-1"))

	clock.Advance(time.Second)
	assert.True(t, w.Allow("C1|conv-1"), "allowed again once the TTL runs out")
}

func TestWindow_SeenDoesNotMark(t *testing.T) {
	w, _ := newTestWindow(t, time.Minute, 100)

	assert.False(t, w.Seen("k"))
	assert.True(t, w.Allow("k"), "Seen must not have marked the key")
	assert.True(t, w.Seen("k"))
}

func TestWindow_Forget(t *testing.T) {
	w, _ := newTestWindow(t, time.Minute, 100)

	w.Allow("k")
	w.Forget("k")
	w.Forget("never-seen")

	assert.False(t, w.Seen("k"))
	assert.True(t, w.Allow("k"))
	assert.Equal(t, 1, w.Len())
}

func TestWindow_EvictsLeastRecentlyMarked(t *testing.T) {
	w, clock := newTestWindow(t, time.Hour, 3)

	for _, k := range []string{"first", "second", "third"} {
		w.Allow(k)
		clock.Advance(time.Millisecond)
	}

	w.Allow("fourth")
	assert.False(t, w.Seen("first"), "oldest key should be evicted")
	assert.True(t, w.Seen("second"))
	assert.True(t, w.Seen("third"))
	assert.True(t, w.Seen("fourth"))

	w.Allow("fifth")
	assert.False(t, w.Seen("second"))
	assert.Equal(t, 3, w.Len())
}

func TestWindow_Sweep(t *testing.T) {
	w, clock := newTestWindow(t, time.Minute, 100)

	w.Allow("a")
	w.Allow("b")
	clock.Advance(30 * time.Second)
	w.Allow("c")

	clock.Advance(30 * time.Second)
	w.sweep()

	assert.Equal(t, 1, w.Len())
	assert.True(t, w.Seen("c"))
}

func TestWindow_ConcurrentAllowHasOneWinner(t *testing.T) {
	w, _ := newTestWindow(t, time.Minute, 100)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			if w.Allow("contested") {
				allowed.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), allowed.Load())
}

func TestWindow_ConcurrentMixedKeys(t *testing.T) {
	w, _ := newTestWindow(t, time.Minute, 50)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			for j := range 100 {
				key := fmt.Sprintf("k-%d-%d", i, j%10)
				w.Allow(key)
				w.Seen(key)
			}
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, w.Len(), 50)
}

func TestWindow_CloseTwice(t *testing.T) {
	w := New(time.Minute, 0)
	w.Close()
	w.Close()
}
