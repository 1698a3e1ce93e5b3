// ABOUTME: Thread-safe TTL window for suppressing repeats of the same key
// ABOUTME: Backs notification throttling so a chatty thread pushes once per window

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	at      time.Time
	element *list.Element
}

// Window remembers keys for a fixed TTL and is bounded in size. Once full,
// the least recently marked key is evicted.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys, least recently marked at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a window with the given TTL and capacity and starts a
// background sweep of expired keys.
func New(ttl time.Duration, maxSize int) *Window {
	if maxSize <= 0 {
		maxSize = 10_000
	}
	w := &Window{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go w.sweepLoop()
	return w
}

// Allow reports whether key may proceed: true the first time it is seen in
// the window, false for repeats until the TTL runs out. Allowed keys are
// marked in the same critical section.
func (w *Window) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.seen[key]; ok && w.now().Sub(e.at) < w.ttl {
		return false
	}
	w.markLocked(key)
	return true
}

// Seen reports whether key was marked within the TTL without marking it.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.seen[key]
	return ok && w.now().Sub(e.at) < w.ttl
}

// Forget drops key so the next Allow for it succeeds.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.seen[key]; ok {
		w.order.Remove(e.element)
		delete(w.seen, key)
	}
}

// Len returns the number of tracked keys, expired ones included until swept.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// markLocked must be called with mu held.
func (w *Window) markLocked(key string) {
	now := w.now()

	if e, ok := w.seen[key]; ok {
		e.at = now
		w.order.MoveToBack(e.element)
		return
	}

	if len(w.seen) >= w.maxSize {
		if front := w.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			w.order.Remove(front)
			delete(w.seen, oldest)
		}
	}

	w.seen[key] = &entry{at: now, element: w.order.PushBack(key)}
}

func (w *Window) sweepLoop() {
	interval := w.ttl
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.done:
			return
		}
	}
}

// sweep removes expired keys.
func (w *Window) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for key, e := range w.seen {
		if now.Sub(e.at) >= w.ttl {
			w.order.Remove(e.element)
			delete(w.seen, key)
		}
	}
}

// Close stops the background sweep. Safe to call more than once.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		close(w.done)
		w.closed = true
	}
}
