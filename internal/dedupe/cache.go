// ABOUTME: Bounded, expiring set of inbound message ids for redelivery suppression
// ABOUTME: Shared by the WhatsApp webhook and the Matrix bridge

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	id        string
	expiresAt time.Time
}

// Window tracks message ids seen within a retention period. When full, the
// least recently marked id is dropped first.
type Window struct {
	mu        sync.Mutex
	index     map[string]*list.Element
	lru       *list.List // front is least recently marked
	retention time.Duration
	capacity  int
	now       func() time.Time

	sweepEvery time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// Option configures a Window.
type Option func(*Window)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

// WithSweepInterval starts a background sweep of expired ids. Without it,
// expired ids are only dropped lazily or by Sweep.
func WithSweepInterval(every time.Duration) Option {
	return func(w *Window) { w.sweepEvery = every }
}

// New creates a Window keeping ids for retention, at most capacity at once.
func New(retention time.Duration, capacity int, opts ...Option) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	w := &Window{
		index:     make(map[string]*list.Element),
		lru:       list.New(),
		retention: retention,
		capacity:  capacity,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.sweepEvery > 0 {
		go w.sweepLoop(w.sweepEvery)
	}
	return w
}

// Seen reports whether id was already marked within the retention period.
// An unseen id is marked in the same critical section.
func (w *Window) Seen(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if el, ok := w.index[id]; ok {
		if now.Before(el.Value.(*entry).expiresAt) {
			return true
		}
		w.removeLocked(el)
	}

	for w.lru.Len() >= w.capacity {
		w.removeLocked(w.lru.Front())
	}
	w.index[id] = w.lru.PushBack(&entry{id: id, expiresAt: now.Add(w.retention)})
	return false
}

// Forget drops id so a later delivery is processed again. Callers use it
// when handling was abandoned before a reply was produced.
func (w *Window) Forget(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.index[id]; ok {
		w.removeLocked(el)
	}
}

// Len returns the number of retained ids, including expired ones not yet swept.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lru.Len()
}

// Sweep drops every expired id and returns how many were removed.
func (w *Window) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	removed := 0
	for el := w.lru.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*entry).expiresAt) {
			w.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

func (w *Window) removeLocked(el *list.Element) {
	w.lru.Remove(el)
	delete(w.index, el.Value.(*entry).id)
}

func (w *Window) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Sweep()
		case <-w.stop:
			return
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (w *Window) Close() {
	w.stopOnce.Do(func() { close(w.stop) })
}
