// ABOUTME: Tests for the message id window used to suppress redelivered messages
// ABOUTME: Uses a manual clock for expiry and checks capacity eviction and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestWindow(retention time.Duration, capacity int) (*Window, *manualClock) {
	clock := &manualClock{now: time.Date(2025, 8, 11, 9, 0, 0, 0, time.UTC)}
	return New(retention, capacity, WithClock(clock.Now)), clock
}

func TestWindow_FirstDeliveryIsNew(t *testing.T) {
	w, _ := newTestWindow(time.Hour, 10)
	defer w.Close()

	assert.False(t, w.Seen("wamid.1"))
	assert.True(t, w.Seen("wamid.1"))
	assert.True(t, w.Seen("wamid.1"))
	assert.False(t, w.Seen("wamid.2"))
}

func TestWindow_Expiry(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 10)
	defer w.Close()

	assert.False(t, w.Seen("wamid.1"))
	clock.Advance(59 * time.Second)
	assert.True(t, w.Seen("wamid.1"))

	clock.Advance(time.Second)
	assert.False(t, w.Seen("wamid.1"), "expired id should be treated as new")
}

func TestWindow_CapacityEvictsLeastRecent(t *testing.T) {
	w, _ := newTestWindow(time.Hour, 3)
	defer w.Close()

	for _, id := range []string{"a", "b", "c", "d"} {
		assert.False(t, w.Seen(id))
	}

	assert.Equal(t, 3, w.Len())
	assert.True(t, w.Seen("b"))
	assert.True(t, w.Seen("d"))
	assert.False(t, w.Seen("a"), "oldest id should have been evicted")
}

func TestWindow_Forget(t *testing.T) {
	w, _ := newTestWindow(time.Hour, 10)
	defer w.Close()

	w.Seen("wamid.1")
	w.Forget("wamid.1")
	w.Forget("never-marked")

	assert.False(t, w.Seen("wamid.1"))
}

func TestWindow_Sweep(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 10)
	defer w.Close()

	w.Seen("old-1")
	w.Seen("old-2")
	clock.Advance(30 * time.Second)
	w.Seen("fresh")
	clock.Advance(45 * time.Second)

	assert.Equal(t, 2, w.Sweep())
	assert.Equal(t, 1, w.Len())
	assert.True(t, w.Seen("fresh"))
}

func TestWindow_BackgroundSweep(t *testing.T) {
	w := New(time.Millisecond, 10, WithSweepInterval(5*time.Millisecond))
	defer w.Close()

	w.Seen("short-lived")
	assert.Eventually(t, func() bool { return w.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWindow_ConcurrentDeliveriesProcessOnce(t *testing.T) {
	w, _ := newTestWindow(time.Hour, 1000)
	defer w.Close()

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if !w.Seen(fmt.Sprintf("wamid.%d", i%5)) {
				fresh.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(5), fresh.Load())
}

func TestWindow_CloseIsIdempotent(t *testing.T) {
	w := New(time.Minute, 10, WithSweepInterval(time.Minute))
	w.Close()
	w.Close()
}
