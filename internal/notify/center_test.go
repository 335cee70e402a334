package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type removals struct {
	mu    sync.Mutex
	count map[string]int
	at    map[string]time.Time
	clock clockwork.Clock
}

func newRemovals(clock clockwork.Clock) *removals {
	return &removals{count: make(map[string]int), at: make(map[string]time.Time), clock: clock}
}

func (r *removals) record(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count[n.ID]++
	r.at[n.ID] = r.clock.Now()
}

func (r *removals) times(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count[id]
}

func (r *removals) when(id string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.at[id]
}

func TestNotifyPreservesCallOrder(t *testing.T) {
	c := NewCenter(Options{Clock: clockwork.NewFakeClock()})

	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, c.Notify(fmt.Sprintf("message %d", i), Info).ID)
	}

	list := c.List()
	require.Len(t, list, 10)
	for i, n := range list {
		assert.Equal(t, ids[i], n.ID)
		assert.Equal(t, fmt.Sprintf("message %d", i), n.Message)
	}
}

func TestNotifyAssignsUniqueIDs(t *testing.T) {
	c := NewCenter(Options{Clock: clockwork.NewFakeClock()})

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n := c.Notify("same text", Warning)
		require.False(t, seen[n.ID], "duplicate id %s", n.ID)
		seen[n.ID] = true
	}
	assert.Equal(t, 100, c.Len(), "notifications must not be deduplicated")
}

func TestNotificationLifecycle(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rm := newRemovals(fc)
	c := NewCenter(Options{Clock: fc, OnRemove: rm.record})
	ctx := context.Background()

	start := fc.Now()
	n := c.Notify("Port 1 blackout activated", Warning)
	require.NoError(t, fc.BlockUntilContext(ctx, 2))

	fc.Advance(DefaultVisible - time.Millisecond)
	assert.Never(t, func() bool { return c.List()[0].Fading }, 50*time.Millisecond, tick)

	fc.Advance(time.Millisecond)
	assert.Eventually(t, func() bool {
		list := c.List()
		return len(list) == 1 && list[0].Fading
	}, waitFor, tick, "expected notification to fade at +5000ms")

	fc.Advance(DefaultFade - time.Millisecond)
	assert.Equal(t, 1, c.Len(), "notification removed before fade completed")

	fc.Advance(time.Millisecond)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, waitFor, tick)
	assert.Eventually(t, func() bool { return rm.times(n.ID) == 1 }, waitFor, tick)

	elapsed := rm.when(n.ID).Sub(start)
	assert.GreaterOrEqual(t, elapsed, 5000*time.Millisecond)
	assert.Less(t, elapsed, 6000*time.Millisecond)

	fc.Advance(time.Minute)
	assert.Never(t, func() bool { return rm.times(n.ID) > 1 }, 50*time.Millisecond, tick)
}

func TestBurstRemovedExactlyOnce(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rm := newRemovals(fc)
	c := NewCenter(Options{Clock: fc, OnRemove: rm.record})

	const n = 25
	var ids []string
	for i := 0; i < n; i++ {
		ids = append(ids, c.Notify(fmt.Sprintf("fetch %d failed", i), Error).ID)
	}
	require.NoError(t, fc.BlockUntilContext(context.Background(), 2*n))

	fc.Advance(DefaultVisible + DefaultFade)
	require.Eventually(t, func() bool { return c.Len() == 0 }, waitFor, tick)

	for _, id := range ids {
		assert.Eventually(t, func() bool { return rm.times(id) == 1 }, waitFor, tick)
	}
	fc.Advance(time.Hour)
	for _, id := range ids {
		assert.Equal(t, 1, rm.times(id))
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rm := newRemovals(fc)
	c := NewCenter(Options{Clock: fc, OnRemove: rm.record})

	n := c.Notify("Device is rebooting...", Info)
	assert.True(t, c.Remove(n.ID))
	assert.False(t, c.Remove(n.ID))
	assert.False(t, c.Remove("unknown"))
	assert.Equal(t, 0, c.Len())

	// Timers were cancelled, so expiry must not report a second removal.
	fc.Advance(time.Minute)
	assert.Never(t, func() bool { return rm.times(n.ID) != 1 }, 50*time.Millisecond, tick)
}

func TestSubscribeSignalsChanges(t *testing.T) {
	c := NewCenter(Options{Clock: clockwork.NewFakeClock()})
	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.Notify("WebSocket connected", Success)
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatal("expected change signal after Notify")
	}
}

func TestSeverityTitle(t *testing.T) {
	assert.Equal(t, "Success", Success.Title())
	assert.Equal(t, "Error", Error.Title())
	assert.Equal(t, "Info", Severity("bogus").Title())
}
