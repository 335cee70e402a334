package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/live"
	"github.com/tobert/rdmwatch/internal/metrics"
)

func TestStoreUpdateBumpsGeneration(t *testing.T) {
	s := NewStore(Options{DeviceHost: "node.local"})
	assert.Equal(t, uint64(0), s.Generation())

	gen := s.Update(func(d *Dashboard) { d.Connected = true })
	assert.Equal(t, uint64(1), gen)

	snap := s.Snapshot()
	assert.True(t, snap.Connected)
	assert.Equal(t, "node.local", snap.DeviceHost)
	assert.Equal(t, uint64(1), snap.Generation)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore(Options{})
	s.Update(func(d *Dashboard) {
		d.System = &device.SystemInfo{FirmwareVersion: "1.0"}
	})

	snap := s.Snapshot()
	snap.Connected = true
	snap.System = nil

	again := s.Snapshot()
	assert.False(t, again.Connected)
	require.NotNil(t, again.System)
	assert.Equal(t, "1.0", again.System.FirmwareVersion)
}

func TestRateHistoryFollowsSamples(t *testing.T) {
	s := NewStore(Options{HistorySize: 2})
	base := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * 2 * time.Second)
		s.Update(func(d *Dashboard) {
			d.Ports[0].Rate = metrics.RateEstimate{RatePerSecond: float64(10 * i)}
			d.Ports[0].Sampled = at
		})
	}
	// An update that does not resample must not add a point.
	s.Update(func(d *Dashboard) { d.Live = live.Connected })

	snap := s.Snapshot()
	require.Len(t, snap.History[0], 2)
	assert.Equal(t, 10.0, snap.History[0][0].Hz)
	assert.Equal(t, 20.0, snap.History[0][1].Hz)
	assert.Empty(t, snap.History[1])
	assert.Equal(t, live.Connected, snap.Live)
}

func TestUpdateCannotWriteDerivedFields(t *testing.T) {
	s := NewStore(Options{})
	s.RecordEvent(EventRecord{Type: "dmx_activity", At: time.Now()})
	s.Update(func(d *Dashboard) {
		d.Events = append(d.Events, EventRecord{Type: "bogus"})
	})

	snap := s.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "dmx_activity", snap.Events[0].Type)
}

func TestEventLogIsBounded(t *testing.T) {
	s := NewStore(Options{EventLogSize: 3})
	for _, typ := range []string{"a", "b", "c", "d"} {
		s.RecordEvent(EventRecord{Type: typ})
	}

	snap := s.Snapshot()
	require.Len(t, snap.Events, 3)
	assert.Equal(t, "b", snap.Events[0].Type)
	assert.Equal(t, uint64(4), snap.Generation)
}

func TestPortAccessor(t *testing.T) {
	var d Dashboard
	d.Ports[1].Snapshot = &device.PortSnapshot{Port: 2, Mode: 1}

	assert.Equal(t, 2, d.Port(2).Snapshot.Port)
	assert.Nil(t, d.Port(1).Snapshot)
	assert.Nil(t, d.Port(3).Snapshot)
}

func TestSubscribeCoalesces(t *testing.T) {
	s := NewStore(Options{})
	ch, unsubscribe := s.Subscribe()

	for i := 0; i < 10; i++ {
		s.Update(func(d *Dashboard) { d.Connected = !d.Connected })
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}
	select {
	case <-ch:
		t.Fatal("bursts should coalesce into one signal")
	default:
	}

	unsubscribe()
	unsubscribe()
	s.Update(func(d *Dashboard) { d.Connected = false })
	select {
	case <-ch:
		t.Fatal("unsubscribed channel was signalled")
	default:
	}
}

func TestConcurrentWritersSerialize(t *testing.T) {
	s := NewStore(Options{})
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Update(func(d *Dashboard) {
					d.Ports[0].Rate.RatePerSecond++
				})
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, 800.0, snap.Ports[0].Rate.RatePerSecond)
	assert.Equal(t, uint64(800), snap.Generation)
}
