package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/rdmwatch/internal/device/devicetest"
	"github.com/tobert/rdmwatch/internal/live"
)

func event(typ, data string) live.Event {
	return live.Event{Type: typ, Data: json.RawMessage(data)}
}

func TestPushPortsMergeLikeAPoll(t *testing.T) {
	h := newHarness(t)
	h.sched.Tick(context.Background())

	h.clock.Advance(time.Second)
	h.sched.HandleEvent(event(EventPortsStatus, `[{"port":1,"mode":1,"frames_sent":130},{"port":2,"mode":2}]`))

	d := h.store.Snapshot()
	require.NotNil(t, d.Ports[0].Snapshot)
	assert.Equal(t, uint64(130), d.Ports[0].Snapshot.FramesSent)
	assert.Equal(t, "30.0 Hz", d.Ports[0].Rate.Hz())
	require.Len(t, d.Events, 1)
	assert.Equal(t, EventPortsStatus, d.Events[0].Type)
}

func TestPushPortsZeroBasedNumbers(t *testing.T) {
	h := newHarness(t)

	h.sched.HandleEvent(event(EventPortsStatus, `[{"port":0,"frames_sent":100},{"port":1,"frames_sent":50}]`))
	h.clock.Advance(time.Second)
	h.sched.HandleEvent(event(EventPortsStatus, `[{"port":0,"frames_sent":130},{"port":1,"frames_sent":60}]`))

	d := h.store.Snapshot()
	assert.Equal(t, "30.0 Hz", d.Ports[0].Rate.Hz())
	assert.Equal(t, "10.0 Hz", d.Ports[1].Rate.Hz())
}

func TestPushSystemInfoRestoresConnectivity(t *testing.T) {
	h := newHarness(t)
	h.fake.Fail(devicetest.SystemInfo, http.StatusInternalServerError)
	h.sched.Tick(context.Background())
	require.False(t, h.store.Snapshot().Connected)

	h.sched.HandleEvent(event(EventSystemInfo, `{"firmware_version":"1.3.0","free_heap":2048}`))

	d := h.store.Snapshot()
	assert.True(t, d.Connected)
	require.NotNil(t, d.System)
	assert.Equal(t, "1.3.0", d.System.FirmwareVersion)
}

func TestPushStatsAndNetwork(t *testing.T) {
	h := newHarness(t)

	h.sched.HandleEvent(event(EventSystemStats, `{"artnet":{"packets":10}}`))
	h.sched.HandleEvent(event(EventNetworkStatus, `{"mode":"ap","ip_address":"192.168.4.1","connected":true}`))

	d := h.store.Snapshot()
	require.NotNil(t, d.Stats)
	require.NotNil(t, d.Stats.ArtNet)
	assert.Nil(t, d.Stats.SACN)
	require.NotNil(t, d.Network)
	assert.Equal(t, "192.168.4.1", d.Network.Address())
}

func TestPushMalformedDataDropped(t *testing.T) {
	h := newHarness(t)
	h.sched.Tick(context.Background())
	before := h.store.Snapshot()

	h.sched.HandleEvent(event(EventSystemInfo, `"not an object"`))
	h.sched.HandleEvent(event(EventPortsStatus, `[{"port":"one"},{}]`))
	h.sched.HandleEvent(event(EventPortsStatus, `{"short":true}`))
	h.sched.HandleEvent(live.Event{Type: EventSystemStats})

	d := h.store.Snapshot()
	assert.Equal(t, before.System, d.System)
	assert.Equal(t, before.Ports, d.Ports)
	assert.Equal(t, before.Stats, d.Stats)
	assert.Len(t, d.Events, 4, "every event is still logged")
	assert.Empty(t, h.center.List(), "decode failures do not notify")
}

func TestPushOtherTypesOnlyLogged(t *testing.T) {
	h := newHarness(t)

	h.sched.HandleEvent(event("rdm_device_found", `{"uid":"4a4c:00000001"}`))

	d := h.store.Snapshot()
	require.Len(t, d.Events, 1)
	assert.Equal(t, "rdm_device_found", d.Events[0].Type)
	assert.Equal(t, h.clock.Now(), d.Events[0].At)
	assert.False(t, d.Connected)
	assert.Nil(t, d.System)
}
