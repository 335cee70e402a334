package device_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/device/devicetest"
)

func newClient(t *testing.T, fake *devicetest.Device) *device.Client {
	t.Helper()
	c, err := device.New(device.Config{BaseURL: fake.URL})
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadURLs(t *testing.T) {
	for _, u := range []string{"", "ftp://node", "http://", "://bad"} {
		_, err := device.New(device.Config{BaseURL: u})
		assert.Error(t, err, "url %q", u)
	}
}

func TestOriginAndHost(t *testing.T) {
	c, err := device.New(device.Config{BaseURL: "https://node.local:8443/"})
	require.NoError(t, err)
	assert.Equal(t, "https://node.local:8443", c.Origin())
	assert.Equal(t, "node.local", c.Host())
}

func TestSystemInfo(t *testing.T) {
	fake := devicetest.New()
	defer fake.Close()

	info, err := newClient(t, fake).SystemInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", info.FirmwareVersion)
	assert.Equal(t, uint64(183456), info.FreeHeap)
	assert.Equal(t, uint64(3725), info.UptimeSec)
}

func TestStatusErrorNamesResource(t *testing.T) {
	fake := devicetest.New()
	defer fake.Close()
	fake.Fail(devicetest.NetworkStatus, http.StatusNotFound)

	_, err := newClient(t, fake).NetworkStatus(context.Background())
	require.Error(t, err)

	var se *device.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, device.ResourceNetworkStatus, se.Resource)
	assert.True(t, strings.HasPrefix(err.Error(), "network status: HTTP 404"))
}

func TestMissingFieldsDefault(t *testing.T) {
	fake := devicetest.New()
	defer fake.Close()
	fake.Set(devicetest.PortsStatus, `[{"mode":1},{"port":2,"universe":7}]`)
	fake.Set(devicetest.SystemStats, `{"sacn":{"packets":3}}`)

	c := newClient(t, fake)
	ports, err := c.PortsStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 2)

	assert.Equal(t, 1, ports[0].Port)
	assert.Equal(t, uint64(0), ports[0].FramesSent)
	assert.Nil(t, ports[0].Universe)
	require.NotNil(t, ports[1].Universe)
	assert.Equal(t, 7, *ports[1].Universe)

	stats, err := c.SystemStats(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stats.ArtNet)
	require.NotNil(t, stats.SACN)
	assert.Equal(t, uint64(3), stats.SACN.Packets)
}

func TestDecodePortsLenient(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"object", `{"error":"busy"}`, 0},
		{"empty", ``, 0},
		{"short", `[{"port":1,"frames_sent":5}]`, 0},
		{"null entry", `[null,{"port":2}]`, 2},
		{"extra entries", `[{},{},{}]`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ports, err := device.DecodePorts([]byte(tt.body))
			require.NoError(t, err)
			assert.Len(t, ports, tt.want)
		})
	}

	_, err := device.DecodePorts([]byte(`[{"port":1},`))
	assert.Error(t, err)
}

func TestNetworkStatusAddress(t *testing.T) {
	assert.Equal(t, "10.0.0.2", device.NetworkStatus{IPAddress: "10.0.0.2"}.Address())
	assert.Equal(t, "10.0.0.3", device.NetworkStatus{IP: "10.0.0.3", IPAddress: "x"}.Address())
}

func TestActions(t *testing.T) {
	fake := devicetest.New()
	defer fake.Close()
	c := newClient(t, fake)
	ctx := context.Background()

	_, err := c.Blackout(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Hits(devicetest.Blackout2))

	_, err = c.Blackout(ctx, 3)
	assert.Error(t, err)

	ack, err := c.UpdateConfig(ctx, device.ConfigPatch{"port1": map[string]any{"merge_mode": 1}})
	require.NoError(t, err)
	assert.Equal(t, "ok", ack.Status)
	assert.Equal(t, []string{`{"port1":{"merge_mode":1}}`}, fake.Posted(devicetest.ConfigPost))

	fake.Set(devicetest.RDMDiscover, `[{"port":1,"uid":"4a4c:00000001","label":"par","dmx_address":1}]`)
	devices, err := c.DiscoverRDM(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "par", devices[0].Label)

	fake.Fail(devicetest.FactoryReset, http.StatusNotImplemented)
	_, err = c.FactoryReset(ctx)
	assert.Error(t, err)
}

func TestModeNames(t *testing.T) {
	assert.Equal(t, "DMX Output", device.ModeName(1))
	assert.Equal(t, "RDM Responder", device.ModeName(4))
	assert.Equal(t, "Unknown", device.ModeName(9))
	assert.Equal(t, "LTP", device.MergeModeName(1))
}

func TestParseMergeMode(t *testing.T) {
	mode, ok := device.ParseMergeMode("ltp")
	assert.True(t, ok)
	assert.Equal(t, 1, mode)

	_, ok = device.ParseMergeMode("loudest")
	assert.False(t, ok)
}
