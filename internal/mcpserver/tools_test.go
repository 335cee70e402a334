package mcpserver

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/rdmwatch/internal/device/devicetest"
)

func TestBlackoutPort(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, out, err := h.srv.handleBlackoutPort(ctx, nil, BlackoutPortInput{Port: 1})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 1, h.fake.Hits(devicetest.Blackout1))

	_, out, err = h.srv.handleBlackoutPort(ctx, nil, BlackoutPortInput{Port: 7})
	require.NoError(t, err)
	assert.False(t, out.Success)
}

func TestBlackoutFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.fake.Fail(devicetest.Blackout2, http.StatusInternalServerError)

	_, out, err := h.srv.handleBlackoutPort(context.Background(), nil, BlackoutPortInput{Port: 2})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "500")
	assert.NotZero(t, h.center.Len(), "failure should also reach the dashboard")
}

func TestDiscoverRDM(t *testing.T) {
	h := newHarness(t)
	h.fake.Set(devicetest.RDMDiscover, `[{"port":2,"uid":"4a4c:00000002","label":"wash","dmx_address":17}]`)

	_, out, err := h.srv.handleDiscoverRDM(context.Background(), nil, DiscoverRDMInput{})
	require.NoError(t, err)
	assert.True(t, out.Success)
	require.Len(t, out.Devices, 1)
	assert.Equal(t, 17, out.Devices[0].DMXAddress)
	assert.Equal(t, "found 1 RDM devices", out.Message)
}

func TestSetMergeMode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, out, err := h.srv.handleSetMergeMode(ctx, nil, SetMergeModeInput{Port: 2, Mode: "ltp"})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, []string{`{"port2":{"merge_mode":1}}`}, h.fake.Posted(devicetest.ConfigPost))

	_, out, err = h.srv.handleSetMergeMode(ctx, nil, SetMergeModeInput{Port: 2, Mode: "loudest"})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Len(t, h.fake.Posted(devicetest.ConfigPost), 1, "unknown mode must not reach the device")
}

func TestDeviceConfigTools(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, cfg, err := h.srv.handleGetDeviceConfig(ctx, nil, GetDeviceConfigInput{})
	require.NoError(t, err)
	require.True(t, cfg.Success)
	require.NotNil(t, cfg.Config.Port2)
	assert.Equal(t, 1, cfg.Config.Port2.UniversePrimary)
	assert.NotNil(t, h.store.Snapshot().Config, "loaded config is kept on the dashboard")

	_, out, err := h.srv.handleUpdateDeviceConfig(ctx, nil, UpdateDeviceConfigInput{})
	require.NoError(t, err)
	assert.False(t, out.Success)

	_, out, err = h.srv.handleUpdateDeviceConfig(ctx, nil, UpdateDeviceConfigInput{
		Patch: map[string]any{"node_info": map[string]any{"short_name": "stage-left"}},
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "Configuration updated (restart required)", out.Message)
}

func TestDestructiveToolsNeedConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, out, err := h.srv.handleRestartDevice(ctx, nil, ConfirmInput{})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Zero(t, h.fake.Hits(devicetest.Restart))

	_, out, err = h.srv.handleFactoryReset(ctx, nil, ConfirmInput{})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Zero(t, h.fake.Hits(devicetest.FactoryReset))

	_, out, err = h.srv.handleRestartDevice(ctx, nil, ConfirmInput{Confirm: true})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 1, h.fake.Hits(devicetest.Restart))

	_, out, err = h.srv.handleFactoryReset(ctx, nil, ConfirmInput{Confirm: true})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 1, h.fake.Hits(devicetest.FactoryReset))
}
