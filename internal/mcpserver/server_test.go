package mcpserver

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/rdmwatch/internal/actions"
	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/device/devicetest"
	"github.com/tobert/rdmwatch/internal/feed"
	"github.com/tobert/rdmwatch/internal/notify"
	"github.com/tobert/rdmwatch/internal/poller"
	"github.com/tobert/rdmwatch/internal/state"
)

type harness struct {
	fake   *devicetest.Device
	clock  *clockwork.FakeClock
	store  *state.Store
	center *notify.Center
	sched  *poller.Scheduler
	srv    *Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fake := devicetest.New()
	t.Cleanup(fake.Close)
	client, err := device.New(device.Config{BaseURL: fake.URL})
	require.NoError(t, err)

	fc := clockwork.NewFakeClock()
	h := &harness{
		fake:   fake,
		clock:  fc,
		store:  state.NewStore(state.Options{DeviceHost: client.Host()}),
		center: notify.NewCenter(notify.Options{Clock: fc}),
	}

	h.sched, err = poller.New(poller.Config{Device: client, Store: h.store, Notifier: h.center, Clock: fc})
	require.NoError(t, err)

	acts, err := actions.New(actions.Config{Device: client, Notifier: h.center, Store: h.store, Clock: fc})
	require.NoError(t, err)
	t.Cleanup(acts.Stop)

	h.srv, err = NewServer(h.store, h.center, ServerOptions{
		Actions: acts,
		Poller:  h.sched,
		Source:  feed.NewSimulation(),
		Clock:   fc,
	})
	require.NoError(t, err)
	return h
}

func session(t *testing.T, srv *Server) *mcp.ClientSession {
	t.Helper()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.MCPServer().Run(ctx, serverT) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "rdmwatch-test", Version: "0.1.0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestNewServerRequiresStoreAndNotifications(t *testing.T) {
	center := notify.NewCenter(notify.Options{Clock: clockwork.NewFakeClock()})

	_, err := NewServer(nil, center)
	assert.Error(t, err)

	_, err = NewServer(state.NewStore(state.Options{}), nil)
	assert.Error(t, err)

	srv, err := NewServer(state.NewStore(state.Options{}), center)
	require.NoError(t, err)
	assert.NotNil(t, srv.MCPServer())
	assert.NotNil(t, srv.HTTPHandler())
}

func TestToolRegistration(t *testing.T) {
	h := newHarness(t)
	cs := session(t, h.srv)

	res, err := cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"blackout_port",
		"discover_rdm",
		"dismiss_notification",
		"factory_reset",
		"get_dashboard",
		"get_device_config",
		"get_rate_history",
		"list_notifications",
		"recent_events",
		"refresh_dashboard",
		"restart_device",
		"set_merge_mode",
		"update_device_config",
	}, names)
}

func TestReadOnlyServerHidesCommands(t *testing.T) {
	center := notify.NewCenter(notify.Options{Clock: clockwork.NewFakeClock()})
	srv, err := NewServer(state.NewStore(state.Options{}), center)
	require.NoError(t, err)
	cs := session(t, srv)

	res, err := cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	for _, tool := range res.Tools {
		assert.NotContains(t, []string{"blackout_port", "restart_device", "factory_reset", "refresh_dashboard"}, tool.Name)
	}
}

func TestGetDashboardOverSession(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.sched.Tick(context.Background()))
	cs := session(t, h.srv)

	result, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "get_dashboard",
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.NotEmpty(t, result.Content)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content")

	var out DashboardOutput
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &out))
	assert.Equal(t, "Connected", out.Connection)
	assert.Equal(t, "1.2.0", out.System.Firmware)
	require.Len(t, out.Ports, device.PortCount)
	assert.Equal(t, "DMX Output", out.Ports[0].Mode)
	assert.Len(t, out.Ports[0].Channels, 8)
}

func TestRefreshDashboardDerivesRate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, out, err := h.srv.handleRefreshDashboard(ctx, nil, RefreshDashboardInput{})
	require.NoError(t, err)
	assert.True(t, out.Refreshed)
	assert.Equal(t, "0.0 Hz", out.Ports[0].Rate, "first sample has no rate")

	h.fake.Set(devicetest.PortsStatus, `[{"port":1,"mode":1,"universe":0,"frames_sent":130},{"port":2,"mode":2,"frames_sent":0}]`)
	h.clock.Advance(time.Second)

	_, out, err = h.srv.handleRefreshDashboard(ctx, nil, RefreshDashboardInput{})
	require.NoError(t, err)
	assert.Equal(t, "30.0 Hz", out.Ports[0].Rate)
	assert.InDelta(t, 30.0, out.Ports[0].RateHz, 1e-9)

	_, hist, err := h.srv.handleGetRateHistory(ctx, nil, GetRateHistoryInput{Port: 1})
	require.NoError(t, err)
	require.NotEmpty(t, hist.Points)
	assert.InDelta(t, 30.0, hist.Points[len(hist.Points)-1].Hz, 1e-9)
}

func TestGetRateHistoryRejectsBadPort(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.srv.handleGetRateHistory(context.Background(), nil, GetRateHistoryInput{Port: 3})
	assert.Error(t, err)
}

func TestNotificationTools(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := h.center.Notify("Port 1 blackout activated", notify.Warning)

	_, list, err := h.srv.handleListNotifications(ctx, nil, ListNotificationsInput{})
	require.NoError(t, err)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, "warning", list.Notifications[0].Severity)

	_, out, err := h.srv.handleDismissNotification(ctx, nil, DismissNotificationInput{ID: n.ID})
	require.NoError(t, err)
	assert.True(t, out.Success)

	_, out, err = h.srv.handleDismissNotification(ctx, nil, DismissNotificationInput{ID: n.ID})
	require.NoError(t, err)
	assert.False(t, out.Success)
}

func TestRecentEventsFilter(t *testing.T) {
	h := newHarness(t)
	now := h.clock.Now()
	h.store.RecordEvent(state.EventRecord{Type: "ports_status", Data: json.RawMessage(`[]`), At: now})
	h.store.RecordEvent(state.EventRecord{Type: "rdm_device", Data: json.RawMessage(`{"uid":"x"}`), At: now})
	h.store.RecordEvent(state.EventRecord{Type: "ports_status", At: now})

	_, out, err := h.srv.handleRecentEvents(context.Background(), nil, RecentEventsInput{Type: "ports_status"})
	require.NoError(t, err)
	assert.Len(t, out.Events, 2)

	_, out, err = h.srv.handleRecentEvents(context.Background(), nil, RecentEventsInput{Limit: 1})
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "ports_status", out.Events[0].Type)
}
