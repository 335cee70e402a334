package test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/device/devicetest"
	"github.com/tobert/rdmwatch/internal/notify"
	"github.com/tobert/rdmwatch/internal/otlpexport"
	"github.com/tobert/rdmwatch/internal/otlpexport/otlpexporttest"
	"github.com/tobert/rdmwatch/internal/poller"
	"github.com/tobert/rdmwatch/internal/state"
	"github.com/tobert/rdmwatch/internal/view"
	"github.com/tobert/rdmwatch/internal/webui"
)

type monitor struct {
	dev    *devicetest.Device
	clock  *clockwork.FakeClock
	store  *state.Store
	center *notify.Center
	sched  *poller.Scheduler
	ui     *httptest.Server
}

func newMonitor(t *testing.T, sinks ...poller.Sink) *monitor {
	t.Helper()

	m := &monitor{
		dev:   devicetest.New(),
		clock: clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	t.Cleanup(m.dev.Close)

	client, err := device.New(device.Config{BaseURL: m.dev.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("failed to create device client: %v", err)
	}

	m.store = state.NewStore(state.Options{DeviceHost: client.Host()})
	m.center = notify.NewCenter(notify.Options{Clock: m.clock})
	m.sched, err = poller.New(poller.Config{
		Device:   client,
		Store:    m.store,
		Notifier: m.center,
		Clock:    m.clock,
		Sinks:    sinks,
	})
	if err != nil {
		t.Fatalf("failed to create poller: %v", err)
	}

	ui := webui.New(webui.Config{Store: m.store, Notifications: m.center, Clock: m.clock})
	m.ui = httptest.NewServer(ui.Handler())
	t.Cleanup(m.ui.Close)
	return m
}

func (m *monitor) dashboard(t *testing.T) view.View {
	t.Helper()

	resp, err := http.Get(m.ui.URL + "/api/dashboard")
	if err != nil {
		t.Fatalf("failed to fetch dashboard: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /api/dashboard, got %d", resp.StatusCode)
	}

	var v view.View
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode dashboard: %v", err)
	}
	return v
}

// TestEndToEnd verifies the complete workflow:
// 1. Start a fake device, an OTLP collector and the web UI
// 2. Poll twice, one second apart, while port 1 sends 30 frames
// 3. Read the dashboard over HTTP and verify the derived rate
// 4. Verify the collector received the same rate
func TestEndToEnd(t *testing.T) {
	// 1. Setup collector and exporter
	col, err := otlpexporttest.New()
	if err != nil {
		t.Fatalf("failed to start collector: %v", err)
	}
	defer col.Stop()

	exp, err := otlpexport.NewExporter(otlpexport.Config{Endpoint: col.Endpoint(), Start: time.Now()})
	if err != nil {
		t.Fatalf("failed to create exporter: %v", err)
	}
	defer exp.Close()

	m := newMonitor(t, exp)
	ctx := context.Background()

	// 2. Two polls, frames 100 -> 130 over one second
	m.sched.Tick(ctx)
	m.clock.Advance(time.Second)
	m.dev.Set(devicetest.PortsStatus, `[{"port":1,"active":true,"mode":1,"universe":0,"frames_sent":130},{"port":2,"active":false,"mode":2,"frames_sent":0}]`)
	m.sched.Tick(ctx)

	// 3. Dashboard over HTTP
	v := m.dashboard(t)
	if !v.Connected || v.Connection != "Connected" {
		t.Fatalf("expected connected dashboard, got %q", v.Connection)
	}
	if v.System.Firmware != "1.2.0" {
		t.Errorf("expected firmware 1.2.0, got %q", v.System.Firmware)
	}
	if len(v.Ports) != device.PortCount {
		t.Fatalf("expected %d ports, got %d", device.PortCount, len(v.Ports))
	}
	if v.Ports[0].Rate != "30.0 Hz" {
		t.Errorf("expected port 1 at 30.0 Hz, got %q", v.Ports[0].Rate)
	}
	if v.Ports[0].Frames != "130" {
		t.Errorf("expected 130 frames, got %q", v.Ports[0].Frames)
	}
	if len(v.Ports[0].History) != 2 {
		t.Errorf("expected 2 history points, got %d", len(v.Ports[0].History))
	}
	if len(v.Notifications) != 0 {
		t.Errorf("expected no notifications, got %v", v.Notifications)
	}

	// 4. Collector saw both polls
	received := col.Received()
	if len(received) != 2 {
		t.Fatalf("expected 2 exports, got %d", len(received))
	}
	rate := otlpexporttest.Find(received[1:], otlpexport.MetricRefreshRate)
	if rate == nil {
		t.Fatal("refresh rate metric not exported")
	}
	if got := rate.GetGauge().DataPoints[0].GetAsDouble(); got != 30.0 {
		t.Errorf("expected exported rate 30.0, got %v", got)
	}

	t.Log("End-to-end test passed: device -> poller -> store -> UI and OTLP")
}

// TestDeviceOutage verifies that a failing system info request takes the
// dashboard offline and posts a notification while port data stays current.
func TestDeviceOutage(t *testing.T) {
	m := newMonitor(t)
	ctx := context.Background()

	m.sched.Tick(ctx)
	if v := m.dashboard(t); !v.Connected {
		t.Fatal("expected connected after first poll")
	}

	m.dev.Fail(devicetest.SystemInfo, http.StatusServiceUnavailable)
	m.clock.Advance(2 * time.Second)
	m.sched.Tick(ctx)

	v := m.dashboard(t)
	if v.Connected {
		t.Fatal("expected offline after system info failure")
	}
	if v.System.Firmware != view.Missing {
		t.Errorf("expected firmware placeholder while offline, got %q", v.System.Firmware)
	}
	if v.Ports[0].Frames != "100" {
		t.Errorf("expected port data to keep updating, got %q frames", v.Ports[0].Frames)
	}
	if len(v.Notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(v.Notifications))
	}
	if v.Notifications[0].Severity != notify.Error {
		t.Errorf("expected error severity, got %q", v.Notifications[0].Severity)
	}

	// Recovery
	m.dev.Heal(devicetest.SystemInfo)
	m.clock.Advance(2 * time.Second)
	m.sched.Tick(ctx)
	if v := m.dashboard(t); !v.Connected {
		t.Fatal("expected connected after recovery")
	}
}
