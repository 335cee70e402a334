// Package actions performs operator commands against the device and reports
// the outcome as notifications. The web dashboard, the MCP tools and the CLI
// all go through it so they report identically.
package actions

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/notify"
	"github.com/tobert/rdmwatch/internal/state"
)

// RestartCountdown is how long the dashboard counts down after a restart
// before expecting the device back.
const RestartCountdown = 10 * time.Second

// Device is the subset of the device API actions need. *device.Client
// satisfies it.
type Device interface {
	Blackout(ctx context.Context, port int) (*device.Ack, error)
	DiscoverRDM(ctx context.Context) ([]device.RDMDevice, error)
	Restart(ctx context.Context) (*device.Ack, error)
	FactoryReset(ctx context.Context) (*device.Ack, error)
	Config(ctx context.Context) (*device.Config, error)
	UpdateConfig(ctx context.Context, patch device.ConfigPatch) (*device.Ack, error)
}

// Config holds configuration for Actions.
type Config struct {
	Device   Device
	Notifier notify.Notifier
	Store    *state.Store    // optional; receives the loaded device config
	Clock    clockwork.Clock // defaults to the real clock

	// OnRestarted runs when the restart countdown ends.
	OnRestarted func()
}

// PortSettings is the editable part of a port's config.
type PortSettings struct {
	Mode     int `json:"mode"`
	Universe int `json:"universe_primary"`
	Priority int `json:"priority"`
}

// NetworkSettings is the editable network config. The password is write-only:
// the device never returns it.
type NetworkSettings struct {
	Mode         string `json:"mode"`
	WifiSSID     string `json:"wifi_ssid"`
	WifiPassword string `json:"wifi_password"`
	UseDHCP      bool   `json:"use_dhcp"`
	StaticIP     string `json:"static_ip"`
	Gateway      string `json:"gateway"`
	Netmask      string `json:"netmask"`
}

// Actions runs device commands.
type Actions struct {
	device      Device
	notifier    notify.Notifier
	store       *state.Store
	clock       clockwork.Clock
	onRestarted func()

	mu        sync.Mutex
	countdown clockwork.Timer
}

// New creates Actions.
func New(cfg Config) (*Actions, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("actions: device is required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("actions: notifier is required")
	}
	a := &Actions{
		device:      cfg.Device,
		notifier:    cfg.Notifier,
		store:       cfg.Store,
		clock:       cfg.Clock,
		onRestarted: cfg.OnRestarted,
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}
	return a, nil
}

// failed reports a request failure the way every command does: the raw
// error first, then the command-specific message.
func (a *Actions) failed(err error, message string, severity notify.Severity) error {
	log.Printf("⚠️  action: %s: %v\n", message, err)
	a.notifier.Notify("Request failed: "+err.Error(), notify.Error)
	a.notifier.Notify(message, severity)
	return err
}

// Blackout zeroes every channel of a port.
func (a *Actions) Blackout(ctx context.Context, port int) error {
	if _, err := a.device.Blackout(ctx, port); err != nil {
		return a.failed(err, fmt.Sprintf("Failed to blackout Port %d", port), notify.Error)
	}
	a.notifier.Notify(fmt.Sprintf("Port %d blackout activated", port), notify.Warning)
	return nil
}

// DiscoverRDM runs RDM discovery.
func (a *Actions) DiscoverRDM(ctx context.Context) ([]device.RDMDevice, error) {
	devices, err := a.device.DiscoverRDM(ctx)
	if err != nil {
		return nil, a.failed(err, "RDM discovery is not yet implemented", notify.Warning)
	}
	if len(devices) == 0 {
		a.notifier.Notify("No RDM devices found", notify.Info)
	} else {
		a.notifier.Notify(fmt.Sprintf("Found %d device(s)", len(devices)), notify.Success)
	}
	return devices, nil
}

// Restart reboots the device and starts a reconnect countdown.
func (a *Actions) Restart(ctx context.Context) error {
	if _, err := a.device.Restart(ctx); err != nil {
		return a.failed(err, "Failed to reboot device", notify.Error)
	}
	a.notifier.Notify("Device is rebooting...", notify.Info)
	a.startCountdown(int(RestartCountdown / time.Second))
	return nil
}

func (a *Actions) startCountdown(remaining int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.countdown != nil {
		a.countdown.Stop()
	}
	a.countdown = a.clock.AfterFunc(time.Second, func() { a.tick(remaining - 1) })
}

func (a *Actions) tick(remaining int) {
	if remaining <= 0 {
		a.mu.Lock()
		a.countdown = nil
		a.mu.Unlock()
		if a.onRestarted != nil {
			a.onRestarted()
		}
		return
	}
	a.startCountdown(remaining)
	a.notifier.Notify(fmt.Sprintf("Reconnecting in %d seconds...", remaining), notify.Info)
}

// Stop cancels a running restart countdown.
func (a *Actions) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.countdown != nil {
		a.countdown.Stop()
		a.countdown = nil
	}
}

// FactoryReset wipes the device configuration.
func (a *Actions) FactoryReset(ctx context.Context) error {
	if _, err := a.device.FactoryReset(ctx); err != nil {
		return a.failed(err, "Factory reset not yet implemented", notify.Warning)
	}
	a.notifier.Notify("Factory reset initiated", notify.Warning)
	return nil
}

// LoadConfig fetches the device config and records it in the store.
func (a *Actions) LoadConfig(ctx context.Context) (*device.Config, error) {
	cfg, err := a.device.Config(ctx)
	if err != nil {
		return nil, a.failed(err, "Failed to load network configuration", notify.Error)
	}
	if a.store != nil {
		a.store.Update(func(d *state.Dashboard) { d.Config = cfg })
	}
	a.notifier.Notify("Network configuration loaded", notify.Info)
	return cfg, nil
}

// SavePortConfig updates mode, universe and priority of a port.
func (a *Actions) SavePortConfig(ctx context.Context, port int, s PortSettings) error {
	if err := validPort(port); err != nil {
		return err
	}
	patch := device.ConfigPatch{portKey(port): map[string]any{
		"mode":             s.Mode,
		"universe_primary": s.Universe,
		"priority":         s.Priority,
	}}
	if _, err := a.device.UpdateConfig(ctx, patch); err != nil {
		return a.failed(err, fmt.Sprintf("Failed to save Port %d configuration", port), notify.Error)
	}
	a.notifier.Notify(fmt.Sprintf("Port %d configuration saved", port), notify.Success)
	return nil
}

// SetMergeMode changes how a port merges multiple sources.
func (a *Actions) SetMergeMode(ctx context.Context, port, mode int) error {
	if err := validPort(port); err != nil {
		return err
	}
	patch := device.ConfigPatch{portKey(port): map[string]any{"merge_mode": mode}}
	if _, err := a.device.UpdateConfig(ctx, patch); err != nil {
		return a.failed(err, "Failed to update merge mode", notify.Error)
	}
	a.notifier.Notify(fmt.Sprintf("Port %d merge mode updated", port), notify.Success)
	return nil
}

// SaveNetworkConfig replaces the network block of the device config.
func (a *Actions) SaveNetworkConfig(ctx context.Context, s NetworkSettings) error {
	patch := device.ConfigPatch{"network": s}
	if _, err := a.device.UpdateConfig(ctx, patch); err != nil {
		return a.failed(err, "Failed to save network configuration", notify.Error)
	}
	a.notifier.Notify("Network configuration saved successfully", notify.Success)
	return nil
}

// UpdateConfig posts an arbitrary partial config.
func (a *Actions) UpdateConfig(ctx context.Context, patch device.ConfigPatch) (*device.Ack, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("config patch is empty")
	}
	ack, err := a.device.UpdateConfig(ctx, patch)
	if err != nil {
		return nil, a.failed(err, "Failed to update configuration", notify.Error)
	}
	a.notifier.Notify("Configuration updated", notify.Success)
	return ack, nil
}

func validPort(port int) error {
	if port < 1 || port > device.PortCount {
		return fmt.Errorf("invalid port %d: must be between 1 and %d", port, device.PortCount)
	}
	return nil
}

func portKey(port int) string {
	return fmt.Sprintf("port%d", port)
}
