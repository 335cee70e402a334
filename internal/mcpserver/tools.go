package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/rdmwatch/internal/actions"
	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/notify"
	"github.com/tobert/rdmwatch/internal/view"
)

// ═══════════════════════════════════════════════════════════════════════════
// DEVICE TOOLS
//
// Read side (always registered):
//   get_dashboard, refresh_dashboard, list_notifications, dismiss_notification,
//   get_rate_history, recent_events
// Command side (registered when actions are configured):
//   blackout_port, discover_rdm, set_merge_mode, get_device_config,
//   update_device_config, restart_device, factory_reset
//
// Outputs carry display strings exactly as the web dashboard shows them, plus
// raw numbers where an agent wants to compare.
// ═══════════════════════════════════════════════════════════════════════════

// ─── Shared output shapes ──────────────────────────────────────────────

type PortSummary struct {
	Port          int     `json:"port" jsonschema:"Port number (1 or 2)"`
	Active        bool    `json:"active" jsonschema:"Whether the port reports itself active"`
	Mode          string  `json:"mode" jsonschema:"Port mode name, e.g. DMX Output"`
	Universe      string  `json:"universe" jsonschema:"Universe number or -- when unknown"`
	Frames        string  `json:"frames" jsonschema:"Frames sent, formatted"`
	Rate          string  `json:"rate" jsonschema:"Refresh rate, e.g. 30.0 Hz, or -- before two samples"`
	RateHz        float64 `json:"rate_hz" jsonschema:"Refresh rate in frames per second, full precision"`
	SignalPercent int     `json:"signal_percent" jsonschema:"Average channel level in percent"`
	SignalClass   string  `json:"signal_class,omitempty" jsonschema:"weak, medium or strong"`
	Channels      []int   `json:"channels,omitempty" jsonschema:"Levels of the first eight channels (0-255)"`
}

type NotificationSummary struct {
	ID        string `json:"id" jsonschema:"Notification id, usable with dismiss_notification"`
	Message   string `json:"message"`
	Severity  string `json:"severity" jsonschema:"info, success, warning or error"`
	CreatedAt string `json:"created_at" jsonschema:"RFC3339 timestamp"`
	Fading    bool   `json:"fading"`
}

type ActionOutput struct {
	Success bool   `json:"success" jsonschema:"Whether the device accepted the command"`
	Message string `json:"message,omitempty" jsonschema:"Result or error message"`
}

func summarizeNotifications(notes []notify.Notification) []NotificationSummary {
	out := make([]NotificationSummary, 0, len(notes))
	for _, n := range notes {
		out = append(out, NotificationSummary{
			ID:        n.ID,
			Message:   n.Message,
			Severity:  string(n.Severity),
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
			Fading:    n.Fading,
		})
	}
	return out
}

func actionResult(err error, ok string) ActionOutput {
	if err != nil {
		return ActionOutput{Success: false, Message: err.Error()}
	}
	return ActionOutput{Success: true, Message: ok}
}

// Tool 1: get_dashboard

type GetDashboardInput struct{}

type DashboardOutput struct {
	Connection    string                `json:"connection" jsonschema:"Connected or Offline, following the system info poll"`
	Live          string                `json:"live" jsonschema:"Push channel state: disconnected, connecting or connected"`
	LastPoll      string                `json:"last_poll" jsonschema:"RFC3339 time of the last poll tick, or --"`
	System        view.SystemView       `json:"system"`
	Network       view.NetworkView      `json:"network"`
	Protocols     view.ProtocolsView    `json:"protocols"`
	Ports         []PortSummary         `json:"ports"`
	Notifications []NotificationSummary `json:"notifications"`
	Refreshed     bool                  `json:"refreshed,omitempty" jsonschema:"True when refresh_dashboard ran a poll tick"`
}

func (s *Server) dashboard() DashboardOutput {
	v := s.view()
	d := s.store.Snapshot()

	out := DashboardOutput{
		Connection:    v.Connection,
		Live:          v.Live,
		LastPoll:      v.LastPoll,
		System:        v.System,
		Network:       v.Network,
		Protocols:     v.Protocols,
		Notifications: summarizeNotifications(v.Notifications),
	}
	for _, pv := range v.Ports {
		ps := PortSummary{
			Port:          pv.Number,
			Active:        pv.Active,
			Mode:          pv.Mode,
			Universe:      pv.Universe,
			Frames:        pv.Frames,
			Rate:          pv.Rate,
			RateHz:        d.Port(pv.Number).Rate.RatePerSecond,
			SignalPercent: pv.Signal.Percent,
			SignalClass:   pv.Signal.Class,
		}
		for _, ch := range pv.Channels {
			ps.Channels = append(ps.Channels, ch.Value)
		}
		out.Ports = append(out.Ports, ps)
	}
	return out
}

func (s *Server) handleGetDashboard(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetDashboardInput,
) (*mcp.CallToolResult, DashboardOutput, error) {
	return &mcp.CallToolResult{}, s.dashboard(), nil
}

// Tool 2: refresh_dashboard

type RefreshDashboardInput struct{}

func (s *Server) handleRefreshDashboard(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RefreshDashboardInput,
) (*mcp.CallToolResult, DashboardOutput, error) {
	if s.poller == nil {
		return nil, DashboardOutput{}, fmt.Errorf("polling is not available")
	}
	ran := s.poller.Tick(ctx)
	out := s.dashboard()
	out.Refreshed = ran
	return &mcp.CallToolResult{}, out, nil
}

// Tool 3: list_notifications

type ListNotificationsInput struct{}

type ListNotificationsOutput struct {
	Notifications []NotificationSummary `json:"notifications" jsonschema:"Visible notifications, oldest first"`
}

func (s *Server) handleListNotifications(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListNotificationsInput,
) (*mcp.CallToolResult, ListNotificationsOutput, error) {
	return &mcp.CallToolResult{}, ListNotificationsOutput{
		Notifications: summarizeNotifications(s.notes.List()),
	}, nil
}

// Tool 4: dismiss_notification

type DismissNotificationInput struct {
	ID string `json:"id" jsonschema:"Notification id from list_notifications"`
}

func (s *Server) handleDismissNotification(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input DismissNotificationInput,
) (*mcp.CallToolResult, ActionOutput, error) {
	if !s.notes.Remove(input.ID) {
		return &mcp.CallToolResult{}, ActionOutput{
			Success: false,
			Message: fmt.Sprintf("notification %q not found (already expired?)", input.ID),
		}, nil
	}
	return &mcp.CallToolResult{}, ActionOutput{Success: true, Message: "dismissed"}, nil
}

// Tool 5: get_rate_history

type GetRateHistoryInput struct {
	Port  int `json:"port" jsonschema:"Port number (1 or 2)"`
	Limit int `json:"limit,omitempty" jsonschema:"Most recent points to return (default all)"`
}

type RatePointOutput struct {
	At string  `json:"at" jsonschema:"RFC3339 sample time"`
	Hz float64 `json:"hz"`
}

type GetRateHistoryOutput struct {
	Port   int               `json:"port"`
	Points []RatePointOutput `json:"points" jsonschema:"Refresh rate samples, oldest first"`
}

func (s *Server) handleGetRateHistory(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetRateHistoryInput,
) (*mcp.CallToolResult, GetRateHistoryOutput, error) {
	if input.Port < 1 || input.Port > device.PortCount {
		return nil, GetRateHistoryOutput{}, fmt.Errorf("invalid port %d: must be between 1 and %d", input.Port, device.PortCount)
	}

	history := s.store.Snapshot().History[input.Port-1]
	if input.Limit > 0 && len(history) > input.Limit {
		history = history[len(history)-input.Limit:]
	}

	out := GetRateHistoryOutput{Port: input.Port, Points: make([]RatePointOutput, 0, len(history))}
	for _, p := range history {
		out.Points = append(out.Points, RatePointOutput{At: p.At.Format(time.RFC3339Nano), Hz: p.Hz})
	}
	return &mcp.CallToolResult{}, out, nil
}

// Tool 6: recent_events

type RecentEventsInput struct {
	Type  string `json:"type,omitempty" jsonschema:"Only events of this type, e.g. ports_status"`
	Limit int    `json:"limit,omitempty" jsonschema:"Most recent events to return (default 20)"`
}

type EventOutput struct {
	Type string `json:"type"`
	At   string `json:"at" jsonschema:"RFC3339 receive time"`
	Data string `json:"data,omitempty" jsonschema:"Raw JSON payload"`
}

type RecentEventsOutput struct {
	Events []EventOutput `json:"events" jsonschema:"Push events, oldest first"`
}

func (s *Server) handleRecentEvents(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RecentEventsInput,
) (*mcp.CallToolResult, RecentEventsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	var out []EventOutput
	for _, ev := range s.store.Snapshot().Events {
		if input.Type != "" && ev.Type != input.Type {
			continue
		}
		out = append(out, EventOutput{Type: ev.Type, At: ev.At.Format(time.RFC3339Nano), Data: string(ev.Data)})
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	if out == nil {
		out = []EventOutput{}
	}
	return &mcp.CallToolResult{}, RecentEventsOutput{Events: out}, nil
}

// Tool 7: blackout_port

type BlackoutPortInput struct {
	Port int `json:"port" jsonschema:"Port to black out (1 or 2)"`
}

func (s *Server) handleBlackoutPort(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input BlackoutPortInput,
) (*mcp.CallToolResult, ActionOutput, error) {
	err := s.actions.Blackout(ctx, input.Port)
	return &mcp.CallToolResult{}, actionResult(err, fmt.Sprintf("Port %d blackout activated", input.Port)), nil
}

// Tool 8: discover_rdm

type DiscoverRDMInput struct{}

type DiscoverRDMOutput struct {
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
	Devices []device.RDMDevice `json:"devices" jsonschema:"Responders found on both ports"`
}

func (s *Server) handleDiscoverRDM(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input DiscoverRDMInput,
) (*mcp.CallToolResult, DiscoverRDMOutput, error) {
	devices, err := s.actions.DiscoverRDM(ctx)
	if err != nil {
		return &mcp.CallToolResult{}, DiscoverRDMOutput{Message: err.Error(), Devices: []device.RDMDevice{}}, nil
	}
	if devices == nil {
		devices = []device.RDMDevice{}
	}
	return &mcp.CallToolResult{}, DiscoverRDMOutput{
		Success: true,
		Message: fmt.Sprintf("found %d RDM devices", len(devices)),
		Devices: devices,
	}, nil
}

// Tool 9: set_merge_mode

type SetMergeModeInput struct {
	Port int    `json:"port" jsonschema:"Port number (1 or 2)"`
	Mode string `json:"mode" jsonschema:"HTP or LTP"`
}

func (s *Server) handleSetMergeMode(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetMergeModeInput,
) (*mcp.CallToolResult, ActionOutput, error) {
	mode, ok := device.ParseMergeMode(input.Mode)
	if !ok {
		return &mcp.CallToolResult{}, ActionOutput{
			Message: fmt.Sprintf("unknown merge mode %q: use HTP or LTP", input.Mode),
		}, nil
	}
	err := s.actions.SetMergeMode(ctx, input.Port, mode)
	return &mcp.CallToolResult{}, actionResult(err, fmt.Sprintf("Port %d merge mode set to %s", input.Port, device.MergeModeName(mode))), nil
}

// Tool 10: get_device_config

type GetDeviceConfigInput struct{}

type GetDeviceConfigOutput struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Config  *device.Config `json:"config,omitempty" jsonschema:"Device configuration as reported by GET /api/config"`
}

func (s *Server) handleGetDeviceConfig(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetDeviceConfigInput,
) (*mcp.CallToolResult, GetDeviceConfigOutput, error) {
	cfg, err := s.actions.LoadConfig(ctx)
	if err != nil {
		return &mcp.CallToolResult{}, GetDeviceConfigOutput{Message: err.Error()}, nil
	}
	return &mcp.CallToolResult{}, GetDeviceConfigOutput{Success: true, Config: cfg}, nil
}

// Tool 11: update_device_config

type UpdateDeviceConfigInput struct {
	Patch map[string]any `json:"patch" jsonschema:"Partial config merged by the device, e.g. {\"port1\":{\"universe_primary\":3}}"`
}

func (s *Server) handleUpdateDeviceConfig(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UpdateDeviceConfigInput,
) (*mcp.CallToolResult, ActionOutput, error) {
	if len(input.Patch) == 0 {
		return &mcp.CallToolResult{}, ActionOutput{Message: "patch is empty"}, nil
	}
	ack, err := s.actions.UpdateConfig(ctx, device.ConfigPatch(input.Patch))
	if err != nil {
		return &mcp.CallToolResult{}, actionResult(err, ""), nil
	}
	msg := "configuration updated"
	if ack != nil && ack.Message != "" {
		msg = ack.Message
	}
	return &mcp.CallToolResult{}, ActionOutput{Success: true, Message: msg}, nil
}

// Tools 12 and 13: restart_device, factory_reset

type ConfirmInput struct {
	Confirm bool `json:"confirm" jsonschema:"Must be true; the device drops offline while it reboots"`
}

func (s *Server) handleRestartDevice(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ConfirmInput,
) (*mcp.CallToolResult, ActionOutput, error) {
	if !input.Confirm {
		return &mcp.CallToolResult{}, ActionOutput{Message: "restart not confirmed: pass confirm=true"}, nil
	}
	err := s.actions.Restart(ctx)
	return &mcp.CallToolResult{}, actionResult(err, fmt.Sprintf("Device is rebooting; polling resumes in %s", actions.RestartCountdown)), nil
}

func (s *Server) handleFactoryReset(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ConfirmInput,
) (*mcp.CallToolResult, ActionOutput, error) {
	if !input.Confirm {
		return &mcp.CallToolResult{}, ActionOutput{Message: "factory reset not confirmed: pass confirm=true"}, nil
	}
	err := s.actions.FactoryReset(ctx)
	return &mcp.CallToolResult{}, actionResult(err, "Factory reset complete; device will restart with defaults"), nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() error {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_dashboard",
		Description: "START HERE: current state of the node. Connectivity, firmware and uptime, network, Art-Net/sACN packet counters and rates, and per port: mode, universe, frames sent, refresh rate (Hz) and channel levels with signal strength. Also returns the visible notifications (errors from failed polls show up here).",
	}, s.handleGetDashboard)

	if s.poller != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        "refresh_dashboard",
			Description: "Run one poll of the device right now and return the dashboard. Rates need two polls to be meaningful; call twice a couple of seconds apart when the dashboard shows '--'.",
		}, s.handleRefreshDashboard)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_notifications",
		Description: "List the notifications currently visible on the dashboard, oldest first. Notifications expire about five seconds after they are posted.",
	}, s.handleListNotifications)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "dismiss_notification",
		Description: "Remove a notification before it expires.",
	}, s.handleDismissNotification)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_rate_history",
		Description: "Refresh rate samples for one port, one per poll. Use to spot dropouts or a source that stopped sending.",
	}, s.handleGetRateHistory)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "recent_events",
		Description: "Raw events received on the device's /ws push channel, optionally filtered by type.",
	}, s.handleRecentEvents)

	if s.actions == nil {
		return nil
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "blackout_port",
		Description: "Set every channel on a port to zero. The port keeps outputting; the next frame from a controller overrides the blackout.",
	}, s.handleBlackoutPort)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "discover_rdm",
		Description: "Run RDM discovery on both ports and return the responders found (UID, label, DMX address).",
	}, s.handleDiscoverRDM)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_merge_mode",
		Description: "Set how a port merges two sources: HTP (highest takes precedence) or LTP (latest takes precedence).",
	}, s.handleSetMergeMode)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_device_config",
		Description: "Read the device configuration: node names, both port configs and network settings. The WiFi password is never returned.",
	}, s.handleGetDeviceConfig)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "update_device_config",
		Description: "Send a partial configuration; the device merges it with its current config. Keys: port1, port2, network, node_info.",
	}, s.handleUpdateDeviceConfig)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "restart_device",
		Description: "Reboot the node. Requires confirm=true. The device is offline for roughly ten seconds.",
	}, s.handleRestartDevice)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "factory_reset",
		Description: "Erase all settings and restore defaults. Requires confirm=true. Not reversible.",
	}, s.handleFactoryReset)

	return nil
}
