// Package view turns a dashboard snapshot into display strings. Render is
// pure: the same inputs always produce the same View.
package view

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/feed"
	"github.com/tobert/rdmwatch/internal/metrics"
	"github.com/tobert/rdmwatch/internal/notify"
	"github.com/tobert/rdmwatch/internal/state"
)

// Placeholders for values that are missing or degraded.
const (
	Missing     = "--"
	Unknown     = "Unknown"
	Unavailable = "N/A"
)

// View is the rendered dashboard.
type View struct {
	Generation uint64 `json:"generation"`
	Connection string `json:"connection"` // "Connected" or "Offline"
	Connected  bool   `json:"connected"`
	Live       string `json:"live"`
	LastPoll   string `json:"last_poll"`

	System    SystemView    `json:"system"`
	Network   NetworkView   `json:"network"`
	Protocols ProtocolsView `json:"protocols"`
	Ports     []PortView    `json:"ports"`

	Notifications []notify.Notification `json:"notifications"`
	Events        []state.EventRecord   `json:"events,omitempty"`
}

type SystemView struct {
	Firmware string `json:"firmware"`
	Hardware string `json:"hardware"`
	IDF      string `json:"idf"`
	FreeHeap string `json:"free_heap"`
	Uptime   string `json:"uptime"`
}

type NetworkView struct {
	Mode    string `json:"mode"`
	Address string `json:"address"`
	Status  string `json:"status"`
}

type ProtocolsView struct {
	ArtNetPackets string `json:"artnet_packets"`
	ArtNetDMX     string `json:"artnet_dmx"`
	ArtNetRate    string `json:"artnet_rate"`
	SACNPackets   string `json:"sacn_packets"`
	SACNData      string `json:"sacn_data"`
	SACNRate      string `json:"sacn_rate"`
}

type PortView struct {
	Number   int           `json:"number"`
	Active   bool          `json:"active"`
	Mode     string        `json:"mode"`
	Universe string        `json:"universe"`
	Frames   string        `json:"frames"`
	Rate     string        `json:"rate"`
	Channels []ChannelView `json:"channels"`
	Signal   SignalView    `json:"signal"`

	History []state.RatePoint `json:"history,omitempty"`
}

type ChannelView struct {
	Channel int  `json:"channel"` // 1-based
	Value   int  `json:"value"`
	Percent int  `json:"percent"`
	High    bool `json:"high"`
}

type SignalView struct {
	Percent int    `json:"percent"`
	Class   string `json:"class"`
}

// Render builds the View. src supplies channel levels and may be nil, in
// which case channel bars are omitted.
func Render(d state.Dashboard, notes []notify.Notification, src feed.Source, now time.Time) View {
	v := View{
		Generation:    d.Generation,
		Connection:    "Offline",
		Connected:     d.Connected,
		Live:          d.Live.String(),
		LastPoll:      Missing,
		System:        renderSystem(d.System),
		Network:       renderNetwork(d.Network, d.DeviceHost),
		Protocols:     renderProtocols(d),
		Notifications: notes,
		Events:        d.Events,
	}
	if d.Connected {
		v.Connection = "Connected"
	}
	if !d.LastPoll.IsZero() {
		v.LastPoll = d.LastPoll.Format(time.RFC3339)
	}
	if v.Notifications == nil {
		v.Notifications = []notify.Notification{}
	}

	t := float64(now.UnixMilli()) / 1000
	for i := 0; i < device.PortCount; i++ {
		pv := renderPort(i+1, d.Ports[i])
		pv.History = d.History[i]
		if src != nil {
			levels := feed.Levels(src, i+1, t)
			pv.Channels = make([]ChannelView, len(levels))
			for ch, raw := range levels {
				l := metrics.Channel(raw)
				pv.Channels[ch] = ChannelView{Channel: ch + 1, Value: l.Value, Percent: l.Percent, High: l.High}
			}
			s := metrics.Strength(levels)
			pv.Signal = SignalView{Percent: s.Percent, Class: s.Class}
		}
		v.Ports = append(v.Ports, pv)
	}
	return v
}

func renderSystem(info *device.SystemInfo) SystemView {
	if info == nil {
		return SystemView{Firmware: Missing, Hardware: Missing, IDF: Missing, FreeHeap: Missing, Uptime: Missing}
	}
	return SystemView{
		Firmware: orMissing(info.FirmwareVersion),
		Hardware: orMissing(info.Hardware),
		IDF:      orMissing(info.IDFVersion),
		FreeHeap: Bytes(info.FreeHeap),
		Uptime:   Uptime(info.UptimeSec),
	}
}

// renderNetwork falls back to the device host when the status endpoint is
// unavailable: reaching the API at all means the node is on the network.
func renderNetwork(n *device.NetworkStatus, host string) NetworkView {
	if n == nil {
		return NetworkView{Mode: Unavailable, Address: orMissing(host), Status: "Connected"}
	}
	v := NetworkView{Mode: n.Mode, Address: n.Address(), Status: "Disconnected"}
	if v.Mode == "" {
		v.Mode = Unknown
	}
	if v.Address == "" {
		v.Address = "Not connected"
	}
	if n.Connected {
		v.Status = "Connected"
	}
	return v
}

func renderProtocols(d state.Dashboard) ProtocolsView {
	p := ProtocolsView{
		ArtNetPackets: Missing, ArtNetDMX: Missing, ArtNetRate: Missing,
		SACNPackets: Missing, SACNData: Missing, SACNRate: Missing,
	}
	if d.Stats == nil {
		return p
	}
	if a := d.Stats.ArtNet; a != nil {
		p.ArtNetPackets = Count(a.Packets)
		p.ArtNetDMX = Count(a.DMXPackets)
		p.ArtNetRate = PacketRate(d.ArtNetRate)
	}
	if s := d.Stats.SACN; s != nil {
		p.SACNPackets = Count(s.Packets)
		p.SACNData = Count(s.DataPackets)
		p.SACNRate = PacketRate(d.SACNRate)
	}
	return p
}

func renderPort(n int, ps state.PortState) PortView {
	pv := PortView{Number: n, Mode: Missing, Universe: Missing, Frames: Missing, Rate: Missing}
	if ps.Snapshot == nil {
		return pv
	}
	snap := ps.Snapshot
	pv.Active = snap.Active
	pv.Mode = device.ModeName(snap.Mode)
	if snap.Universe != nil {
		pv.Universe = strconv.Itoa(*snap.Universe)
	}
	pv.Frames = Count(snap.FramesSent)
	if !ps.Sampled.IsZero() {
		pv.Rate = ps.Rate.Hz()
	}
	return pv
}

// Bytes formats a byte count in binary units; zero renders as Missing.
func Bytes(b uint64) string {
	if b == 0 {
		return Missing
	}
	return humanize.IBytes(b)
}

// Count formats a counter with thousands separators.
func Count(n uint64) string {
	if n > 1<<63-1 {
		return strconv.FormatUint(n, 10)
	}
	return humanize.Comma(int64(n))
}

// PacketRate formats a derived packet rate.
func PacketRate(r metrics.RateEstimate) string {
	return fmt.Sprintf("%.1f pkt/s", r.Rounded())
}

// Uptime renders seconds as "1d 2h 3m", "2h 3m 4s", "3m 4s" or "4s". Zero
// renders as Missing.
func Uptime(sec uint64) string {
	if sec == 0 {
		return Missing
	}
	days := sec / 86400
	hours := sec % 86400 / 3600
	minutes := sec % 3600 / 60
	secs := sec % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

func orMissing(s string) string {
	if s == "" {
		return Missing
	}
	return s
}
