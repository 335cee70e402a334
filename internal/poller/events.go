package poller

import (
	"log"

	jsoniter "github.com/json-iterator/go"

	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/live"
	"github.com/tobert/rdmwatch/internal/state"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Push event types that carry a poll resource.
const (
	EventSystemInfo    = "system_info"
	EventSystemStats   = "system_stats"
	EventNetworkStatus = "network_status"
	EventPortsStatus   = "ports_status"
)

// HandleEvent is a live.Handler. Every event is logged in the store; events
// that carry a poll resource are also merged as a successful fetch of that
// resource would be. Undecodable data is dropped.
func (s *Scheduler) HandleEvent(ev live.Event) {
	at := s.clock.Now()
	s.store.RecordEvent(state.EventRecord{Type: ev.Type, Data: ev.Data, At: at})

	switch ev.Type {
	case EventSystemInfo:
		var info device.SystemInfo
		if !s.decode(ev, &info) {
			return
		}
		s.store.Update(func(d *state.Dashboard) {
			d.Connected = true
			d.System = &info
		})

	case EventNetworkStatus:
		var status device.NetworkStatus
		if !s.decode(ev, &status) {
			return
		}
		s.store.Update(func(d *state.Dashboard) {
			d.Network = &status
		})

	case EventSystemStats:
		var stats device.SystemStats
		if !s.decode(ev, &stats) {
			return
		}
		artnet, sacn := s.deriveStats(&stats, at)
		s.store.Update(func(d *state.Dashboard) {
			d.Stats = &stats
			d.ArtNetRate = artnet
			d.SACNRate = sacn
		})

	case EventPortsStatus:
		ports, err := device.DecodePorts(ev.Data)
		if err != nil {
			log.Printf("⚠️  live: dropping %s event: %v\n", ev.Type, err)
			return
		}
		if ports == nil {
			return
		}
		rates := s.derivePorts(ports, at)
		s.store.Update(func(d *state.Dashboard) {
			mergePorts(d, ports, rates, at)
		})

	default:
		if s.verbose {
			log.Printf("📨 live: %s event logged\n", ev.Type)
		}
	}
}

func (s *Scheduler) decode(ev live.Event, out any) bool {
	if len(ev.Data) == 0 {
		return false
	}
	if err := json.Unmarshal(ev.Data, out); err != nil {
		log.Printf("⚠️  live: dropping %s event: %v\n", ev.Type, err)
		return false
	}
	return true
}
