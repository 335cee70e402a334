// Package poller refreshes the dashboard from the device's HTTP API on a
// fixed interval. It is the fallback that keeps the picture current when the
// push channel is down, and the only source of connectivity.
package poller

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/metrics"
	"github.com/tobert/rdmwatch/internal/notify"
	"github.com/tobert/rdmwatch/internal/state"
)

// DefaultInterval is the time between ticks.
const DefaultInterval = 2 * time.Second

// Device is the subset of the device API a tick needs. *device.Client
// satisfies it.
type Device interface {
	SystemInfo(ctx context.Context) (*device.SystemInfo, error)
	NetworkStatus(ctx context.Context) (*device.NetworkStatus, error)
	SystemStats(ctx context.Context) (*device.SystemStats, error)
	PortsStatus(ctx context.Context) ([]device.PortSnapshot, error)
}

// Sink receives the dashboard after every completed tick.
type Sink interface {
	Publish(ctx context.Context, d state.Dashboard) error
}

// Config holds configuration for a Scheduler.
type Config struct {
	Device   Device
	Store    *state.Store
	Deriver  *metrics.Deriver // defaults to a fresh one
	Notifier notify.Notifier  // optional
	Clock    clockwork.Clock  // defaults to the real clock
	Interval time.Duration    // defaults to DefaultInterval
	Sinks    []Sink
	Verbose  bool
}

// Result holds the outcome of the four fetches of one tick.
type Result struct {
	At time.Time

	System    *device.SystemInfo
	SystemErr error

	Network    *device.NetworkStatus
	NetworkErr error

	Stats    *device.SystemStats
	StatsErr error

	// Ports is nil when the device had nothing to report; previous port
	// data is then kept.
	Ports    []device.PortSnapshot
	PortsErr error
}

// Scheduler runs poll ticks.
type Scheduler struct {
	device   Device
	store    *state.Store
	deriver  *metrics.Deriver
	notifier notify.Notifier
	clock    clockwork.Clock
	interval time.Duration
	sinks    []Sink
	verbose  bool

	inFlight atomic.Bool
	ticks    atomic.Uint64
	skipped  atomic.Uint64
}

// New creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("poller: device is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("poller: store is required")
	}

	s := &Scheduler{
		device:   cfg.Device,
		store:    cfg.Store,
		deriver:  cfg.Deriver,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		interval: cfg.Interval,
		sinks:    cfg.Sinks,
		verbose:  cfg.Verbose,
	}
	if s.deriver == nil {
		s.deriver = metrics.NewDeriver()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	return s, nil
}

// AddSink registers a sink. It must be called before Run.
func (s *Scheduler) AddSink(sink Sink) {
	s.sinks = append(s.sinks, sink)
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Run ticks immediately and then every interval until ctx is done. Ticks run
// on their own goroutines so a slow device cannot delay the schedule; a tick
// that comes due while another is outstanding is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	fire := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Tick(ctx)
		}()
	}

	fire()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			fire()
		}
	}
}

// Tick performs one poll. It returns false without doing anything when
// another tick is still outstanding.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		if s.verbose {
			log.Printf("⏭️  poll: previous tick still running, skipping\n")
		}
		return false
	}
	defer s.inFlight.Store(false)

	r := s.Fetch(ctx)
	if ctx.Err() != nil {
		// Shutting down; a half-cancelled tick would only flip connectivity.
		return true
	}

	s.report(r)
	s.Apply(r)
	s.ticks.Add(1)

	if len(s.sinks) > 0 {
		snap := s.store.Snapshot()
		for _, sink := range s.sinks {
			if err := sink.Publish(ctx, snap); err != nil {
				log.Printf("⚠️  poll: sink publish failed: %v\n", err)
			}
		}
	}
	return true
}

// Fetch issues the four requests concurrently and waits for all of them.
func (s *Scheduler) Fetch(ctx context.Context) Result {
	var (
		r  Result
		wg sync.WaitGroup
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		r.System, r.SystemErr = s.device.SystemInfo(ctx)
	}()
	go func() {
		defer wg.Done()
		r.Network, r.NetworkErr = s.device.NetworkStatus(ctx)
	}()
	go func() {
		defer wg.Done()
		r.Stats, r.StatsErr = s.device.SystemStats(ctx)
	}()
	go func() {
		defer wg.Done()
		r.Ports, r.PortsErr = s.device.PortsStatus(ctx)
	}()
	wg.Wait()

	r.At = s.clock.Now()
	return r
}

// report posts one error notification per failed fetch.
func (s *Scheduler) report(r Result) {
	for _, err := range []error{r.SystemErr, r.NetworkErr, r.StatsErr, r.PortsErr} {
		if err == nil {
			continue
		}
		if s.verbose {
			log.Printf("⚠️  poll: %v\n", err)
		}
		if s.notifier != nil {
			s.notifier.Notify("Request failed: "+err.Error(), notify.Error)
		}
	}
}

// Apply merges a tick result into the store. Failed resources fall back to
// placeholders; only a system info failure marks the device offline.
func (s *Scheduler) Apply(r Result) {
	portRates := s.derivePorts(r.Ports, r.At)
	artnet, sacn := s.deriveStats(r.Stats, r.At)

	gen := s.store.Update(func(d *state.Dashboard) {
		d.Polled = true
		d.LastPoll = r.At

		if r.SystemErr != nil {
			d.Connected = false
			d.System = nil
		} else {
			d.Connected = true
			d.System = r.System
		}

		if r.NetworkErr != nil {
			d.Network = nil
		} else {
			d.Network = r.Network
		}

		if r.StatsErr != nil {
			d.Stats = nil
			d.ArtNetRate = metrics.RateEstimate{}
			d.SACNRate = metrics.RateEstimate{}
		} else if r.Stats != nil {
			d.Stats = r.Stats
			d.ArtNetRate = artnet
			d.SACNRate = sacn
		}

		switch {
		case r.PortsErr != nil:
			for i := range d.Ports {
				d.Ports[i] = state.PortState{}
			}
		case r.Ports != nil:
			mergePorts(d, r.Ports, portRates, r.At)
		}
	})

	if s.verbose {
		log.Printf("🔄 poll: tick applied (generation %d, connected=%v)\n", gen, r.SystemErr == nil)
	}
}

// derivePorts feeds frame counters to the deriver. Counters are keyed by
// slot, the same position mergePorts stores them at, so a device reporting
// zero-based or duplicate port numbers cannot mix two ports' samples.
func (s *Scheduler) derivePorts(ports []device.PortSnapshot, at time.Time) []metrics.RateEstimate {
	if ports == nil {
		return nil
	}
	rates := make([]metrics.RateEstimate, len(ports))
	for i, p := range ports {
		rates[i] = s.deriver.Update(PortCounterKey(i+1), metrics.Sample{
			CounterValue:    p.FramesSent,
			TimestampMillis: at.UnixMilli(),
		})
	}
	return rates
}

func (s *Scheduler) deriveStats(stats *device.SystemStats, at time.Time) (artnet, sacn metrics.RateEstimate) {
	if stats == nil {
		return
	}
	if stats.ArtNet != nil {
		artnet = s.deriver.Update("artnet.packets", metrics.Sample{
			CounterValue:    stats.ArtNet.Packets,
			TimestampMillis: at.UnixMilli(),
		})
	}
	if stats.SACN != nil {
		sacn = s.deriver.Update("sacn.packets", metrics.Sample{
			CounterValue:    stats.SACN.Packets,
			TimestampMillis: at.UnixMilli(),
		})
	}
	return
}

func mergePorts(d *state.Dashboard, ports []device.PortSnapshot, rates []metrics.RateEstimate, at time.Time) {
	for i := 0; i < len(ports) && i < device.PortCount; i++ {
		snap := ports[i]
		d.Ports[i] = state.PortState{
			Snapshot: &snap,
			Rate:     rates[i],
			Sampled:  at,
		}
	}
}

// PortCounterKey is the deriver key for a port's frames_sent counter.
func PortCounterKey(port int) string {
	return fmt.Sprintf("port%d.frames_sent", port)
}

// Stats reports how many ticks completed and how many were skipped.
func (s *Scheduler) Stats() (ticks, skipped uint64) {
	return s.ticks.Load(), s.skipped.Load()
}
