// Package state holds the single dashboard the rest of the program reads.
// Every producer (poll ticks, push events, live channel transitions) writes
// through Store.Update, which serializes writes and wakes subscribers.
package state

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/tobert/rdmwatch/internal/broadcast"
	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/live"
	"github.com/tobert/rdmwatch/internal/metrics"
)

const (
	DefaultHistorySize  = 150 // five minutes at the default poll interval
	DefaultEventLogSize = 100
)

// PortState is everything known about one port.
type PortState struct {
	// Snapshot is nil until the first good poll, and again after a failed
	// ports fetch.
	Snapshot *device.PortSnapshot
	Rate     metrics.RateEstimate
	// Sampled is when Rate was last derived. Zero means no sample yet.
	Sampled time.Time
}

// RatePoint is one entry of a port's refresh rate history.
type RatePoint struct {
	At time.Time `json:"at"`
	Hz float64   `json:"hz"`
}

// EventRecord is a push event kept in the recent event log.
type EventRecord struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	At   time.Time       `json:"at"`
}

// Dashboard is the merged picture of the device.
//
// Pointer fields are replaced on update, never mutated in place, so copies
// returned by Snapshot may share them safely.
type Dashboard struct {
	Generation uint64

	// Connected follows the system info fetch: it is the only resource whose
	// failure marks the device offline.
	Connected bool
	Polled    bool
	LastPoll  time.Time

	// DeviceHost is shown as the address when network status is unavailable.
	DeviceHost string

	System  *device.SystemInfo
	Network *device.NetworkStatus
	Stats   *device.SystemStats
	Config  *device.Config

	Ports      [device.PortCount]PortState
	ArtNetRate metrics.RateEstimate
	SACNRate   metrics.RateEstimate

	Live live.ConnectionState

	// Filled in by Snapshot; writes to these inside Update are discarded.
	Events  []EventRecord
	History [device.PortCount][]RatePoint
}

// Port returns the state of a 1-based port, or the zero value when out of
// range.
func (d *Dashboard) Port(n int) PortState {
	if n < 1 || n > device.PortCount {
		return PortState{}
	}
	return d.Ports[n-1]
}

// Options configures a Store.
type Options struct {
	DeviceHost   string
	HistorySize  int
	EventLogSize int
}

// Store owns the dashboard.
type Store struct {
	mu      sync.Mutex
	d       Dashboard
	history [device.PortCount]*Ring[RatePoint]
	events  *Ring[EventRecord]

	changes *broadcast.Hub
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.EventLogSize <= 0 {
		opts.EventLogSize = DefaultEventLogSize
	}

	s := &Store{
		d:       Dashboard{DeviceHost: opts.DeviceHost},
		events:  NewRing[EventRecord](opts.EventLogSize),
		changes: broadcast.NewHub(),
	}
	for i := range s.history {
		s.history[i] = NewRing[RatePoint](opts.HistorySize)
	}
	return s
}

// Update applies fn to the dashboard under the write lock and returns the new
// generation. Fresh port rates are appended to the rate history.
func (s *Store) Update(fn func(d *Dashboard)) uint64 {
	s.mu.Lock()

	var before [device.PortCount]time.Time
	for i := range s.d.Ports {
		before[i] = s.d.Ports[i].Sampled
	}

	fn(&s.d)

	for i, p := range s.d.Ports {
		if !p.Sampled.IsZero() && !p.Sampled.Equal(before[i]) {
			s.history[i].Add(RatePoint{At: p.Sampled, Hz: p.Rate.RatePerSecond})
		}
	}
	s.d.Events = nil
	s.d.History = [device.PortCount][]RatePoint{}
	s.d.Generation++
	gen := s.d.Generation

	s.mu.Unlock()

	s.changes.Notify()
	return gen
}

// RecordEvent appends a push event to the event log.
func (s *Store) RecordEvent(ev EventRecord) {
	s.events.Add(ev)

	s.mu.Lock()
	s.d.Generation++
	s.mu.Unlock()

	s.changes.Notify()
}

// Snapshot returns a copy of the dashboard including the event log and rate
// history.
func (s *Store) Snapshot() Dashboard {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.d
	d.Events = s.events.All()
	for i, h := range s.history {
		d.History[i] = h.All()
	}
	return d
}

// Generation returns the current generation.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Generation
}

// Subscribe returns a channel signalled after every change, coalescing
// bursts, and an unsubscribe function.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	return s.changes.Subscribe()
}
