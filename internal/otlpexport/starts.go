package otlpexport

import (
	"sync"
	"time"
)

// Starts tracks the start time of every cumulative series. A series starts
// at origin and moves forward whenever its value goes backwards, which is
// what the device's counters do when it restarts. The new start is the
// previous observation, the last moment the old count was still known good.
type Starts struct {
	origin time.Time

	mu     sync.Mutex
	series map[string]observation
}

type observation struct {
	value uint64
	at    time.Time
	start time.Time
}

// NewStarts creates a tracker whose series start at origin.
func NewStarts(origin time.Time) *Starts {
	if origin.IsZero() {
		origin = time.Now()
	}
	return &Starts{origin: origin, series: make(map[string]observation)}
}

// Observe records value for series at time at and returns the series start.
func (s *Starts) Observe(series string, value uint64, at time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, seen := s.series[series]
	switch {
	case !seen:
		prev.start = s.origin
	case value < prev.value:
		prev.start = prev.at
		if !prev.start.Before(at) {
			prev.start = at
		}
	}
	s.series[series] = observation{value: value, at: at, start: prev.start}
	return prev.start
}
