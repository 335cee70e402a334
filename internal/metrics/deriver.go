// Package metrics turns raw monotonic counters into display rates and
// channel levels into percentages.
package metrics

import (
	"fmt"
	"math"
	"sync"
)

// Sample is one reading of a monotonic counter.
type Sample struct {
	CounterValue    uint64
	TimestampMillis int64
}

// RateEstimate is a derived per-second rate. It is never negative.
type RateEstimate struct {
	RatePerSecond float64
}

// Rounded returns the rate rounded to one decimal place for display.
func (r RateEstimate) Rounded() float64 {
	return Round1(r.RatePerSecond)
}

// Hz formats the rate as "30.0 Hz".
func (r RateEstimate) Hz() string {
	return FormatHz(r.RatePerSecond)
}

// Deriver keeps the previous sample of every counter and derives a rate from
// each new one. Only the most recent sample per key is retained.
type Deriver struct {
	mu   sync.Mutex
	last map[string]Sample
}

// NewDeriver creates an empty Deriver.
func NewDeriver() *Deriver {
	return &Deriver{last: make(map[string]Sample)}
}

// Update stores sample as the latest for key and returns the rate since the
// previous sample. The first sample for a key, a non-positive elapsed time
// and a counter that went backwards all yield 0.
func (d *Deriver) Update(key string, sample Sample) RateEstimate {
	d.mu.Lock()
	prev, ok := d.last[key]
	d.last[key] = sample
	d.mu.Unlock()

	if !ok {
		return RateEstimate{}
	}
	return RateEstimate{RatePerSecond: Rate(prev, sample)}
}

// Rate computes the per-second rate between two samples.
func Rate(prev, next Sample) float64 {
	elapsed := next.TimestampMillis - prev.TimestampMillis
	if elapsed <= 0 || next.CounterValue < prev.CounterValue {
		return 0
	}
	return float64(next.CounterValue-prev.CounterValue) / (float64(elapsed) / 1000)
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// FormatHz renders a rate with one decimal and a Hz unit.
func FormatHz(rate float64) string {
	return fmt.Sprintf("%.1f Hz", Round1(rate))
}
