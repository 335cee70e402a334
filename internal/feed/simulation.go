package feed

import (
	"encoding/binary"
	"math"

	"github.com/zeebo/xxh3"
)

// Simulation is a synthetic source used when no real level feed exists. It is
// a pure function of its arguments: identical inputs give identical outputs.
//
// Channel families (index mod 8): sine, fast sine, sawtooth ramp, bounded
// pseudo-random, triangle, step, cosine, product of two waves.
type Simulation struct{}

// NewSimulation returns the synthetic source.
func NewSimulation() Simulation { return Simulation{} }

// Sample implements Source.
func (Simulation) Sample(channelIndex, portIndex int, timeSeconds float64) int {
	t := timeSeconds
	if math.IsNaN(t) || math.IsInf(t, 0) {
		t = 0
	}
	p := float64(portIndex)

	var v float64
	switch ((channelIndex % ChannelsPerPort) + ChannelsPerPort) % ChannelsPerPort {
	case 0:
		v = math.Floor((math.Sin(t+p) + 1) * 127.5)
	case 1:
		v = math.Floor((math.Sin(t*2+p) + 1) * 127.5)
	case 2:
		v = math.Floor(positiveMod(t*0.5+p, 1) * 255)
	case 3:
		v = noise(portIndex, t)
	case 4:
		ph := positiveMod(t+p, 2)
		if ph < 1 {
			v = math.Floor(ph * 255)
		} else {
			v = math.Floor((2 - ph) * 255)
		}
	case 5:
		if positiveMod(t+p, 2) < 1 {
			v = 200
		} else {
			v = 50
		}
	case 6:
		v = math.Floor((math.Cos(t*1.5+p) + 1) * 127.5)
	default:
		v = math.Floor((math.Sin(t)*math.Cos(t*0.7+p) + 1) * 127.5)
	}
	return clamp(v)
}

// noise returns a value in [64,191] that is stable within a quarter second
// slot for a given port.
func noise(portIndex int, t float64) float64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(int64(portIndex)))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(math.Floor(t*4)))
	return float64(64 + xxh3.Hash(buf[:])%128)
}

func positiveMod(x, m float64) float64 {
	r := math.Mod(x, m)
	if r < 0 {
		r += m
	}
	return r
}
