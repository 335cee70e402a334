// Package feed provides per-channel level sources for the channel
// visualization. Every source honours the same contract: Sample returns a
// value in [0,255] for a channel and port at a point in time.
package feed

// ChannelsPerPort is how many channels are visualized per port.
const ChannelsPerPort = 8

// Source produces channel levels.
type Source interface {
	Sample(channelIndex, portIndex int, timeSeconds float64) int
}

// Levels samples all visualized channels of one port.
func Levels(src Source, portIndex int, timeSeconds float64) []int {
	out := make([]int, ChannelsPerPort)
	for ch := range out {
		out[ch] = src.Sample(ch, portIndex, timeSeconds)
	}
	return out
}

func clamp(v float64) int {
	if v != v || v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return int(v)
}
