package metrics

import "math"

// HighLevel is the channel value above which a bar is drawn as "high".
const HighLevel = 200

// Signal strength classes.
const (
	StrengthWeak   = "weak"
	StrengthMedium = "medium"
	StrengthStrong = "strong"
)

// ChannelLevel is the display form of one 8-bit channel value.
type ChannelLevel struct {
	Value   int
	Percent int
	High    bool
}

// Channel converts a raw value to its display level. Values are clamped to
// [0,255] first.
func Channel(value int) ChannelLevel {
	v := clampByte(value)
	return ChannelLevel{
		Value:   v,
		Percent: int(math.Round(float64(v) / 255 * 100)),
		High:    v > HighLevel,
	}
}

// SignalStrength is the average level of a port's channels.
type SignalStrength struct {
	Percent int
	Class   string
}

// Strength averages the values and buckets the percentage. An empty slice
// reports 0% weak.
func Strength(values []int) SignalStrength {
	if len(values) == 0 {
		return SignalStrength{Class: StrengthWeak}
	}

	sum := 0
	for _, v := range values {
		sum += clampByte(v)
	}
	avg := float64(sum) / float64(len(values))
	pct := int(math.Round(avg / 255 * 100))

	class := StrengthStrong
	switch {
	case pct < 30:
		class = StrengthWeak
	case pct < 70:
		class = StrengthMedium
	}
	return SignalStrength{Percent: pct, Class: class}
}

func clampByte(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
