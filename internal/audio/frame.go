package audio

import (
	"math"
	"time"
)

// Frame is a fixed-length block of mono int16 samples. Frames are never
// mutated after emission; the sequence number is monotonic per capture.
type Frame struct {
	Seq      uint64
	Samples  []int16
	Captured time.Time
}

// RMS returns the root-mean-square level of the samples normalized to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum/float64(len(samples))) / math.MaxInt16
}

// Peak returns the absolute peak level of the samples normalized to [0, 1].
func Peak(samples []int16) float64 {
	var peak int16
	for _, s := range samples {
		if s == math.MinInt16 {
			return 1
		}
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak) / math.MaxInt16
}
