// Package dsp holds small signal-processing helpers shared across the audio
// pipeline stages (AGC, noise gate, level metering) that don't warrant their
// own package.
package dsp

import "math"

// RMS returns the root-mean-square of a mono float32 PCM frame.
func RMS(frame []float32) float32 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(frame))))
}

// DBFSToLinear converts a dBFS level to a linear amplitude in [0, 1].
func DBFSToLinear(dbfs float64) float64 {
	return math.Pow(10, dbfs/20)
}
