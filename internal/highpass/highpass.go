// Package highpass implements a single second-order (biquad) high-pass
// filter used at the tail of the echo-cancellation cascade (spec.md §4.3)
// to remove DC offset and sub-100Hz rumble left over after AEC/noise
// suppression. No third-party biquad/DSP-filter library appears anywhere
// in the retrieved example pack, and a single RBJ cookbook biquad is a
// dozen lines of arithmetic with no meaningful library surface to wrap, so
// this stays on the standard library (see DESIGN.md).
package highpass

import "math"

// Filter is a stateful second-order high-pass biquad (Robert Bristow-
// Johnson's audio EQ cookbook formulation).
type Filter struct {
	b0, b1, b2 float64
	a1, a2     float64

	// direct form I state
	x1, x2 float64
	y1, y2 float64
}

// New builds a high-pass filter with the given -3dB cutoff frequency and Q,
// operating at sampleRate.
func New(sampleRate, cutoffHz float64, q float64) *Filter {
	omega := 2 * math.Pi * cutoffHz / sampleRate
	alpha := math.Sin(omega) / (2 * q)
	cosw := math.Cos(omega)

	b0 := (1 + cosw) / 2
	b1 := -(1 + cosw)
	b2 := (1 + cosw) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw
	a2 := 1 - alpha

	return &Filter{
		b0: b0 / a0,
		b1: b1 / a0,
		b2: b2 / a0,
		a1: a1 / a0,
		a2: a2 / a0,
	}
}

// Process filters one sample.
func (f *Filter) Process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// ProcessFrame filters buf in place.
func (f *Filter) ProcessFrame(buf []float32) {
	for i, x := range buf {
		buf[i] = float32(f.Process(float64(x)))
	}
}

// Reset clears filter history (e.g. across a stream discontinuity).
func (f *Filter) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}
