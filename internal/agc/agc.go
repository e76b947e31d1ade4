// Package agc implements a software Automatic Gain Control processor for
// mono float32 PCM audio at 16 kHz, 960-sample (60 ms) frames.
//
// The AGC continuously monitors the short-term RMS of each frame and adjusts a
// multiplicative gain toward a desired target level using independent
// attack/release time constants. Gain is clamped to [MinGain, MaxGain] to
// prevent silence amplification from going wild. A fixed compression gain
// and an optional soft limiter are applied after the adaptive stage, per the
// agc1.* settings in spec.md §4.3.
package agc

import (
	"math"

	"github.com/xiaoclient/voicecore/internal/dsp"
)

const (
	// DefaultTarget is the desired RMS level (linear, ~-14 dBFS).
	DefaultTarget = 0.20

	// MinGain limits attenuation to 20 dB.
	MinGain = 0.1
	// MaxGain allows up to +20 dB of amplification.
	MaxGain = 10.0

	// AttackCoeff controls how quickly gain is reduced when level exceeds target.
	AttackCoeff = 0.80
	// ReleaseCoeff controls how quickly gain recovers after a loud transient.
	ReleaseCoeff = 0.02

	// minRMS suppresses gain updates on silent frames (below noise floor).
	minRMS = 0.001
)

// Mode selects which agc1.mode variant from spec.md §4.3 the processor
// emulates. This client has no hardware mic gain to drive, so
// AdaptiveAnalog and AdaptiveDigital behave identically (both adapt gain in
// software); only FixedDigital changes behavior, by disabling adaptation.
type Mode int

const (
	AdaptiveDigital Mode = iota
	AdaptiveAnalog
	FixedDigital
)

// Config holds the agc1.* settings named in spec.md §4.3.
type Config struct {
	Enabled           bool
	Mode              Mode
	TargetLevelDBFS   float64 // overrides DefaultTarget when non-zero
	CompressionGainDB float64 // static makeup gain applied after adaptation
	Limiter           bool    // soft-knee limiter instead of hard clamp
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, Mode: AdaptiveDigital}
}

// AGC is a single-channel automatic gain control processor. Zero value is not
// usable; use New().
type AGC struct {
	target    float64 // desired RMS level [0.0, 1.0]
	gain      float64 // current linear gain multiplier
	cfg       Config
	makeup    float64 // linear compression gain derived from CompressionGainDB
	fixedGain float64 // gain locked in once for FixedDigital mode
}

// New returns an AGC with DefaultTarget, unity gain, and the zero Config
// (AdaptiveDigital mode, no limiter). Process does not consult
// Config.Enabled, so the returned AGC adapts its gain.
func New() *AGC {
	return &AGC{target: DefaultTarget, gain: 1.0, makeup: 1.0}
}

// NewWithConfig returns an AGC configured per spec.md §4.3.
func NewWithConfig(cfg Config) *AGC {
	a := New()
	a.Configure(cfg)
	return a
}

// Configure applies an agc1.* config, recomputing derived state.
func (a *AGC) Configure(cfg Config) {
	a.cfg = cfg
	if cfg.TargetLevelDBFS != 0 {
		a.target = dsp.DBFSToLinear(cfg.TargetLevelDBFS)
	}
	a.makeup = dsp.DBFSToLinear(cfg.CompressionGainDB)
	if cfg.Mode == FixedDigital {
		a.fixedGain = a.gain
	}
}

// SetTarget sets the desired RMS level. level is in the range [0, 100] and is
// mapped linearly to [0.01, 0.50].
func (a *AGC) SetTarget(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	// Map [0,100] → [0.01, 0.50]
	a.target = 0.01 + float64(level)/100.0*0.49
}

// Process applies gain to frame in-place and updates the gain estimate.
// frame must be mono float32 PCM. Returns the same slice for chaining.
func (a *AGC) Process(frame []float32) []float32 {
	if len(frame) == 0 {
		return frame
	}

	rms := float64(dsp.RMS(frame))

	gain := a.gain
	if a.cfg.Mode == FixedDigital && a.fixedGain != 0 {
		gain = a.fixedGain
	}
	makeup := a.makeup
	if makeup == 0 {
		makeup = 1.0
	}

	for i, s := range frame {
		v := s * float32(gain*makeup)
		if a.cfg.Limiter {
			v = float32(softLimit(float64(v)))
		} else if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		frame[i] = v
	}

	if a.cfg.Mode == FixedDigital {
		return frame // no adaptation in fixed mode
	}

	// Skip gain update on near-silence to avoid boosting noise floor.
	if rms < minRMS {
		return frame
	}

	desired := a.target / rms
	if desired < MinGain {
		desired = MinGain
	} else if desired > MaxGain {
		desired = MaxGain
	}

	var coeff float64
	if desired < a.gain {
		coeff = AttackCoeff
	} else {
		coeff = ReleaseCoeff
	}
	a.gain = a.gain + coeff*(desired-a.gain)

	return frame
}

// softLimit applies a tanh soft-knee limiter, bounded to (-1, 1).
func softLimit(v float64) float64 {
	return math.Tanh(v)
}

// Gain returns the current linear gain multiplier (informational).
func (a *AGC) Gain() float64 { return a.gain }

// Reset resets the gain to unity without changing the target or config.
func (a *AGC) Reset() {
	a.gain = 1.0
	a.fixedGain = 0
}
