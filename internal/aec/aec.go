// Package aec provides a Normalized Least Mean Squares (NLMS) acoustic echo
// canceller. It consumes a far-end reference frame fed by the playback stage
// and a near-end capture frame, and outputs echo-suppressed capture samples.
//
// Usage:
//
//	proc := aec.New(audio.FrameSamples, audio.SampleRate, aec.DefaultConfig())
//
//	// In the playback goroutine, after mixing the output buffer:
//	proc.FeedFarEnd(mixed)
//
//	// In the capture goroutine, before VAD/wake/encode:
//	proc.Process(captured) // modifies captured in-place
package aec

import "sync"

const (
	// DefaultTaps is the NLMS filter length (samples). 480 samples = 30 ms at
	// 16 kHz, enough to cover residual room response once the bulk delay is
	// compensated by StreamDelayMs.
	DefaultTaps = 480

	// DefaultStep is the NLMS step size mu (0 < mu < 2). Smaller values
	// converge more slowly but are more stable; 0.1 is conservative.
	DefaultStep = 0.1

	// delayAlpha is the EWMA smoothing factor applied to stream_delay_ms
	// updates (spec: α=0.25).
	delayAlpha = 0.25
)

// Config holds the per-session echo cancellation settings named in
// spec.md §4.3.
type Config struct {
	Enabled       bool
	MobileMode    bool // reserved for a lighter filter variant on constrained devices
	StreamDelayMs int  // initial estimate of round-trip capture↔playback latency
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, StreamDelayMs: 60}
}

// AEC is an NLMS-based acoustic echo canceller operating on one mono PCM
// stream at a fixed frame size.
//
// The far-end circular buffer is large enough that the writer (FeedFarEnd)
// and reader (Process) access disjoint regions, so the mutex is only held
// briefly for the reference copy and for configuration changes.
type AEC struct {
	mu  sync.Mutex
	cfg Config

	weights []float64 // adaptive filter coefficients [tapLen]
	tapLen  int
	step    float64

	farBuf    []float32
	farHead   int
	bufLen    int
	frameSize int

	delaySamples  int     // current bulk delay, in samples
	smoothedDelay float64 // EWMA state, in samples
	haveFarEnd    bool    // true once FeedFarEnd has been called at least once
	sampleRateHz  int
}

// New creates an AEC for the given PCM frame size (in samples) and rate.
func New(frameSize, sampleRateHz int, cfg Config) *AEC {
	delaySamples := cfg.StreamDelayMs * sampleRateHz / 1000
	bufLen := frameSize + delaySamples + DefaultTaps + frameSize // headroom for delay updates
	return &AEC{
		cfg:           cfg,
		weights:       make([]float64, DefaultTaps),
		tapLen:        DefaultTaps,
		step:          DefaultStep,
		farBuf:        make([]float32, bufLen),
		bufLen:        bufLen,
		frameSize:     frameSize,
		delaySamples:  delaySamples,
		smoothedDelay: float64(delaySamples),
		sampleRateHz:  sampleRateHz,
	}
}

// SetEnabled enables or disables echo cancellation. Enabling resets the
// filter weights so it adapts cleanly from scratch.
func (a *AEC) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.cfg.Enabled = enabled
	if enabled {
		for i := range a.weights {
			a.weights[i] = 0
		}
	}
	a.mu.Unlock()
}

// UpdateStreamDelay reports a freshly measured round-trip delay (ms), e.g.
// when playback restarts. The internal estimate is smoothed with a
// first-order filter rather than snapping to the new value (spec: α=0.25).
func (a *AEC) UpdateStreamDelay(measuredMs int) {
	a.mu.Lock()
	measured := float64(measuredMs * a.sampleRateHz / 1000)
	a.smoothedDelay = delayAlpha*measured + (1-delayAlpha)*a.smoothedDelay
	a.delaySamples = int(a.smoothedDelay)
	a.mu.Unlock()
}

// FeedFarEnd stores the most recent playback frame as the far-end reference.
// Call this from the playback goroutine after filling the output buffer.
func (a *AEC) FeedFarEnd(frame []float32) {
	a.mu.Lock()
	for _, s := range frame {
		a.farBuf[a.farHead] = s
		a.farHead = (a.farHead + 1) % a.bufLen
	}
	a.haveFarEnd = true
	a.mu.Unlock()
}

// HasFarEnd reports whether any far-end reference has been fed yet.
// spec.md §4.3: "If no reference exists (SPEAKING inactive), process
// capture with echo disabled for that frame."
func (a *AEC) HasFarEnd() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.haveFarEnd
}

// Process applies echo cancellation to a captured frame in-place.
// Call this from the capture goroutine before any other processing. It is a
// no-op when disabled or before any far-end reference has ever been fed.
func (a *AEC) Process(frame []float32) {
	a.mu.Lock()
	if !a.cfg.Enabled || !a.haveFarEnd {
		a.mu.Unlock()
		return
	}

	refLen := a.frameSize + a.tapLen - 1
	ref := make([]float32, refLen)
	startIdx := a.farHead - a.frameSize - a.delaySamples - a.tapLen + 1
	for j := range refLen {
		idx := ((startIdx + j) % a.bufLen + 3*a.bufLen) % a.bufLen
		ref[j] = a.farBuf[idx]
	}
	a.mu.Unlock()

	for i := range frame {
		refBase := i + a.tapLen - 1

		var y, powerSum float64
		for k := 0; k < a.tapLen; k++ {
			x := float64(ref[refBase-k])
			y += a.weights[k] * x
			powerSum += x * x
		}

		e := float64(frame[i]) - y

		if powerSum > 1e-10 {
			step := a.step * e / powerSum
			for k := 0; k < a.tapLen; k++ {
				a.weights[k] += step * float64(ref[refBase-k])
			}
		}

		frame[i] = float32(e)
	}
}

// Reset clears filter weights and far-end history, e.g. when a session ends.
func (a *AEC) Reset() {
	a.mu.Lock()
	for i := range a.weights {
		a.weights[i] = 0
	}
	for i := range a.farBuf {
		a.farBuf[i] = 0
	}
	a.farHead = 0
	a.haveFarEnd = false
	a.mu.Unlock()
}
