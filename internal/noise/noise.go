// Package noise applies RNNoise-based ML noise suppression ahead of the
// high-pass filter and AGC in the echo-cancellation cascade (spec.md
// §4.3). The suppression backend is hidden behind the denoiser interface
// so the blend/enable/level bookkeeping can be unit tested without linking
// against libr rnnoise.
package noise

import "sync"

// rnnoiseFrameSize is RNNoise's native frame size; a 60ms/16kHz frame (960
// samples) is processed as two halves, each with its own persistent state
// so filter history isn't discontinuous across the split.
const rnnoiseFrameSize = 480

// FrameSize is the full frame length this canceller expects.
const FrameSize = 2 * rnnoiseFrameSize

// denoiser processes one rnnoiseFrameSize-sample half-frame in place and
// returns the VAD probability RNNoise reports for it (unused by the
// canceller today but kept since the real backend always produces one).
type denoiser interface {
	ProcessFrame(buf []float32) float32
	Destroy()
}

// Canceller applies RNNoise-based suppression, blended against the dry
// signal by level, the way the teacher's NoiseCanceller does.
type Canceller struct {
	mu      sync.Mutex
	st0     denoiser // samples [0:480]
	st1     denoiser // samples [480:960]
	level   float32  // 0.0 = bypass, 1.0 = full suppression
	enabled bool
}

func newCanceller(st0, st1 denoiser) *Canceller {
	return &Canceller{st0: st0, st1: st1, level: 1.0}
}

// SetEnabled enables or disables noise suppression.
func (c *Canceller) SetEnabled(on bool) {
	c.mu.Lock()
	c.enabled = on
	c.mu.Unlock()
}

// Enabled reports whether suppression is currently active.
func (c *Canceller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetLevel sets the suppression blend level, clamped to [0,1].
func (c *Canceller) SetLevel(level float32) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	c.mu.Lock()
	c.level = level
	c.mu.Unlock()
}

// Process applies noise suppression in place to buf, which must be exactly
// FrameSize samples. No-op when disabled or level is 0.
func (c *Canceller) Process(buf []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled || c.level == 0 || len(buf) != FrameSize {
		return
	}

	level := c.level
	blend(buf[:rnnoiseFrameSize], c.st0, level)
	blend(buf[rnnoiseFrameSize:], c.st1, level)
}

func blend(half []float32, st denoiser, level float32) {
	dry := make([]float32, len(half))
	copy(dry, half)
	st.ProcessFrame(half)
	for i := range half {
		half[i] = dry[i]*(1-level) + half[i]*level
	}
}

// Destroy releases the underlying suppression state.
func (c *Canceller) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st0 != nil {
		c.st0.Destroy()
		c.st0 = nil
	}
	if c.st1 != nil {
		c.st1.Destroy()
		c.st1 = nil
	}
}
