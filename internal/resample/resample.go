// Package resample adapts github.com/tphakala/go-audio-resampler's
// polyphase conversion to the frame/residual contract spec.md §4.2
// requires: callers push PCM at the device's native rate and pull fixed-
// size frames at the pipeline's target rate, with any fractional leftover
// carried across calls so frame length never drifts over a session.
package resample

import "fmt"

// backend is the subset of the resampler library this package depends on.
type backend interface {
	Process(in []int16) ([]int16, error)
	Reset()
}

// Resampler converts PCM between InputRate and OutputRate, buffering
// whatever the backend produces that doesn't yet fill a full output frame.
type Resampler struct {
	backend backend
	carry   []int16 // resampled samples produced but not yet claimed by Pull
}

func newResampler(backend backend) *Resampler {
	return &Resampler{backend: backend}
}

// Push feeds one chunk of input-rate PCM through the resampler, appending
// whatever it produces to the carry buffer.
func (r *Resampler) Push(in []int16) error {
	out, err := r.backend.Process(in)
	if err != nil {
		return fmt.Errorf("resample: process: %w", err)
	}
	r.carry = append(r.carry, out...)
	return nil
}

// Pull claims exactly frameSize samples from the carry buffer. ok is false
// if not enough resampled audio has accumulated yet — the caller should
// Push more input and try again.
func (r *Resampler) Pull(frameSize int) (frame []int16, ok bool) {
	if len(r.carry) < frameSize {
		return nil, false
	}
	frame = r.carry[:frameSize:frameSize]
	r.carry = append([]int16(nil), r.carry[frameSize:]...)
	return frame, true
}

// Pending reports how many resampled samples are buffered but not yet a
// full frame.
func (r *Resampler) Pending() int { return len(r.carry) }

// Reset discards any carried samples and resets backend filter state (e.g.
// after a stream rebuild where continuity no longer matters).
func (r *Resampler) Reset() {
	r.carry = nil
	r.backend.Reset()
}
