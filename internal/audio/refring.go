package audio

import (
	"sync"
	"time"
)

// refRingSize covers at least 1 s of audio at 60 ms/frame (spec.md §5: the
// reference ring is bounded to 1 s), rounded up to a power of two.
const refRingSize = 32

// RefRing is a single-producer/single-consumer ring buffer of
// ReferenceFrames. The producer is the playback stage (after decode+mix);
// the consumer is the AEC stage looking up the far-end frame closest to a
// target presentation time. A mutex guards the small fixed-size ring because
// the consumer does a nearest-timestamp scan, not a simple pop.
type RefRing struct {
	mu     sync.Mutex
	frames [refRingSize]ReferenceFrame
	filled [refRingSize]bool
	head   int
}

// NewRefRing returns an empty reference ring.
func NewRefRing() *RefRing {
	return &RefRing{}
}

// Push appends a freshly decoded playback frame, dropping the oldest slot.
func (r *RefRing) Push(f ReferenceFrame) {
	r.mu.Lock()
	r.frames[r.head] = f
	r.filled[r.head] = true
	r.head = (r.head + 1) % refRingSize
	r.mu.Unlock()
}

// Nearest returns the retained frame whose PresentedAt is closest to target,
// and reports whether any frame was found. Frames older than maxAge relative
// to target are treated as absent (spec.md §4.3: dropped when older than
// max_delay).
func (r *RefRing) Nearest(target time.Time, maxAge time.Duration) (ReferenceFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		best    ReferenceFrame
		bestAbs time.Duration = -1
		found   bool
	)
	for i := range r.frames {
		if !r.filled[i] {
			continue
		}
		f := r.frames[i]
		if target.Sub(f.PresentedAt) > maxAge {
			continue // too old to be a useful echo reference
		}
		d := f.PresentedAt.Sub(target)
		if d < 0 {
			d = -d
		}
		if !found || d < bestAbs {
			best, bestAbs, found = f, d, true
		}
	}
	return best, found
}

// Reset clears all retained frames (e.g. when playback restarts).
func (r *RefRing) Reset() {
	r.mu.Lock()
	r.frames = [refRingSize]ReferenceFrame{}
	r.filled = [refRingSize]bool{}
	r.head = 0
	r.mu.Unlock()
}
