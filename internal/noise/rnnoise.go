package noise

/*
#cgo pkg-config: rnnoise
#include <rnnoise.h>
#include <stdlib.h>
*/
import "C"
import "unsafe"

// rnnoiseState wraps one RNNoise DenoiseState with pre-allocated C buffers,
// avoiding per-frame malloc/free on the hot path.
type rnnoiseState struct {
	st   *C.DenoiseState
	cIn  *C.float
	cOut *C.float
}

func newRNNoiseState() *rnnoiseState {
	cIn := (*C.float)(C.malloc(C.size_t(rnnoiseFrameSize) * C.size_t(unsafe.Sizeof(C.float(0)))))
	cOut := (*C.float)(C.malloc(C.size_t(rnnoiseFrameSize) * C.size_t(unsafe.Sizeof(C.float(0)))))
	return &rnnoiseState{
		st:   C.rnnoise_create(nil),
		cIn:  cIn,
		cOut: cOut,
	}
}

// ProcessFrame denoises buf (rnnoiseFrameSize samples) in place. RNNoise
// expects samples scaled to int16 range.
func (r *rnnoiseState) ProcessFrame(buf []float32) float32 {
	in := unsafe.Slice(r.cIn, rnnoiseFrameSize)
	out := unsafe.Slice(r.cOut, rnnoiseFrameSize)

	for i, s := range buf {
		in[i] = C.float(s * 32767.0)
	}
	vadProb := C.rnnoise_process_frame(r.st, r.cOut, r.cIn)
	for i := range buf {
		buf[i] = float32(out[i]) / 32767.0
	}
	return float32(vadProb)
}

func (r *rnnoiseState) Destroy() {
	if r.st != nil {
		C.rnnoise_destroy(r.st)
		r.st = nil
	}
	if r.cIn != nil {
		C.free(unsafe.Pointer(r.cIn))
		r.cIn = nil
	}
	if r.cOut != nil {
		C.free(unsafe.Pointer(r.cOut))
		r.cOut = nil
	}
}

// New allocates a Canceller backed by two real RNNoise state instances.
func New() *Canceller {
	return newCanceller(newRNNoiseState(), newRNNoiseState())
}
