package resample

import resampler "github.com/tphakala/go-audio-resampler"

// libBackend adapts the real resampler library to this package's backend
// interface.
type libBackend struct {
	r *resampler.Resampler
}

func (b *libBackend) Process(in []int16) ([]int16, error) {
	return b.r.ResampleInt16(in)
}

func (b *libBackend) Reset() {
	b.r.Reset()
}

// New builds a Resampler converting mono PCM from inputRate to outputRate.
func New(inputRate, outputRate int) (*Resampler, error) {
	r, err := resampler.New(inputRate, outputRate, 1)
	if err != nil {
		return nil, err
	}
	return newResampler(&libBackend{r: r}), nil
}
