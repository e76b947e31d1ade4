// Package wakeword implements the melspectrogram → embedding → keyword
// three-model cascade spec.md §4.5 calls for, generalized to a configurable
// set of keywords loaded at startup rather than a single compiled-in
// wakeword (pattern grounded on the openWakeWord-style cascade in
// hammamikhairi/ottocook's internal/wakeword.Detector).
package wakeword

import "time"

const (
	sampleRate   = 16000
	chunkSamples = 1280 // 80ms @ 16kHz, the cascade's native step

	melBins      = 32
	nMelFrames   = 5 // chunkSamples produces this many mel frames per step
	melWindow    = 76
	melStep      = 8
	embeddingDim = 96
	nEmbedFrames = 16

	// scoreWindow smooths over frame-alignment jitter in the keyword peak.
	scoreWindowSize = 5
)

// modelRunner executes one ONNX session, mapping a flat float32 input
// tensor to a flat float32 output tensor. Abstracted so the cascade logic
// can be tested without an ONNX Runtime or model files on disk.
type modelRunner interface {
	Run(input []float32) ([]float32, error)
}

// Keyword is one configured wakeword: a name and the ONNX model scoring it.
type Keyword struct {
	Name    string
	Model   modelRunner
	scores  []float32
	scoreAt int
	lastHit time.Time
}

// Config tunes detection sensitivity.
type Config struct {
	Threshold float64
	Cooldown  time.Duration
}

// DefaultConfig returns spec.md §4.5's defaults.
func DefaultConfig() Config {
	return Config{Threshold: 0.5, Cooldown: 1500 * time.Millisecond}
}

// Detector runs the shared melspectrogram/embedding stage once per chunk
// and scores every configured keyword against the resulting embedding.
type Detector struct {
	cfg      Config
	melspec  modelRunner
	embed    modelRunner
	keywords []*Keyword

	melBuffer   []float32
	embedBuffer []float32
	audioRem    []int16
}

// New builds a Detector for the given keyword set, sharing one
// melspectrogram/embedding pipeline across all of them.
func New(cfg Config, melspec, embed modelRunner, keywords []*Keyword) *Detector {
	if cfg.Threshold <= 0 {
		cfg = DefaultConfig()
	}
	for _, k := range keywords {
		k.scores = make([]float32, scoreWindowSize)
	}
	return &Detector{
		cfg:         cfg,
		melspec:     melspec,
		embed:       embed,
		keywords:    keywords,
		embedBuffer: make([]float32, nEmbedFrames*embeddingDim),
	}
}

// Detection reports a keyword crossing threshold.
type Detection struct {
	Keyword string
	Score   float32
}

// Process feeds one audio frame (any length; chunkSamples-sized slices are
// accumulated internally) through the cascade and returns every keyword
// that newly crossed its threshold this call.
func (d *Detector) Process(pcm []int16, now time.Time) ([]Detection, error) {
	d.audioRem = append(d.audioRem, pcm...)

	var detections []Detection
	for len(d.audioRem) >= chunkSamples {
		chunk := d.audioRem[:chunkSamples]
		n := copy(d.audioRem, d.audioRem[chunkSamples:])
		d.audioRem = d.audioRem[:n]

		hits, err := d.processChunk(chunk, now)
		if err != nil {
			return detections, err
		}
		detections = append(detections, hits...)
	}
	return detections, nil
}

func (d *Detector) processChunk(chunk []int16, now time.Time) ([]Detection, error) {
	melInput := make([]float32, len(chunk))
	for i, s := range chunk {
		melInput[i] = float32(s)
	}

	melOut, err := d.melspec.Run(melInput)
	if err != nil {
		return nil, err
	}
	for f := 0; f < nMelFrames; f++ {
		for b := 0; b < melBins; b++ {
			idx := f*melBins + b
			if idx < len(melOut) {
				d.melBuffer = append(d.melBuffer, melOut[idx]/10.0+2.0)
			}
		}
	}

	var detections []Detection
	totalMel := len(d.melBuffer) / melBins
	for totalMel >= melWindow {
		embedIn := d.melBuffer[:melWindow*melBins]
		embedOut, err := d.embed.Run(embedIn)
		if err != nil {
			return detections, err
		}

		copy(d.embedBuffer, d.embedBuffer[embeddingDim:])
		copy(d.embedBuffer[(nEmbedFrames-1)*embeddingDim:], embedOut[:embeddingDim])

		n := copy(d.melBuffer, d.melBuffer[melStep*melBins:])
		d.melBuffer = d.melBuffer[:n]
		totalMel = len(d.melBuffer) / melBins

		hits, err := d.scoreKeywords(now)
		if err != nil {
			return detections, err
		}
		detections = append(detections, hits...)
	}

	if totalMel > melWindow {
		excess := (totalMel - melWindow) * melBins
		n := copy(d.melBuffer, d.melBuffer[excess:])
		d.melBuffer = d.melBuffer[:n]
	}

	return detections, nil
}

func (d *Detector) scoreKeywords(now time.Time) ([]Detection, error) {
	var detections []Detection
	for _, k := range d.keywords {
		out, err := k.Model.Run(d.embedBuffer)
		if err != nil {
			return detections, err
		}
		score := out[0]

		k.scores[k.scoreAt%scoreWindowSize] = score
		k.scoreAt++

		var maxScore float32
		for _, s := range k.scores {
			if s > maxScore {
				maxScore = s
			}
		}

		if float64(maxScore) >= d.cfg.Threshold && now.Sub(k.lastHit) > d.cfg.Cooldown {
			k.lastHit = now
			for i := range k.scores {
				k.scores[i] = 0
			}
			detections = append(detections, Detection{Keyword: k.Name, Score: score})
		}
	}
	return detections, nil
}

// Reset clears all pipeline buffers and per-keyword score windows, used
// after a pause/resume cycle so stale state can't trigger a detection.
func (d *Detector) Reset() {
	d.melBuffer = d.melBuffer[:0]
	for i := range d.embedBuffer {
		d.embedBuffer[i] = 0
	}
	d.audioRem = d.audioRem[:0]
	for _, k := range d.keywords {
		for i := range k.scores {
			k.scores[i] = 0
		}
		k.scoreAt = 0
	}
}
