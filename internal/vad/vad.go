// Package vad wraps the Silero ONNX voice activity model with the
// frame-hysteresis bookkeeping needed to turn per-frame speech probabilities
// into start/end-of-utterance events for the session state machine.
//
// The Silero model itself outputs a continuous speech probability per
// window; it has no notion of "utterance" or minimum duration. This package
// layers that on top: a run of consecutive speech-positive frames lasting at
// least MinSpeechDurationMs flips the detector into the speaking state, and a
// run of consecutive silence frames lasting at least MinSilenceDurationMs
// flips it back out and emits end_of_utterance.
package vad

import (
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"
)

const (
	// DefaultThreshold is the Silero speech-probability cutoff.
	DefaultThreshold = float32(0.5)

	// DefaultMinSpeechDurationMs is how long speech must persist before the
	// detector reports speech_start (200 ms debounce on entry).
	DefaultMinSpeechDurationMs = 200

	// DefaultMinSilenceDurationMs is how long silence must persist before
	// the detector reports end_of_utterance. Configurable per session via
	// listen.silence_timeout_ms.
	DefaultMinSilenceDurationMs = 600

	// DefaultSpeechPadMs pads the reported speech region on either side,
	// passed straight through to the Silero detector.
	DefaultSpeechPadMs = 100
)

// Event is emitted by Process when a state transition occurs.
type Event int

const (
	// NoEvent means no state transition happened on this frame.
	NoEvent Event = iota
	// SpeechStart means the debounced speech state was just entered.
	SpeechStart
	// EndOfUtterance means the debounced silence state was just entered
	// after a completed utterance — the signal to stop STT streaming.
	EndOfUtterance
)

// Config holds the listen.* VAD settings named in spec.md §4.4.
type Config struct {
	ModelPath            string
	SampleRate           int
	Threshold            float32
	MinSpeechDurationMs  int
	MinSilenceDurationMs int
	SpeechPadMs          int
}

// DefaultConfig returns the documented defaults for a given model path.
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath:            modelPath,
		SampleRate:           16000,
		Threshold:            DefaultThreshold,
		MinSpeechDurationMs:  DefaultMinSpeechDurationMs,
		MinSilenceDurationMs: DefaultMinSilenceDurationMs,
		SpeechPadMs:          DefaultSpeechPadMs,
	}
}

// speechDetector is the subset of *speech.Detector that VAD depends on.
// Extracted as an interface so tests can substitute a fake without loading
// an ONNX model.
type speechDetector interface {
	Detect(pcm []float32) ([]speech.Segment, error)
	Reset() error
	Destroy() error
}

// VAD is a single-stream voice activity detector backed by a Silero ONNX
// model, debounced into speaking/silent states. Not safe to share across
// concurrent streams — one instance per session.
type VAD struct {
	mu       sync.Mutex
	detector speechDetector
	cfg      Config
	frameMs  int

	enabled  bool
	speaking bool

	speechFrames  int
	silenceFrames int

	minSpeechFrames  int
	minSilenceFrames int
}

// New constructs a VAD from cfg, loading the Silero ONNX model at
// cfg.ModelPath. frameMs is the duration in milliseconds of each frame
// passed to Process (the pipeline's fixed 60 ms cadence).
func New(cfg Config, frameMs int) (*VAD, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("vad: ModelPath is required")
	}
	if frameMs <= 0 {
		return nil, fmt.Errorf("vad: frameMs must be positive")
	}

	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: cfg.MinSilenceDurationMs,
		SpeechPadMs:          cfg.SpeechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("vad: create detector: %w", err)
	}

	return newVAD(detector, cfg, frameMs), nil
}

// newVAD builds a VAD around any speechDetector implementation. Used by New
// with a real Silero detector, and by tests with a fake one.
func newVAD(detector speechDetector, cfg Config, frameMs int) *VAD {
	return &VAD{
		detector:         detector,
		cfg:              cfg,
		frameMs:          frameMs,
		enabled:          true,
		minSpeechFrames:  ceilDiv(cfg.MinSpeechDurationMs, frameMs),
		minSilenceFrames: ceilDiv(cfg.MinSilenceDurationMs, frameMs),
	}
}

// ceilDiv returns the ceiling of a/b for positive b, with a floor of 1 frame.
func ceilDiv(a, b int) int {
	if a <= 0 {
		return 1
	}
	n := (a + b - 1) / b
	if n < 1 {
		return 1
	}
	return n
}

// SetEnabled enables or disables the detector. While disabled, Process
// always returns NoEvent and leaves the speaking state unchanged.
func (v *VAD) SetEnabled(enabled bool) {
	v.mu.Lock()
	v.enabled = enabled
	v.mu.Unlock()
}

// Enabled reports whether the detector is active.
func (v *VAD) Enabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enabled
}

// Speaking reports whether the detector is currently in the debounced
// speaking state.
func (v *VAD) Speaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speaking
}

// Process runs one mono float32 PCM frame through the Silero model and
// updates debounce state, returning any state-transition event. frame must
// be sampled at cfg.SampleRate.
func (v *VAD) Process(frame []float32) (Event, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.enabled {
		return NoEvent, nil
	}
	if len(frame) == 0 {
		return NoEvent, nil
	}

	segments, err := v.detector.Detect(frame)
	if err != nil {
		return NoEvent, fmt.Errorf("vad: detect: %w", err)
	}

	isSpeech := frameContainsSpeech(segments)

	if isSpeech {
		v.speechFrames++
		v.silenceFrames = 0
	} else {
		v.silenceFrames++
		v.speechFrames = 0
	}

	switch {
	case !v.speaking && v.speechFrames >= v.minSpeechFrames:
		v.speaking = true
		v.speechFrames = 0
		return SpeechStart, nil
	case v.speaking && v.silenceFrames >= v.minSilenceFrames:
		v.speaking = false
		v.silenceFrames = 0
		return EndOfUtterance, nil
	}

	return NoEvent, nil
}

// frameContainsSpeech reports whether Detect found any speech activity
// within the just-processed chunk. A started-but-not-yet-ended segment
// (SpeechEndAt == 0) still counts as speech for this frame.
func frameContainsSpeech(segments []speech.Segment) bool {
	for _, seg := range segments {
		if seg.SpeechStartAt >= 0 {
			return true
		}
	}
	return false
}

// Reset clears debounce and model state, e.g. between sessions.
func (v *VAD) Reset() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speechFrames = 0
	v.silenceFrames = 0
	v.speaking = false
	return v.detector.Reset()
}

// Close releases the underlying ONNX session. The VAD must not be used
// after Close returns.
func (v *VAD) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.detector.Destroy()
}
