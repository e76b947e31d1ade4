// Package audio defines the frame types shared across the capture,
// playback, and processing stages of the pipeline.
package audio

import "time"

// SampleRate is the pipeline-internal rate every processing stage operates
// at. Device-rate audio is converted to and from this rate at the edges by
// internal/resample.
const SampleRate = 16000

// Channels is the pipeline's fixed channel count. The device layer may
// capture/play stereo; internal/audioio downmixes to mono before frames
// enter the chain.
const Channels = 1

// FrameDurationMs is the fixed frame cadence the whole chain budgets around.
const FrameDurationMs = 60

// FrameSamples is the number of samples in one pipeline frame
// (16000 * 0.06 = 960).
const FrameSamples = SampleRate * FrameDurationMs / 1000

// Frame is one 60 ms capture or playback frame of 16-bit PCM.
type Frame struct {
	Seq        uint64
	SampleRate int
	Channels   int
	PCM        []int16
	CapturedAt time.Time
}

// Len reports the expected sample count for this frame's rate/channels.
func (f Frame) Len() int {
	return f.SampleRate * FrameDurationMs / 1000 * f.Channels
}

// ReferenceFrame is a decoded-and-mixed playback frame retained as the AEC
// far-end reference, tagged with the presentation time it was (or will be)
// played at.
type ReferenceFrame struct {
	Frame
	PresentedAt time.Time
}
