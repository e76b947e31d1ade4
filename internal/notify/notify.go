// Package notify synthesizes short local state-transition chimes (connect,
// disconnect, wake-word detected, mute/unmute) the same way the teacher's
// notification.go does: pre-rendered sine-tone PCM frames pushed onto a
// channel the playback stage mixes in after voice decoding. Kept as an
// audio-pipeline concern rather than a GUI concern since it's decoded and
// mixed by this core's own PCM path (spec.md's Non-goals exclude arbitrary
// media playback, not these fixed cues).
package notify

import (
	"math"

	"github.com/xiaoclient/voicecore/internal/audio"
)

// Sound identifies a chime.
type Sound int

const (
	SoundConnect        Sound = iota // ascending two-tone: C5 -> G5
	SoundDisconnect                  // descending two-tone: G5 -> C5
	SoundWakeDetected                // single high ping: A5
	SoundMute                        // descending tone: C5 -> A4
	SoundUnmute                      // ascending tone: A4 -> C5
)

// volume is the peak amplitude of notification tones in [-1, 1].
const volume = 0.18

// Player renders chimes into fixed-size PCM frames at audio.SampleRate and
// pushes them onto out, dropping frames rather than blocking when out is
// full (a missed chime is harmless; a stalled pipeline is not).
type Player struct {
	out chan<- []float32
}

// NewPlayer wires a Player to the playback stage's notification channel.
func NewPlayer(out chan<- []float32) *Player {
	return &Player{out: out}
}

// Play enqueues sound's frames asynchronously, stopping early if ctx-style
// cancellation isn't needed here — the caller's channel close is the only
// signal, matching the teacher's stopCh-based goroutine.
func (p *Player) Play(sound Sound, stop <-chan struct{}) {
	frames := generateFrames(sound)
	if len(frames) == 0 {
		return
	}
	go func() {
		for _, frame := range frames {
			select {
			case <-stop:
				return
			case p.out <- frame:
			default:
			}
		}
	}()
}

func generateFrames(sound Sound) [][]float32 {
	type tone struct {
		freq int
		dur  int // ms
	}
	var tones []tone
	switch sound {
	case SoundConnect:
		tones = []tone{{523, 80}, {784, 120}}
	case SoundDisconnect:
		tones = []tone{{784, 80}, {523, 120}}
	case SoundWakeDetected:
		tones = []tone{{880, 120}}
	case SoundMute:
		tones = []tone{{523, 80}, {440, 100}}
	case SoundUnmute:
		tones = []tone{{440, 80}, {523, 100}}
	default:
		return nil
	}

	var frames [][]float32
	for _, t := range tones {
		frames = append(frames, sineTone(float64(t.freq), t.dur)...)
	}
	return frames
}

// sineTone renders a single tone with a 5ms linear fade in/out, chunked
// into audio.FrameSamples-sized slices.
func sineTone(freq float64, durationMs int) [][]float32 {
	const sampleRate = audio.SampleRate
	const frameSize = audio.FrameSamples

	totalSamples := sampleRate * durationMs / 1000
	raw := make([]float32, totalSamples)

	fadeLen := sampleRate * 5 / 1000
	if fadeLen > totalSamples/2 {
		fadeLen = totalSamples / 2
	}

	for i := range raw {
		t := float64(i) / float64(sampleRate)
		s := float32(math.Sin(2 * math.Pi * freq * t))

		env := float32(1.0)
		if i < fadeLen {
			env = float32(i) / float32(fadeLen)
		} else if i >= totalSamples-fadeLen {
			env = float32(totalSamples-1-i) / float32(fadeLen)
		}
		raw[i] = s * env * volume
	}

	var frames [][]float32
	for off := 0; off < len(raw); off += frameSize {
		end := off + frameSize
		frame := make([]float32, frameSize)
		if end > len(raw) {
			copy(frame, raw[off:])
		} else {
			copy(frame, raw[off:end])
		}
		frames = append(frames, frame)
	}
	return frames
}
