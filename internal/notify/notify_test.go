package notify

import (
	"testing"
	"time"

	"github.com/xiaoclient/voicecore/internal/audio"
)

func drain(t *testing.T, ch <-chan []float32, timeout time.Duration) [][]float32 {
	t.Helper()
	var got [][]float32
	deadline := time.After(timeout)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, f)
		case <-deadline:
			return got
		}
	}
}

func TestPlayConnectEmitsFramesOfCorrectSize(t *testing.T) {
	out := make(chan []float32, 64)
	p := NewPlayer(out)
	stop := make(chan struct{})

	p.Play(SoundConnect, stop)

	frames := drain(t, out, 200*time.Millisecond)
	if len(frames) == 0 {
		t.Fatal("expected at least one frame")
	}
	for _, f := range frames {
		if len(f) != audio.FrameSamples {
			t.Errorf("frame size: got %d, want %d", len(f), audio.FrameSamples)
		}
	}
}

func TestPlayUnknownSoundEmitsNothing(t *testing.T) {
	out := make(chan []float32, 8)
	p := NewPlayer(out)
	stop := make(chan struct{})

	p.Play(Sound(999), stop)

	frames := drain(t, out, 50*time.Millisecond)
	if len(frames) != 0 {
		t.Errorf("expected no frames for an unknown sound, got %d", len(frames))
	}
}

func TestPlayStopsWhenStopClosed(t *testing.T) {
	out := make(chan []float32) // unbuffered so Play must respect stop
	p := NewPlayer(out)
	stop := make(chan struct{})
	close(stop)

	done := make(chan struct{})
	go func() {
		p.Play(SoundDisconnect, stop)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Play goroutine did not return promptly after stop was closed")
	}
}

func TestSineToneAppliesFadeEnvelope(t *testing.T) {
	frames := sineTone(440, 80)
	if len(frames) == 0 {
		t.Fatal("expected at least one frame")
	}
	if frames[0][0] != 0 {
		t.Errorf("expected the first sample to start at zero amplitude (fade-in), got %f", frames[0][0])
	}
}

func TestGenerateFramesCoversAllNamedSounds(t *testing.T) {
	for _, s := range []Sound{SoundConnect, SoundDisconnect, SoundWakeDetected, SoundMute, SoundUnmute} {
		if frames := generateFrames(s); len(frames) == 0 {
			t.Errorf("sound %d produced no frames", s)
		}
	}
}
