package audio

import (
	"testing"
	"time"
)

func TestFrameLen(t *testing.T) {
	f := Frame{SampleRate: 16000, Channels: 1}
	if got, want := f.Len(), 960; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
}

func TestRefRingNearest(t *testing.T) {
	r := NewRefRing()
	base := time.Now()

	for i := 0; i < 5; i++ {
		r.Push(ReferenceFrame{
			Frame:       Frame{Seq: uint64(i)},
			PresentedAt: base.Add(time.Duration(i) * 60 * time.Millisecond),
		})
	}

	target := base.Add(125 * time.Millisecond) // closest to i=2 (120ms)
	got, ok := r.Nearest(target, 200*time.Millisecond)
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Seq != 2 {
		t.Errorf("Nearest seq = %d, want 2", got.Seq)
	}
}

func TestRefRingNearestTooOld(t *testing.T) {
	r := NewRefRing()
	base := time.Now()
	r.Push(ReferenceFrame{Frame: Frame{Seq: 1}, PresentedAt: base})

	_, ok := r.Nearest(base.Add(time.Second), 200*time.Millisecond)
	if ok {
		t.Error("expected no match for a frame older than maxAge")
	}
}

func TestRefRingReset(t *testing.T) {
	r := NewRefRing()
	r.Push(ReferenceFrame{Frame: Frame{Seq: 1}, PresentedAt: time.Now()})
	r.Reset()
	if _, ok := r.Nearest(time.Now(), time.Second); ok {
		t.Error("expected empty ring after Reset")
	}
}
