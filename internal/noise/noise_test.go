package noise

import "testing"

func TestProcessDisabledIsNoOp(t *testing.T) {
	st0, st1 := &fakeDenoiser{gain: 0}, &fakeDenoiser{gain: 0}
	c := newCanceller(st0, st1)

	buf := constantFrame(1.0)
	c.Process(buf)

	for i, v := range buf {
		if v != 1.0 {
			t.Fatalf("sample %d: got %v, want 1.0 (disabled should be no-op)", i, v)
		}
	}
}

func TestProcessFullSuppressionAppliesDenoisedSignal(t *testing.T) {
	c := newCanceller(&fakeDenoiser{gain: 0}, &fakeDenoiser{gain: 0})
	c.SetEnabled(true)
	c.SetLevel(1.0)

	buf := constantFrame(1.0)
	c.Process(buf)

	for i, v := range buf {
		if v != 0 {
			t.Fatalf("sample %d: got %v, want 0 (fully denoised to silence)", i, v)
		}
	}
}

func TestProcessBlendsPartialLevel(t *testing.T) {
	c := newCanceller(&fakeDenoiser{gain: 0}, &fakeDenoiser{gain: 0})
	c.SetEnabled(true)
	c.SetLevel(0.25)

	buf := constantFrame(1.0)
	c.Process(buf)

	want := float32(0.75) // dry*(1-0.25) + denoised(0)*0.25
	for i, v := range buf {
		if v != want {
			t.Fatalf("sample %d: got %v, want %v", i, v, want)
		}
	}
}

func TestSetLevelClampsToRange(t *testing.T) {
	c := newCanceller(&fakeDenoiser{}, &fakeDenoiser{})
	c.SetLevel(5)
	if c.level != 1 {
		t.Errorf("level: got %v, want clamped to 1", c.level)
	}
	c.SetLevel(-5)
	if c.level != 0 {
		t.Errorf("level: got %v, want clamped to 0", c.level)
	}
}

func TestProcessIgnoresWrongSizedBuffer(t *testing.T) {
	c := newCanceller(&fakeDenoiser{gain: 0}, &fakeDenoiser{gain: 0})
	c.SetEnabled(true)
	c.SetLevel(1.0)

	buf := []float32{1, 2, 3}
	c.Process(buf)
	if buf[0] != 1 || buf[1] != 2 || buf[2] != 3 {
		t.Error("expected wrong-sized buffer to be left untouched")
	}
}

func TestDestroyReleasesBothStates(t *testing.T) {
	st0, st1 := &fakeDenoiser{}, &fakeDenoiser{}
	c := newCanceller(st0, st1)
	c.Destroy()
	if !st0.destroyed || !st1.destroyed {
		t.Error("expected both states destroyed")
	}
}

func TestEnabledReflectsSetEnabled(t *testing.T) {
	c := newCanceller(&fakeDenoiser{}, &fakeDenoiser{})
	if c.Enabled() {
		t.Error("expected disabled by default")
	}
	c.SetEnabled(true)
	if !c.Enabled() {
		t.Error("expected enabled after SetEnabled(true)")
	}
}

type fakeDenoiser struct {
	destroyed bool
	gain      float32 // multiplies samples to simulate "denoising"
}

func (f *fakeDenoiser) ProcessFrame(buf []float32) float32 {
	for i := range buf {
		buf[i] *= f.gain
	}
	return 0
}

func (f *fakeDenoiser) Destroy() { f.destroyed = true }

func constantFrame(v float32) []float32 {
	buf := make([]float32, FrameSize)
	for i := range buf {
		buf[i] = v
	}
	return buf
}
