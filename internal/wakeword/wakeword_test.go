package wakeword

import (
	"testing"
	"time"
)

// fakeRunner returns a fixed output tensor regardless of input, sized to
// whatever the caller configures so it can stand in for melspec, embed, or
// a keyword scoring model.
type fakeRunner struct {
	output []float32
	calls  int
}

func (f *fakeRunner) Run(input []float32) ([]float32, error) {
	f.calls++
	return f.output, nil
}

func constantMelOutput() []float32 {
	return make([]float32, nMelFrames*melBins) // all zeros -> constant embedding input
}

func constantEmbedOutput() []float32 {
	return make([]float32, embeddingDim)
}

func framesToFillWindow() int {
	// Each chunk appends nMelFrames mel rows; need melWindow rows to
	// produce the first embedding, then melStep more per subsequent one.
	return (melWindow / nMelFrames) + 1
}

func TestProcessBelowThresholdProducesNoDetections(t *testing.T) {
	melspec := &fakeRunner{output: constantMelOutput()}
	embed := &fakeRunner{output: constantEmbedOutput()}
	kw := &Keyword{Name: "hey_test", Model: &fakeRunner{output: []float32{0.01}}}

	d := New(DefaultConfig(), melspec, embed, []*Keyword{kw})

	chunk := make([]int16, chunkSamples*framesToFillWindow())
	dets, err := d.Process(chunk, time.Now())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("expected no detections, got %v", dets)
	}
}

func TestProcessAboveThresholdFiresDetection(t *testing.T) {
	melspec := &fakeRunner{output: constantMelOutput()}
	embed := &fakeRunner{output: constantEmbedOutput()}
	kw := &Keyword{Name: "hey_test", Model: &fakeRunner{output: []float32{0.9}}}

	d := New(Config{Threshold: 0.5, Cooldown: time.Millisecond}, melspec, embed, []*Keyword{kw})

	chunk := make([]int16, chunkSamples*framesToFillWindow())
	dets, err := d.Process(chunk, time.Now())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(dets) == 0 {
		t.Fatal("expected at least one detection")
	}
	if dets[0].Keyword != "hey_test" {
		t.Errorf("keyword: got %q, want hey_test", dets[0].Keyword)
	}
}

func TestCooldownSuppressesRepeatDetection(t *testing.T) {
	melspec := &fakeRunner{output: constantMelOutput()}
	embed := &fakeRunner{output: constantEmbedOutput()}
	scoreRunner := &fakeRunner{output: []float32{0.9}}
	kw := &Keyword{Name: "hey_test", Model: scoreRunner}

	d := New(Config{Threshold: 0.5, Cooldown: time.Hour}, melspec, embed, []*Keyword{kw})

	chunk := make([]int16, chunkSamples*framesToFillWindow())
	now := time.Now()
	first, err := d.Process(chunk, now)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("expected the first call to detect")
	}

	second, err := d.Process(chunk, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected cooldown to suppress a second detection, got %v", second)
	}
}

func TestMultipleKeywordsScoredIndependently(t *testing.T) {
	melspec := &fakeRunner{output: constantMelOutput()}
	embed := &fakeRunner{output: constantEmbedOutput()}
	hit := &Keyword{Name: "hey_test", Model: &fakeRunner{output: []float32{0.9}}}
	miss := &Keyword{Name: "hey_other", Model: &fakeRunner{output: []float32{0.01}}}

	d := New(DefaultConfig(), melspec, embed, []*Keyword{hit, miss})

	chunk := make([]int16, chunkSamples*framesToFillWindow())
	dets, err := d.Process(chunk, time.Now())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(dets) != 1 || dets[0].Keyword != "hey_test" {
		t.Errorf("expected exactly one detection for hey_test, got %v", dets)
	}
}

func TestResetClearsScoreWindows(t *testing.T) {
	melspec := &fakeRunner{output: constantMelOutput()}
	embed := &fakeRunner{output: constantEmbedOutput()}
	kw := &Keyword{Name: "hey_test", Model: &fakeRunner{output: []float32{0.9}}}
	d := New(Config{Threshold: 0.5, Cooldown: time.Hour}, melspec, embed, []*Keyword{kw})

	chunk := make([]int16, chunkSamples*framesToFillWindow())
	d.Process(chunk, time.Now())
	d.Reset()

	for _, s := range kw.scores {
		if s != 0 {
			t.Error("expected Reset to zero the score window")
		}
	}
	if kw.lastHit.IsZero() {
		// lastHit is intentionally NOT cleared by Reset (cooldown should
		// still apply across a pause/resume); only pipeline buffers are.
	}
}
