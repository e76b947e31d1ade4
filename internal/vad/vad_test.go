package vad

import (
	"testing"

	"github.com/streamer45/silero-vad-go/speech"
)

// fakeDetector lets tests drive VAD's debounce logic without an ONNX model.
type fakeDetector struct {
	speechQueue []bool // next return value per Detect call
	resetCalls  int
	destroyCalls int
}

func (f *fakeDetector) Detect(pcm []float32) ([]speech.Segment, error) {
	isSpeech := false
	if len(f.speechQueue) > 0 {
		isSpeech = f.speechQueue[0]
		f.speechQueue = f.speechQueue[1:]
	}
	if isSpeech {
		return []speech.Segment{{SpeechStartAt: 0}}, nil
	}
	return nil, nil
}

func (f *fakeDetector) Reset() error {
	f.resetCalls++
	return nil
}

func (f *fakeDetector) Destroy() error {
	f.destroyCalls++
	return nil
}

func testConfig() Config {
	return Config{
		ModelPath:            "unused",
		SampleRate:           16000,
		Threshold:            DefaultThreshold,
		MinSpeechDurationMs:  200, // 4 frames @ 60ms - ceilDiv rounds up: 200/60=3.33->4
		MinSilenceDurationMs: 600,
		SpeechPadMs:          DefaultSpeechPadMs,
	}
}

func frame() []float32 {
	return make([]float32, 960)
}

func TestNewComputesFrameCounts(t *testing.T) {
	v := newVAD(&fakeDetector{}, testConfig(), 60)
	if v.minSpeechFrames != 4 { // ceil(200/60) = 4
		t.Errorf("minSpeechFrames: got %d, want 4", v.minSpeechFrames)
	}
	if v.minSilenceFrames != 10 { // ceil(600/60) = 10
		t.Errorf("minSilenceFrames: got %d, want 10", v.minSilenceFrames)
	}
}

func TestProcessEmitsSpeechStartAfterDebounce(t *testing.T) {
	fd := &fakeDetector{speechQueue: []bool{true, true, true, true}}
	v := newVAD(fd, testConfig(), 60)

	var lastEvent Event
	for i := 0; i < 4; i++ {
		ev, err := v.Process(frame())
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		lastEvent = ev
	}
	if lastEvent != SpeechStart {
		t.Errorf("expected SpeechStart on 4th consecutive speech frame, got %v", lastEvent)
	}
	if !v.Speaking() {
		t.Error("expected Speaking() true after SpeechStart")
	}
}

func TestProcessNoEventBeforeDebounceThreshold(t *testing.T) {
	fd := &fakeDetector{speechQueue: []bool{true, true, true}}
	v := newVAD(fd, testConfig(), 60)

	for i := 0; i < 3; i++ {
		ev, _ := v.Process(frame())
		if ev != NoEvent {
			t.Errorf("frame %d: expected NoEvent before debounce threshold, got %v", i, ev)
		}
	}
	if v.Speaking() {
		t.Error("should not be speaking before debounce threshold reached")
	}
}

func TestProcessEmitsEndOfUtteranceAfterSilence(t *testing.T) {
	speechFrames := make([]bool, 4)
	for i := range speechFrames {
		speechFrames[i] = true
	}
	silenceFrames := make([]bool, 10) // all false, silenceQueue defaults zero-value false
	fd := &fakeDetector{speechQueue: append(append([]bool{}, speechFrames...), silenceFrames...)}
	v := newVAD(fd, testConfig(), 60)

	for i := 0; i < 4; i++ {
		v.Process(frame())
	}
	if !v.Speaking() {
		t.Fatal("expected speaking after initial debounced speech run")
	}

	var lastEvent Event
	for i := 0; i < 10; i++ {
		ev, _ := v.Process(frame())
		lastEvent = ev
	}
	if lastEvent != EndOfUtterance {
		t.Errorf("expected EndOfUtterance after sustained silence, got %v", lastEvent)
	}
	if v.Speaking() {
		t.Error("expected Speaking() false after EndOfUtterance")
	}
}

func TestProcessIntermittentSpeechResetsSilenceCounter(t *testing.T) {
	fd := &fakeDetector{speechQueue: []bool{true, true, true, true}}
	v := newVAD(fd, testConfig(), 60)
	for i := 0; i < 4; i++ {
		v.Process(frame())
	}
	if !v.Speaking() {
		t.Fatal("setup: expected speaking")
	}

	// A handful of silence frames, not enough to cross minSilenceFrames (10).
	for i := 0; i < 5; i++ {
		fd.speechQueue = append(fd.speechQueue, false)
	}
	for i := 0; i < 5; i++ {
		ev, _ := v.Process(frame())
		if ev != NoEvent {
			t.Errorf("unexpected event mid-silence-run: %v", ev)
		}
	}
	if !v.Speaking() {
		t.Error("should still be speaking before silence threshold reached")
	}

	// A speech frame resets the silence counter.
	fd.speechQueue = append(fd.speechQueue, true)
	ev, _ := v.Process(frame())
	if ev != NoEvent {
		t.Errorf("expected NoEvent on speech frame while already speaking, got %v", ev)
	}
}

func TestDisabledSkipsDetection(t *testing.T) {
	fd := &fakeDetector{speechQueue: []bool{true, true, true, true, true}}
	v := newVAD(fd, testConfig(), 60)
	v.SetEnabled(false)

	ev, err := v.Process(frame())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if ev != NoEvent {
		t.Errorf("disabled VAD should always return NoEvent, got %v", ev)
	}
	if len(fd.speechQueue) != 5 {
		t.Error("disabled VAD should not consume the detector at all")
	}
}

func TestProcessEmptyFrame(t *testing.T) {
	v := newVAD(&fakeDetector{}, testConfig(), 60)
	ev, err := v.Process(nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if ev != NoEvent {
		t.Errorf("empty frame should return NoEvent, got %v", ev)
	}
}

func TestResetClearsStateAndCallsDetectorReset(t *testing.T) {
	fd := &fakeDetector{speechQueue: []bool{true, true, true, true}}
	v := newVAD(fd, testConfig(), 60)
	for i := 0; i < 4; i++ {
		v.Process(frame())
	}
	if !v.Speaking() {
		t.Fatal("setup: expected speaking")
	}

	if err := v.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if v.Speaking() {
		t.Error("expected Speaking() false after Reset")
	}
	if fd.resetCalls != 1 {
		t.Errorf("expected detector Reset called once, got %d", fd.resetCalls)
	}
}

func TestCloseCallsDetectorDestroy(t *testing.T) {
	fd := &fakeDetector{}
	v := newVAD(fd, testConfig(), 60)
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fd.destroyCalls != 1 {
		t.Errorf("expected detector Destroy called once, got %d", fd.destroyCalls)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/models/silero_vad.onnx")
	if cfg.ModelPath != "/models/silero_vad.onnx" {
		t.Errorf("ModelPath: got %q", cfg.ModelPath)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate: got %d, want 16000", cfg.SampleRate)
	}
	if cfg.MinSpeechDurationMs != DefaultMinSpeechDurationMs {
		t.Errorf("MinSpeechDurationMs: got %d", cfg.MinSpeechDurationMs)
	}
}
