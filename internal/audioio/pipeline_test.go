package audioio

import (
	"testing"
	"time"

	"github.com/xiaoclient/voicecore/internal/aec"
	"github.com/xiaoclient/voicecore/internal/agc"
	"github.com/xiaoclient/voicecore/internal/audio"
	"github.com/xiaoclient/voicecore/internal/codec/opus"
	"github.com/xiaoclient/voicecore/internal/highpass"
	"github.com/xiaoclient/voicecore/internal/jitter"
	"github.com/xiaoclient/voicecore/internal/noisegate"
)

func testDeps() Dependencies {
	dec, err := opus.NewDecoder()
	if err != nil {
		panic(err) // libopus is a hard runtime dependency throughout this package
	}
	return Dependencies{
		AEC:      aec.New(audio.FrameSamples, audio.SampleRate, aec.DefaultConfig()),
		Gate:     noisegate.New(),
		Highpass: highpass.New(float64(audio.SampleRate), 80, 0.707),
		AGC:      agc.New(),
		Jitter:   jitter.New(3),
		RefRing:  audio.NewRefRing(),
		Decoder:  dec,
	}
}

func TestFloat32Int16RoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1}
	ints := make([]int16, len(in))
	float32ToInt16(in, ints)

	out := make([]float32, len(in))
	int16ToFloat32(ints, out)

	for i := range in {
		if diff := in[i] - out[i]; diff > 0.001 || diff < -0.001 {
			t.Errorf("sample %d: got %f, want ~%f", i, out[i], in[i])
		}
	}
}

func TestPullPipelineFramesPassthroughWhenRatesMatch(t *testing.T) {
	e := New(-1, -1, testDeps())
	deviceInt16 := make([]int16, audio.FrameSamples)
	for i := range deviceInt16 {
		deviceInt16[i] = int16(i)
	}
	scratch := make([]int16, audio.FrameSamples)

	frames := e.pullPipelineFrames(nil, deviceInt16, scratch)
	if len(frames) != 1 {
		t.Fatalf("expected exactly one passthrough frame, got %d", len(frames))
	}
	if frames[0][10] != 10 {
		t.Errorf("expected passthrough data to be copied verbatim")
	}
}

func TestPullPipelineFramesRejectsMismatchedSizeWithoutResampler(t *testing.T) {
	e := New(-1, -1, testDeps())
	deviceInt16 := make([]int16, audio.FrameSamples+10)
	scratch := make([]int16, audio.FrameSamples)

	frames := e.pullPipelineFrames(nil, deviceInt16, scratch)
	if frames != nil {
		t.Error("expected no frames when device block size doesn't match and no resampler is configured")
	}
}

func TestProcessCaptureFrameSkipsEncodeWhileNotTransmitting(t *testing.T) {
	deps := testDeps()
	e := New(-1, -1, deps)
	// transmitting defaults to false; Encoder/VAD/Wakeword stay nil and
	// must never be dereferenced on this path.

	buf := make([]float32, audio.FrameSamples)
	pcm := make([]int16, audio.FrameSamples)
	ref := make([]float32, audio.FrameSamples)

	e.processCaptureFrame(buf, pcm, ref, time.Now())

	select {
	case <-e.EncodedOut:
		t.Error("expected no encoded packet while not transmitting")
	default:
	}
}

func TestSetTransmittingTogglesFlag(t *testing.T) {
	e := New(-1, -1, testDeps())
	if e.transmitting.Load() {
		t.Fatal("expected transmitting to start false")
	}
	e.SetTransmitting(true)
	if !e.transmitting.Load() {
		t.Error("expected transmitting to be true after SetTransmitting(true)")
	}
	e.SetTransmitting(false)
	if e.transmitting.Load() {
		t.Error("expected transmitting to be false after SetTransmitting(false)")
	}
}

func TestPushDeviceBlockPassthroughWhenRatesMatch(t *testing.T) {
	e := New(-1, -1, testDeps())
	mixed := make([]int16, audio.FrameSamples)
	for i := range mixed {
		mixed[i] = int16(i)
	}
	deviceInt16 := make([]int16, audio.FrameSamples)
	deviceBuf := make([]float32, audio.FrameSamples)

	ok := e.pushDeviceBlock(nil, mixed, deviceInt16, deviceBuf)
	if !ok {
		t.Fatal("expected passthrough to succeed when sizes match")
	}
	if deviceBuf[10] == 0 && mixed[10] != 0 {
		t.Error("expected device buffer to reflect mixed samples")
	}
}

func TestDrainInboundPushesIntoJitterBuffer(t *testing.T) {
	e := New(-1, -1, testDeps())
	e.PlaybackIn <- InboundFrame{Seq: 0, OpusData: []byte{1, 2, 3}}
	e.PlaybackIn <- InboundFrame{Seq: 1, OpusData: []byte{4, 5, 6}}

	e.drainInbound()

	// Depth is 3; only 2 frames arrived, so the stream hasn't primed yet.
	if got := e.deps.Jitter.ActiveSenders(); got != 0 {
		t.Errorf("expected 0 active (primed) senders before reaching depth, got %d", got)
	}
}

func TestMixNotificationAddsFrameWhenAvailable(t *testing.T) {
	notifyCh := make(chan []float32, 1)
	deps := testDeps()
	deps.NotifyOut = notifyCh
	e := New(-1, -1, deps)

	tone := make([]float32, audio.FrameSamples)
	tone[0] = 0.5
	notifyCh <- tone

	mixed := make([]int16, audio.FrameSamples)
	scratch := make([]float32, audio.FrameSamples)
	e.mixNotification(mixed, scratch)

	if mixed[0] == 0 {
		t.Error("expected the notification tone to be mixed into silence")
	}
}

func TestPlaybackLossRateTracksConcealedFrames(t *testing.T) {
	e := New(-1, -1, testDeps())
	e.PlaybackIn <- InboundFrame{Seq: 0, OpusData: []byte{1}}
	e.PlaybackIn <- InboundFrame{Seq: 1, OpusData: []byte{2}}
	e.PlaybackIn <- InboundFrame{Seq: 2, OpusData: nil}
	e.drainInbound()

	// Depth is 3, so the buffer primes after the third push; draining it
	// takes one Pop() per queued frame (one of which carries the nil,
	// lost-packet marker for seq 2).
	mixed := make([]int16, audio.FrameSamples)
	for i := 0; i < 3; i++ {
		e.decodeAndMix(mixed)
	}

	if rate := e.PlaybackLossRate(); rate <= 0 {
		t.Errorf("expected a nonzero loss rate after a missing frame, got %f", rate)
	}
	// A second read with no intervening frames resets to zero.
	if rate := e.PlaybackLossRate(); rate != 0 {
		t.Errorf("expected loss rate to reset after reading, got %f", rate)
	}
}

func TestJitterMsZeroOnFirstArrival(t *testing.T) {
	e := New(-1, -1, testDeps())
	if got := e.JitterMs(); got != 0 {
		t.Errorf("expected 0 jitter before any frames arrive, got %f", got)
	}
	e.PlaybackIn <- InboundFrame{Seq: 0, OpusData: []byte{1}}
	e.drainInbound()
	if got := e.JitterMs(); got != 0 {
		t.Errorf("expected 0 jitter after the first arrival establishes a baseline, got %f", got)
	}
}

func TestMixNotificationNoOpWithoutChannel(t *testing.T) {
	e := New(-1, -1, testDeps()) // NotifyOut left nil
	mixed := make([]int16, audio.FrameSamples)
	scratch := make([]float32, audio.FrameSamples)

	e.mixNotification(mixed, scratch) // must not panic
	for _, s := range mixed {
		if s != 0 {
			t.Error("expected mixed buffer to remain silent with no notify channel")
		}
	}
}
