package audioio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/xiaoclient/voicecore/internal/aec"
	"github.com/xiaoclient/voicecore/internal/agc"
	"github.com/xiaoclient/voicecore/internal/audio"
	"github.com/xiaoclient/voicecore/internal/codec/opus"
	"github.com/xiaoclient/voicecore/internal/errs"
	"github.com/xiaoclient/voicecore/internal/highpass"
	"github.com/xiaoclient/voicecore/internal/jitter"
	"github.com/xiaoclient/voicecore/internal/metrics"
	"github.com/xiaoclient/voicecore/internal/noise"
	"github.com/xiaoclient/voicecore/internal/noisegate"
	"github.com/xiaoclient/voicecore/internal/vad"
	"github.com/xiaoclient/voicecore/internal/wakeword"
)

// queueDepth is the bounded capacity of every cross-stage channel, per
// spec.md §5 (≤8 frames of 60 ms audio, ~480 ms worst case).
const queueDepth = 8

// refMaxAge is how far back the AEC far-end reference lookup will accept a
// played frame before treating it as absent (spec.md §4.3 "dropped when
// older than max_delay").
const refMaxAge = 500 * time.Millisecond

// playbackSenderID is the single sequence-id stream this client decodes.
// The server speaks one TTS stream at a time; the multi-sender jitter
// buffer is reused unmodified rather than forked into a single-stream
// variant (see DESIGN.md).
const playbackSenderID = 0

// InboundFrame is one arrived Opus packet for the playback stream, tagged
// with its sequence number so internal/jitter can detect gaps.
type InboundFrame struct {
	Seq      uint16
	OpusData []byte
}

// Dependencies bundles the already-constructed processing stages the
// Engine orchestrates. AEC, Gate, Highpass, AGC, Decoder and Jitter are
// required, and Encoder is required once transmitting is on. Wakeword is
// nil when wake-word detection is disabled (spec.md §9 config input);
// Noise, VAD, NotifyOut, RefRing, Metrics and Logger may also be nil, and
// the step that uses them is then skipped.
type Dependencies struct {
	AEC      *aec.AEC
	Gate     *noisegate.Gate
	Noise    *noise.Canceller
	Highpass *highpass.Filter
	AGC      *agc.AGC
	VAD      *vad.VAD
	Wakeword *wakeword.Detector

	Encoder *opus.Encoder
	Decoder *opus.Decoder

	// NotifyOut is the channel internal/notify.Player writes synthesized
	// chime frames to (built by the caller via notify.NewPlayer(ch) so the
	// caller retains the Player for triggering chimes on state transitions;
	// the Engine only drains and mixes it into the playback buffer).
	NotifyOut <-chan []float32

	Jitter  *jitter.Buffer
	RefRing *audio.RefRing

	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Engine owns the capture and playback device streams and the processing
// chain between them, grounded on the teacher's AudioEngine (root audio.go)
// but reduced from multi-sender voice chat to a single server-peer TTS
// stream, and re-sized to spec.md §5's bounded-queue budget.
type Engine struct {
	deps Dependencies

	inputDeviceID  int
	outputDeviceID int

	captureStream  paStream
	playbackStream paStream

	running      atomic.Bool
	transmitting atomic.Bool // gates VAD and encode+send; wake-word still runs while false

	framesPlayed atomic.Uint64
	framesLost   atomic.Uint64

	jitterMu    sync.Mutex
	lastArrival time.Time
	emaJitterMs float64

	wg sync.WaitGroup

	// EncodedOut carries Opus packets ready for the transport layer.
	EncodedOut chan []byte
	// PlaybackIn carries arrived TTS packets from the transport layer.
	PlaybackIn chan InboundFrame
	// WakeDetections fires whenever the wake-word cascade crosses threshold,
	// regardless of transmitting state.
	WakeDetections chan wakeword.Detection
	// VADEvents fires speech-start/end-of-utterance transitions while
	// transmitting.
	VADEvents chan vad.Event

	notifyStop chan struct{}
}

// New constructs an Engine bound to the given input/output device indices
// (-1 selects the system default, matching internal/config's defaults).
func New(inputDeviceID, outputDeviceID int, deps Dependencies) *Engine {
	return &Engine{
		deps:           deps,
		inputDeviceID:  inputDeviceID,
		outputDeviceID: outputDeviceID,
		EncodedOut:     make(chan []byte, queueDepth),
		PlaybackIn:     make(chan InboundFrame, queueDepth),
		WakeDetections: make(chan wakeword.Detection, queueDepth),
		VADEvents:      make(chan vad.Event, queueDepth),
		notifyStop:     make(chan struct{}),
	}
}

// SetTransmitting enables or disables encoding and sending captured audio.
// The full capture chain (AEC/noise/AGC/wake-word) keeps running regardless,
// so wake-word detection works while idle and the AEC/AGC state stays warm
// for when transmission resumes.
func (e *Engine) SetTransmitting(on bool) {
	e.transmitting.Store(on)
}

// SetJitterDepth updates the playback jitter buffer's priming depth, driven
// by the caller's internal/adapt feedback loop. Safe to call concurrently
// with the playback loop; takes effect the next time a stream (re)primes.
func (e *Engine) SetJitterDepth(depth int) {
	e.deps.Jitter.SetDepth(depth)
}

// PlaybackLossRate returns the fraction of played frames that were concealed
// (PLC/FEC) or skipped since the last call, then resets the counters. A
// zero denominator (no frames played yet) reports 0.
func (e *Engine) PlaybackLossRate() float64 {
	played := e.framesPlayed.Swap(0)
	lost := e.framesLost.Swap(0)
	if played == 0 {
		return 0
	}
	return float64(lost) / float64(played)
}

// recordArrival updates an EWMA of inter-arrival jitter (deviation from the
// expected 60 ms send cadence) each time a packet reaches the playback
// queue, feeding internal/adapt's depth calculation with a real measurement
// rather than a derived guess.
func (e *Engine) recordArrival(now time.Time) {
	e.jitterMu.Lock()
	defer e.jitterMu.Unlock()

	if e.lastArrival.IsZero() {
		e.lastArrival = now
		return
	}
	interval := now.Sub(e.lastArrival).Seconds() * 1000
	e.lastArrival = now

	deviation := interval - float64(audio.FrameDurationMs)
	if deviation < 0 {
		deviation = -deviation
	}
	const alpha = 0.2
	e.emaJitterMs = alpha*deviation + (1-alpha)*e.emaJitterMs
}

// JitterMs returns the current smoothed inter-arrival jitter estimate, in
// milliseconds.
func (e *Engine) JitterMs() float64 {
	e.jitterMu.Lock()
	defer e.jitterMu.Unlock()
	return e.emaJitterMs
}

// Start opens the capture and playback device streams and begins the
// processing loops. Matches internal/resource.Component's Start signature.
func (e *Engine) Start(ctx context.Context) error {
	if e.running.Load() {
		return nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("%w: enumerate devices: %v", errs.ErrAudioDeviceUnavailable, err)
	}

	inputDev, err := resolveDevice(devices, e.inputDeviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return fmt.Errorf("%w: resolve input device: %v", errs.ErrAudioDeviceUnavailable, err)
	}
	outputDev, err := resolveDevice(devices, e.outputDeviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return fmt.Errorf("%w: resolve output device: %v", errs.ErrAudioDeviceUnavailable, err)
	}

	inRate := int(inputDev.DefaultSampleRate)
	outRate := int(outputDev.DefaultSampleRate)
	inBlock := inRate * audio.FrameDurationMs / 1000
	outBlock := outRate * audio.FrameDurationMs / 1000

	captureBuf := make([]float32, inBlock)
	captureParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDev,
			Channels: audio.Channels,
			Latency:  inputDev.DefaultLowInputLatency,
		},
		SampleRate:      float64(inRate),
		FramesPerBuffer: inBlock,
	}
	captureStream, err := portaudio.OpenStream(captureParams, captureBuf)
	if err != nil {
		return fmt.Errorf("%w: open capture stream: %v", errs.ErrAudioDeviceUnavailable, err)
	}

	playbackBuf := make([]float32, outBlock)
	playbackParams := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outputDev,
			Channels: audio.Channels,
			Latency:  outputDev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(outRate),
		FramesPerBuffer: outBlock,
	}
	playbackStream, err := portaudio.OpenStream(playbackParams, playbackBuf)
	if err != nil {
		captureStream.Close()
		return fmt.Errorf("%w: open playback stream: %v", errs.ErrAudioDeviceUnavailable, err)
	}

	captureResampler, err := newCaptureResampler(inRate)
	if err != nil {
		captureStream.Close()
		playbackStream.Close()
		return fmt.Errorf("audioio: build capture resampler: %w", err)
	}
	playbackResampler, err := newPlaybackResampler(outRate)
	if err != nil {
		captureStream.Close()
		playbackStream.Close()
		return fmt.Errorf("audioio: build playback resampler: %w", err)
	}

	if err := captureStream.Start(); err != nil {
		captureStream.Close()
		playbackStream.Close()
		return fmt.Errorf("%w: start capture: %v", errs.ErrAudioDeviceUnavailable, err)
	}
	if err := playbackStream.Start(); err != nil {
		captureStream.Stop()
		captureStream.Close()
		playbackStream.Close()
		return fmt.Errorf("%w: start playback: %v", errs.ErrAudioDeviceUnavailable, err)
	}

	e.captureStream = captureStream
	e.playbackStream = playbackStream
	e.running.Store(true)

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.captureLoop(ctx, captureBuf, captureResampler)
	}()
	go func() {
		defer e.wg.Done()
		e.playbackLoop(ctx, playbackBuf, playbackResampler)
	}()

	if e.deps.Logger != nil {
		e.deps.Logger.Info("audio engine started",
			zap.String("input_device", inputDev.Name), zap.Int("input_rate", inRate),
			zap.String("output_device", outputDev.Name), zap.Int("output_rate", outRate))
	}
	return nil
}

// Stop halts both device streams and waits for the processing loops to
// exit. Sequencing mirrors the teacher's Stop(): stop streams (unblocks any
// in-flight Read/Write) before waiting on the goroutines, then close.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	close(e.notifyStop)

	if e.captureStream != nil {
		e.captureStream.Stop()
	}
	if e.playbackStream != nil {
		e.playbackStream.Stop()
	}

	done := make(chan struct{})
	go func() { e.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if e.captureStream != nil {
		e.captureStream.Close()
		e.captureStream = nil
	}
	if e.playbackStream != nil {
		e.playbackStream.Close()
		e.playbackStream = nil
	}
	return nil
}

func clampFloat32(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}

func float32ToInt16(in []float32, out []int16) {
	for i, s := range in {
		out[i] = int16(clampFloat32(s) * 32767)
	}
}

func int16ToFloat32(in []int16, out []float32) {
	for i, s := range in {
		out[i] = float32(s) / 32768.0
	}
}
