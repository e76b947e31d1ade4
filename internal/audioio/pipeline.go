package audioio

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiaoclient/voicecore/internal/audio"
	"github.com/xiaoclient/voicecore/internal/resample"
	"github.com/xiaoclient/voicecore/internal/vad"
)

// maxResampleSteps bounds how many times one loop iteration will push into
// a resampler before giving up on producing a frame/block, guarding against
// a misconfigured device rate turning Push/Pull into an infinite loop.
const maxResampleSteps = 8

func newCaptureResampler(deviceRate int) (*resample.Resampler, error) {
	if deviceRate == audio.SampleRate {
		return nil, nil
	}
	return resample.New(deviceRate, audio.SampleRate)
}

func newPlaybackResampler(deviceRate int) (*resample.Resampler, error) {
	if deviceRate == audio.SampleRate {
		return nil, nil
	}
	return resample.New(audio.SampleRate, deviceRate)
}

// captureLoop reads device-rate frames, resamples to the pipeline's fixed
// 16kHz/960-sample cadence, and runs each resulting frame through the
// AEC/noise/AGC/wake-word/VAD chain before encoding and handing it off to
// EncodedOut.
func (e *Engine) captureLoop(ctx context.Context, deviceBuf []float32, rs *resample.Resampler) {
	deviceInt16 := make([]int16, len(deviceBuf))
	pipelineInt16 := make([]int16, audio.FrameSamples)
	pipelineFloat := make([]float32, audio.FrameSamples)
	refFloat := make([]float32, audio.FrameSamples)

	for ctx.Err() == nil && e.running.Load() {
		if err := e.captureStream.Read(); err != nil {
			if e.running.Load() && e.deps.Logger != nil {
				e.deps.Logger.Warn("capture read failed", zap.Error(err))
				if e.deps.Metrics != nil {
					e.deps.Metrics.StreamRebuilds.Inc()
				}
			}
			return
		}
		now := time.Now()
		float32ToInt16(deviceBuf, deviceInt16)

		frames := e.pullPipelineFrames(rs, deviceInt16, pipelineInt16)
		for _, pcm := range frames {
			int16ToFloat32(pcm, pipelineFloat)
			e.processCaptureFrame(pipelineFloat, pcm, refFloat, now)
		}
	}
}

// pullPipelineFrames feeds deviceInt16 through rs (or passes it through
// directly when rates already match) and returns every complete
// FrameSamples-sized frame it yields. Returned slices alias an internal
// scratch buffer and must be consumed before the next call.
func (e *Engine) pullPipelineFrames(rs *resample.Resampler, deviceInt16 []int16, scratch []int16) [][]int16 {
	if rs == nil {
		if len(deviceInt16) != audio.FrameSamples {
			return nil
		}
		copy(scratch, deviceInt16)
		return [][]int16{scratch}
	}

	if err := rs.Push(deviceInt16); err != nil {
		if e.deps.Logger != nil {
			e.deps.Logger.Warn("capture resample failed", zap.Error(err))
		}
		return nil
	}

	var out [][]int16
	for steps := 0; steps < maxResampleSteps; steps++ {
		frame, ok := rs.Pull(audio.FrameSamples)
		if !ok {
			break
		}
		out = append(out, frame)
	}
	return out
}

func (e *Engine) processCaptureFrame(buf []float32, pcmScratch []int16, refFloat []float32, capturedAt time.Time) {
	if e.deps.RefRing != nil {
		if ref, ok := e.deps.RefRing.Nearest(capturedAt, refMaxAge); ok {
			int16ToFloat32(ref.PCM, refFloat)
			e.deps.AEC.FeedFarEnd(refFloat)
		}
	}
	e.deps.AEC.Process(buf)
	e.deps.Gate.Process(buf)
	if e.deps.Noise != nil {
		e.deps.Noise.Process(buf)
	}
	e.deps.Highpass.ProcessFrame(buf)
	e.deps.AGC.Process(buf)

	float32ToInt16(buf, pcmScratch)

	if e.deps.Wakeword != nil {
		dets, err := e.deps.Wakeword.Process(pcmScratch, capturedAt)
		if err != nil && e.deps.Logger != nil {
			e.deps.Logger.Warn("wake-word processing failed", zap.Error(err))
		}
		for _, d := range dets {
			select {
			case e.WakeDetections <- d:
			default:
			}
		}
	}

	if !e.transmitting.Load() {
		return
	}

	if e.deps.VAD != nil {
		ev, err := e.deps.VAD.Process(buf)
		if err != nil && e.deps.Logger != nil {
			e.deps.Logger.Warn("vad processing failed", zap.Error(err))
		}
		if ev != vad.NoEvent {
			select {
			case e.VADEvents <- ev:
			default:
			}
		}
	}

	packet, err := e.deps.Encoder.Encode(pcmScratch)
	if err != nil {
		if e.deps.Logger != nil {
			e.deps.Logger.Warn("opus encode failed", zap.Error(err))
		}
		return
	}
	select {
	case e.EncodedOut <- packet:
	default:
		if e.deps.Metrics != nil {
			e.deps.Metrics.CaptureFramesDropped.Inc()
		}
	}
}

// playbackLoop drains arrived TTS packets into the jitter buffer, decodes
// and mixes one 16kHz frame per device write tick, mixes in any pending
// notification chime, resamples to the device's native rate, and writes it
// out.
func (e *Engine) playbackLoop(ctx context.Context, deviceBuf []float32, rs *resample.Resampler) {
	mixed := make([]int16, audio.FrameSamples)
	mixedFloat := make([]float32, audio.FrameSamples)
	deviceInt16 := make([]int16, len(deviceBuf))

	for ctx.Err() == nil {
		select {
		case <-e.notifyStop:
			return
		default:
		}

		e.drainInbound()
		e.decodeAndMix(mixed)
		e.mixNotification(mixed, mixedFloat)

		if e.deps.RefRing != nil {
			e.deps.RefRing.Push(audio.ReferenceFrame{
				Frame:       audio.Frame{PCM: append([]int16(nil), mixed...), CapturedAt: time.Now()},
				PresentedAt: time.Now(),
			})
		}

		if !e.pushDeviceBlock(rs, mixed, deviceInt16, deviceBuf) {
			continue
		}

		if err := e.playbackStream.Write(); err != nil {
			if e.running.Load() && e.deps.Logger != nil {
				e.deps.Logger.Warn("playback write failed", zap.Error(err))
				if e.deps.Metrics != nil {
					e.deps.Metrics.StreamRebuilds.Inc()
				}
			}
			return
		}
	}
}

func (e *Engine) drainInbound() {
	for {
		select {
		case f := <-e.PlaybackIn:
			e.recordArrival(time.Now())
			e.deps.Jitter.Push(playbackSenderID, f.Seq, f.OpusData)
		default:
			return
		}
	}
}

func (e *Engine) decodeAndMix(mixed []int16) {
	for i := range mixed {
		mixed[i] = 0
	}

	gapBefore := e.deps.Decoder.Gap()
	for _, f := range e.deps.Jitter.Pop() {
		e.framesPlayed.Add(1)
		if f.OpusData == nil {
			e.framesLost.Add(1)
		}
		pcm, err := e.deps.Decoder.Push(f.OpusData)
		if err != nil {
			if e.deps.Logger != nil {
				e.deps.Logger.Warn("opus decode failed", zap.Error(err))
			}
			if e.deps.Metrics != nil {
				e.deps.Metrics.CodecResets.Inc()
			}
			continue
		}
		for i := 0; i < len(pcm) && i < len(mixed); i++ {
			mixed[i] = pcm[i]
		}
	}
	if e.deps.Decoder.Gap() > gapBefore && e.deps.Metrics != nil {
		e.deps.Metrics.PlaybackUnderruns.Inc()
	}
}

func (e *Engine) mixNotification(mixed []int16, scratch []float32) {
	if e.deps.NotifyOut == nil {
		return
	}
	int16ToFloat32(mixed, scratch)
	select {
	case frame := <-e.deps.NotifyOut:
		for i := range scratch {
			if i < len(frame) {
				scratch[i] = clampFloat32(scratch[i] + frame[i])
			}
		}
		float32ToInt16(scratch, mixed)
	default:
	}
}

func (e *Engine) pushDeviceBlock(rs *resample.Resampler, mixed []int16, deviceInt16 []int16, deviceBuf []float32) bool {
	if rs == nil {
		if len(mixed) != len(deviceBuf) {
			return false
		}
		int16ToFloat32(mixed, deviceBuf)
		return true
	}

	if err := rs.Push(mixed); err != nil {
		if e.deps.Logger != nil {
			e.deps.Logger.Warn("playback resample failed", zap.Error(err))
		}
		return false
	}

	block, ok := rs.Pull(len(deviceBuf))
	if !ok {
		// Downsampling: one 16kHz frame isn't enough yet for a full device
		// block. The caller loops straight back to decode+push another
		// frame rather than writing silence.
		return false
	}
	copy(deviceInt16, block)
	int16ToFloat32(deviceInt16, deviceBuf)
	return true
}
