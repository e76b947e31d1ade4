// Package opus wraps gopkg.in/hraban/opus.v2 for the 16kHz mono 60ms VoIP
// frames spec.md §4.6 specifies, with forward error correction on encode
// and packet-loss concealment on decode: a single missing frame is
// concealed via in-band FEC carried by the next received packet, isolated
// gaps fall back to plain PLC, and gaps wider than MaxConcealedGap force a
// decoder reset rather than concealing audio the codec has no basis for.
package opus

import "fmt"

const (
	SampleRate = 16000
	Channels   = 1
	FrameMs    = 60

	// FrameSize is the number of int16 samples per frame at 16kHz/60ms.
	FrameSize = SampleRate * FrameMs / 1000

	// MaxConcealedGap is the longest run of consecutive lost frames PLC/FEC
	// will attempt to conceal before the decoder is reset (spec.md §4.6).
	MaxConcealedGap = 5
)

// encoder is the subset of *opus.Encoder this package depends on.
type encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// decoder is the subset of *opus.Decoder this package depends on. Decode
// with data == nil performs plain PLC; DecodeFEC recovers the frame before
// the packet actually passed in data, using that packet's embedded FEC
// payload.
type decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
	DecodeFEC(data []byte, pcm []int16) error
}

// decoderFactory builds a fresh decoder, used to reset state after a gap
// too wide to conceal.
type decoderFactory func() (decoder, error)

// Encoder encodes 16kHz mono PCM into Opus packets with FEC enabled.
type Encoder struct {
	enc encoder
}

func newEncoder(enc encoder) *Encoder { return &Encoder{enc: enc} }

// Encode encodes exactly FrameSize samples of PCM into an Opus packet.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != FrameSize {
		return nil, fmt.Errorf("opus: encode expects %d samples, got %d", FrameSize, len(pcm))
	}
	buf := make([]byte, 4000) // generous upper bound for one compressed frame
	n, err := e.enc.Encode(pcm, buf)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return buf[:n], nil
}

// Decoder decodes a stream of jitter-buffer slots back to 16kHz mono PCM.
// It holds one frame back so that a lost frame can be recovered from the
// FEC payload embedded in the packet that follows it, per hraban/opus.v2's
// DecodeFEC contract (which always recovers the frame immediately prior to
// the packet passed in). Push feeds slots in arrival order; Flush drains
// the final held-back frame at end of stream.
type Decoder struct {
	dec        decoder
	newDecoder decoderFactory

	gap      int // consecutive missing slots not yet resolved
	held     []byte
	haveHeld bool
}

func newDecoder(dec decoder, factory decoderFactory) *Decoder {
	return &Decoder{dec: dec, newDecoder: factory}
}

// Push feeds one jitter-buffer slot (data is nil when jitter.Frame.OpusData
// is nil, signaling a lost packet) and returns the decoded PCM for the slot
// fed one call ago, or nil if there is nothing to emit yet (the very first
// call always returns nil while the first frame is held back).
func (d *Decoder) Push(data []byte) ([]int16, error) {
	if data == nil {
		return d.pushMissing()
	}

	var out []int16
	if d.haveHeld {
		if d.gap == 1 {
			recovered, err := d.decodeFEC(data)
			if err == nil {
				out = recovered
			} else {
				out = d.held
			}
		} else {
			out = d.held
		}
	}

	pcm := make([]int16, FrameSize)
	n, err := d.dec.Decode(data, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}

	d.held = pcm[:n]
	d.haveHeld = true
	d.gap = 0
	return out, nil
}

func (d *Decoder) decodeFEC(nextPacket []byte) ([]int16, error) {
	pcm := make([]int16, FrameSize)
	if err := d.dec.DecodeFEC(nextPacket, pcm); err != nil {
		return nil, fmt.Errorf("opus: decode fec: %w", err)
	}
	return pcm, nil
}

// pushMissing accounts for a lost slot. It emits the frame held back from
// the previous call and holds back a PLC frame in place of the lost one;
// when the gap stays a single slot, the next Push replaces that PLC frame
// with the FEC recovery from the following packet. A gap wider than
// MaxConcealedGap resets the decoder instead.
func (d *Decoder) pushMissing() ([]int16, error) {
	d.gap++
	if d.gap > MaxConcealedGap {
		if err := d.reset(); err != nil {
			return nil, err
		}
		out := d.held
		d.held = nil
		d.haveHeld = false
		return out, nil
	}

	out := d.held
	if d.haveHeld {
		plc := make([]int16, FrameSize)
		n, err := d.dec.Decode(nil, plc)
		if err != nil {
			return nil, fmt.Errorf("opus: plc decode: %w", err)
		}
		d.held = plc[:n]
	}
	return out, nil
}

// Flush returns the final held-back frame at end of stream, or nil if
// there is none.
func (d *Decoder) Flush() []int16 {
	out := d.held
	d.held = nil
	d.haveHeld = false
	return out
}

func (d *Decoder) reset() error {
	fresh, err := d.newDecoder()
	if err != nil {
		return fmt.Errorf("opus: reset decoder: %w", err)
	}
	d.dec = fresh
	d.gap = 0
	return nil
}

// Gap reports the current consecutive-missing-slot count, exported for
// metrics/tests.
func (d *Decoder) Gap() int { return d.gap }
