package opus

import (
	"errors"
	"testing"
)

type fakeEncoder struct {
	lastPCM []int16
}

func (f *fakeEncoder) Encode(pcm []int16, data []byte) (int, error) {
	f.lastPCM = append([]int16(nil), pcm...)
	// Fake "compression": just tag the frame with its first sample.
	data[0] = byte(pcm[0])
	return 1, nil
}

// fakeDecoder produces a distinguishable PCM value per packet so tests can
// assert which branch (real decode, FEC, PLC, reset) produced an output.
type fakeDecoder struct {
	id       byte
	decodeFECErr error
}

func (f *fakeDecoder) Decode(data []byte, pcm []int16) (int, error) {
	if data == nil {
		for i := range pcm {
			pcm[i] = int16(0x5000) | int16(f.id) // PLC marker
		}
	} else {
		for i := range pcm {
			pcm[i] = int16(0x1000)*int16(data[0]) | int16(f.id)
		}
	}
	return len(pcm), nil
}

func (f *fakeDecoder) DecodeFEC(data []byte, pcm []int16) error {
	if f.decodeFECErr != nil {
		return f.decodeFECErr
	}
	for i := range pcm {
		pcm[i] = int16(0x2000)*int16(data[0]) | int16(f.id)
	}
	return nil
}

func newTestDecoder(id byte) (*Decoder, *fakeDecoder) {
	fd := &fakeDecoder{id: id}
	factoryCalls := 0
	factory := func() (decoder, error) {
		factoryCalls++
		return &fakeDecoder{id: id + byte(factoryCalls)}, nil
	}
	return newDecoder(fd, factory), fd
}

func TestEncodeRejectsWrongFrameSize(t *testing.T) {
	e := newEncoder(&fakeEncoder{})
	_, err := e.Encode(make([]int16, FrameSize-1))
	if err == nil {
		t.Fatal("expected an error for a short frame")
	}
}

func TestEncodeHappyPath(t *testing.T) {
	fe := &fakeEncoder{}
	e := newEncoder(fe)
	pcm := make([]int16, FrameSize)
	pcm[0] = 42

	out, err := e.Encode(pcm)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("encoded length: got %d, want 1", len(out))
	}
	if fe.lastPCM[0] != 42 {
		t.Errorf("encoder did not receive the expected PCM")
	}
}

func TestPushFirstCallReturnsNil(t *testing.T) {
	d, _ := newTestDecoder(1)
	out, err := d.Push([]byte{1})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil on first call (one-frame hold-back), got %v", out)
	}
}

func TestPushSteadyStreamEmitsHeldFrame(t *testing.T) {
	d, _ := newTestDecoder(1)
	d.Push([]byte{1})
	out, err := d.Push([]byte{2})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(out) != FrameSize {
		t.Fatalf("output length: got %d, want %d", len(out), FrameSize)
	}
}

func TestPushSingleGapRecoveredByFEC(t *testing.T) {
	d, _ := newTestDecoder(7)
	d.Push([]byte{1})   // holds frame A
	d.Push(nil)         // gap: frame B lost, nothing emitted yet
	out, err := d.Push([]byte{3}) // next packet's FEC should recover B
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if out == nil {
		t.Fatal("expected FEC-recovered output, got nil")
	}
	// FEC path tags with 0x2000 multiplier per fakeDecoder.DecodeFEC.
	want := int16(0x2000*3) | 7
	if out[0] != want {
		t.Errorf("output: got %#x, want %#x (expected FEC path)", out[0], want)
	}
}

func TestPushGapWithFailedFECFallsBackToHeldFrame(t *testing.T) {
	fd := &fakeDecoder{id: 9, decodeFECErr: errors.New("no fec payload")}
	factory := func() (decoder, error) { return &fakeDecoder{id: 9}, nil }
	d := newDecoder(fd, factory)

	d.Push([]byte{1})
	d.Push(nil)
	out, err := d.Push([]byte{3})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if out == nil {
		t.Fatal("expected a fallback frame, got nil")
	}
}

func TestPushWideGapResetsDecoder(t *testing.T) {
	d, _ := newTestDecoder(1)
	d.Push([]byte{1})
	for i := 0; i < MaxConcealedGap+1; i++ {
		if _, err := d.Push(nil); err != nil {
			t.Fatalf("Push(nil) #%d: %v", i, err)
		}
	}
	if d.Gap() != 0 {
		t.Errorf("Gap after reset: got %d, want 0 (reset clears the counter)", d.Gap())
	}
}

func TestFlushReturnsHeldFrame(t *testing.T) {
	d, _ := newTestDecoder(1)
	d.Push([]byte{1})
	out := d.Flush()
	if out == nil {
		t.Fatal("expected Flush to return the held frame")
	}
	if d.Flush() != nil {
		t.Error("expected a second Flush to return nil")
	}
}
