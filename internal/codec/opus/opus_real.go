package opus

import realopus "gopkg.in/hraban/opus.v2"

// NewEncoder builds an Encoder targeting VoIP at SampleRate/Channels with
// in-band FEC enabled, tolerating up to lossPercent of expected packet loss.
func NewEncoder(bitrate, lossPercent int) (*Encoder, error) {
	enc, err := realopus.NewEncoder(SampleRate, Channels, realopus.AppVoIP)
	if err != nil {
		return nil, err
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return nil, err
	}
	if err := enc.SetPacketLossPerc(lossPercent); err != nil {
		return nil, err
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, err
	}
	return newEncoder(enc), nil
}

// NewDecoder builds a Decoder targeting SampleRate/Channels, with its reset
// factory wired to build a fresh real decoder on a wide packet-loss gap.
func NewDecoder() (*Decoder, error) {
	dec, err := realDecoderFactory()
	if err != nil {
		return nil, err
	}
	return newDecoder(dec, realDecoderFactory), nil
}

func realDecoderFactory() (decoder, error) {
	return realopus.NewDecoder(SampleRate, Channels)
}
