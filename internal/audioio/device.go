// Package audioio wires the capture/playback device streams to the
// processing chain described in spec.md §4.1-§4.6: downmix/resample at the
// edges, AEC/noise-suppression/AGC/VAD/wake-word on the capture side, Opus
// decode/jitter/mix on the playback side. Grounded on the teacher's
// AudioEngine in the root audio.go, generalized from multi-sender voice
// chat to this client's single server-peer TTS stream.
package audioio

import "github.com/gordonklaus/portaudio"

// Device describes an available audio input or output device.
type Device struct {
	ID   int
	Name string
}

// paStream is the subset of *portaudio.Stream this package depends on,
// extracted so tests can substitute a fake device without an audio driver.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

// ListInputDevices returns available input devices.
func ListInputDevices() []Device {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
}

// ListOutputDevices returns available output devices.
func ListOutputDevices() []Device {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
}

func listDevices(match func(*portaudio.DeviceInfo) bool) []Device {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil
	}
	var out []Device
	for i, d := range devices {
		if match(d) {
			out = append(out, Device{ID: i, Name: d.Name})
		}
	}
	return out
}

// resolveDevice returns the device at idx if valid, otherwise the result of
// fallback (PortAudio's configured system default).
func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}
