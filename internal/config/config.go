// Package config loads the session-scoped parameters a headless xiaoclient
// instance needs: server address/protocol, default listening mode, and the
// echo/noise/VAD/wake tuning knobs from spec.md §4.3–§4.5. Loaded once at
// startup and treated as immutable thereafter, the way the teacher treats
// its own config.Config.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Config holds every session-scoped setting this client needs at startup.
type Config struct {
	ServerAddr string `json:"server_addr"`
	Protocol   string `json:"protocol"` // "websocket" | "mqtt"

	ListeningMode string `json:"listening_mode"` // "auto_stop" | "manual" | "realtime"

	InputDeviceID  int `json:"input_device_id"`
	OutputDeviceID int `json:"output_device_id"`

	AEC      AECConfig      `json:"aec"`
	AGC      AGCConfig      `json:"agc"`
	VAD      VADConfig      `json:"vad"`
	Wakeword WakewordConfig `json:"wakeword"`
	Noise    NoiseConfig    `json:"noise"`

	OpusBitrate int `json:"opus_bitrate"`
	JitterDepth int `json:"jitter_depth"`

	SessionID string `json:"-"` // generated fresh each run, never persisted
}

// AECConfig tunes the NLMS echo canceller (spec.md §4.3).
type AECConfig struct {
	Enabled           bool    `json:"enabled"`
	StreamDelayMs      int     `json:"stream_delay_ms"`
	DelaySmoothingEWMA float64 `json:"delay_smoothing_ewma"`
}

// AGCConfig tunes automatic gain control (spec.md §4.3).
type AGCConfig struct {
	Enabled           bool    `json:"enabled"`
	Mode              string  `json:"mode"` // "adaptive_digital" | "adaptive_analog" | "fixed_digital"
	TargetLevelDBFS   float64 `json:"target_level_dbfs"`
	CompressionGainDB float64 `json:"compression_gain_db"`
	Limiter           bool    `json:"limiter"`
}

// VADConfig tunes the Silero VAD hysteresis (spec.md §4.4).
type VADConfig struct {
	ModelPath            string  `json:"model_path"`
	Threshold            float64 `json:"threshold"`
	MinSpeechDurationMs  int     `json:"min_speech_duration_ms"`
	MinSilenceDurationMs int     `json:"min_silence_duration_ms"`
	SpeechPadMs          int     `json:"speech_pad_ms"`
}

// WakewordConfig tunes the keyword-cascade detector (spec.md §4.5). The
// keyword vocabulary is a config input rather than compiled in, per
// spec.md §9's open question.
type WakewordConfig struct {
	Enabled   bool              `json:"enabled"`
	ModelDir  string            `json:"model_dir"`
	Keywords  map[string]string `json:"keywords"` // name -> model filename within ModelDir
	Threshold float64           `json:"threshold"`
}

// NoiseConfig tunes RNNoise suppression ahead of the high-pass/AGC stage.
type NoiseConfig struct {
	Enabled bool    `json:"enabled"`
	Level   float32 `json:"level"`
}

// Default returns a Config populated with spec.md's documented defaults.
func Default() Config {
	return Config{
		Protocol:       "websocket",
		ListeningMode:  "auto_stop",
		InputDeviceID:  -1,
		OutputDeviceID: -1,
		AEC: AECConfig{
			Enabled:            true,
			StreamDelayMs:      120,
			DelaySmoothingEWMA: 0.25,
		},
		AGC: AGCConfig{
			Enabled:           true,
			Mode:              "adaptive_digital",
			TargetLevelDBFS:   -18,
			CompressionGainDB: 9,
			Limiter:           true,
		},
		VAD: VADConfig{
			Threshold:            0.5,
			MinSpeechDurationMs:  200,
			MinSilenceDurationMs: 600,
			SpeechPadMs:          100,
		},
		Wakeword: WakewordConfig{
			Enabled:   true,
			Threshold: 0.5,
		},
		Noise: NoiseConfig{
			Enabled: true,
			Level:   1.0,
		},
		OpusBitrate: 24000,
		JitterDepth: 3,
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "xiaoclient", "config.json"), nil
}

// Load reads the config file and returns it, falling back to Default (with
// a freshly generated SessionID either way) when the file is missing or
// unreadable — never an error, matching the teacher's Load semantics.
func Load() Config {
	cfg := Default()
	path, err := Path()
	if err == nil {
		if data, err := os.ReadFile(path); err == nil {
			_ = json.Unmarshal(data, &cfg) // keep defaults on parse failure
		}
	}
	cfg.SessionID = uuid.NewString()
	return cfg
}

// Save writes cfg to disk, creating the directory if needed. SessionID is
// excluded from the persisted file (json:"-").
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
