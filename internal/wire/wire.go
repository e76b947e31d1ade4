// Package wire defines the JSON control-plane messages exchanged with the
// remote service over the text channel of internal/transport, per the
// hello/listen/abort/tts/stt family.
package wire

import "encoding/json"

// AudioParams describes the negotiated audio framing, shared between the
// client and server hello messages.
type AudioParams struct {
	Format          string `json:"format"`
	SampleRate      int    `json:"sample_rate"`
	Channels        int    `json:"channels"`
	FrameDurationMs int    `json:"frame_duration_ms"`
}

// Hello is sent client→server to open a session, and echoed back
// server→client with a negotiated SessionID.
type Hello struct {
	Type        string      `json:"type"` // "hello"
	Version     int         `json:"version"`
	Transport   string      `json:"transport"` // "websocket" | "mqtt"
	AudioParams AudioParams `json:"audio_params"`
	SessionID   string      `json:"session_id,omitempty"`
}

// ListeningMode selects how the server decides when an utterance ends.
type ListeningMode string

const (
	ModeAuto     ListeningMode = "auto"
	ModeManual   ListeningMode = "manual"
	ModeRealtime ListeningMode = "realtime"
)

// ListenState is the start/stop/detect field of a Listen message.
type ListenState string

const (
	ListenStart  ListenState = "start"
	ListenStop   ListenState = "stop"
	ListenDetect ListenState = "detect"
)

// Listen is sent client→server to open or close a listening turn, or to
// report a fired wake word ("detect").
type Listen struct {
	Type  string        `json:"type"` // "listen"
	Mode  ListeningMode `json:"mode,omitempty"`
	State ListenState   `json:"state"`
	Text  string        `json:"text,omitempty"` // wake-word keyword when State==detect
}

// AbortReason names why a turn was aborted.
type AbortReason string

const (
	AbortWakeWordDetected AbortReason = "wake_word_detected"
	AbortUserInterrupt    AbortReason = "user_interrupt"
)

// Abort is sent by either side to cut a turn short.
type Abort struct {
	Type   string      `json:"type"` // "abort"
	Reason AbortReason `json:"reason"`
}

// TTSState is the start/stop/sentence_start field of a TTS message.
type TTSState string

const (
	TTSStart         TTSState = "start"
	TTSStop          TTSState = "stop"
	TTSSentenceStart TTSState = "sentence_start"
)

// TTS is sent server→client to bracket and annotate a synthesized-speech
// stream; the audio itself arrives as binary Opus frames.
type TTS struct {
	Type  string   `json:"type"` // "tts"
	State TTSState `json:"state"`
	Text  string   `json:"text,omitempty"`
}

// STT is sent server→client carrying a transcript of the user's utterance.
type STT struct {
	Type string `json:"type"` // "stt"
	Text string `json:"text"`
}

// Envelope is the minimal shape used to sniff an inbound text message's
// "type" field before unmarshaling into the concrete struct.
type Envelope struct {
	Type string `json:"type"`
}

// ParseType extracts the "type" discriminator from a raw text message.
func ParseType(payload []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// JSON-RPC 2.0 envelope used by the tools/list and tools/call methods
// (both the "iot" and "mcp" method families, per spec's migration note).

// Request is an inbound JSON-RPC call.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound JSON-RPC result or error.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      any         `json:"id,omitempty"`
	Result  any         `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

const (
	CodeInvalidParams  = -32602
	CodeMethodNotFound = -32601
	CodeServerError    = -32000
)

// NewResult builds a successful JSON-RPC response.
func NewResult(id any, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewError builds a JSON-RPC error response.
func NewError(id any, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}
