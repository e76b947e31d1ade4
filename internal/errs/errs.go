// Package errs collects the sentinel errors shared across the pipeline so
// callers can test for them with errors.Is instead of string matching.
package errs

import "errors"

var (
	// ErrAudioDeviceUnavailable is returned when opening an input or output
	// stream fails at startup. Fatal to the session.
	ErrAudioDeviceUnavailable = errors.New("audio device unavailable")

	// ErrAudioStreamLost names a mid-session read or write failure. The
	// capture and playback loops do not rebuild the stream: they log the
	// failure and stop.
	ErrAudioStreamLost = errors.New("audio stream lost")

	// ErrCodecFailure marks a decoder error on a single packet. The playback
	// loop drops such a packet without resetting codec state; the session
	// continues.
	ErrCodecFailure = errors.New("codec failure")

	// ErrTransportFailed is raised once the reconnection backoff in
	// internal/transport is exhausted.
	ErrTransportFailed = errors.New("transport failed")

	// ErrProtocol marks a malformed or unrecognized wire message. Logged and
	// dropped; never aborts the session.
	ErrProtocol = errors.New("protocol error")

	// ErrInvalidConfig marks a missing mandatory field or an out-of-range
	// value discovered while loading configuration. Fatal at startup.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrToolNotFound names an unknown tool. The dispatcher reports an
	// unknown tool name as a JSON-RPC method-not-found error response and
	// does not return this value.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams is returned when tool arguments fail schema
	// validation (type, bounds, or required-field checks).
	ErrInvalidParams = errors.New("invalid params")

	// ErrToolTimeout marks a handler that did not complete before its
	// per-call deadline.
	ErrToolTimeout = errors.New("tool call timeout")

	// ErrInvalidTransition is returned by session.Machine when a requested
	// state transition is not in the §4.8 graph.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrShutdownTimeout is returned by internal/resource when a component
	// does not signal stopped within its teardown budget.
	ErrShutdownTimeout = errors.New("component did not stop within shutdown budget")
)
