// Package transport defines the duplex message channel used to reach the
// remote voice service, shared by the WebSocket and MQTT variants in
// internal/transport/ws and internal/transport/mqtt, plus the reconnection
// backoff policy common to both.
package transport

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"
)

// Kind discriminates a Message's payload.
type Kind int

const (
	Text Kind = iota
	Binary
)

// Message is one inbound unit off the wire: a JSON control message (Text) or
// a single Opus packet (Binary).
type Message struct {
	Kind    Kind
	Payload []byte
}

// Transport is the duplex channel to the remote service. Both the WebSocket
// and MQTT variants implement it; callers depend only on this interface so
// protocol selection is a construction-time decision.
type Transport interface {
	// Connect establishes the session, authenticating with token. It blocks
	// until the connection is ready or ctx is done.
	Connect(ctx context.Context, token string) error

	// SendText sends one JSON control message.
	SendText(ctx context.Context, payload []byte) error

	// SendBinary sends one Opus packet.
	SendBinary(ctx context.Context, payload []byte) error

	// Recv blocks until the next inbound message, or ctx is done.
	Recv(ctx context.Context) (Message, error)

	// Close tears down the connection. Idempotent.
	Close() error
}

// Backoff sequence in seconds, per spec.md §4.7.
var backoffSeconds = []float64{0.5, 1, 2, 4, 8}

// MaxReconnectAttempts is the number of consecutive failures tolerated
// before NextDelay and Wait report the attempt budget exhausted; the caller
// then raises ErrTransportFailed.
const MaxReconnectAttempts = 5

// Reconnector drives a sequence of (re)connect attempts against a Transport
// with exponential backoff, jittered ±25%, per spec.md §4.7. It does not own
// the Transport's lifetime beyond calling Connect; teardown remains the
// caller's responsibility.
type Reconnector struct {
	attempts atomic.Int32
	sleep    func(context.Context, time.Duration) error
}

// NewReconnector returns a Reconnector using real time.Sleep semantics.
func NewReconnector() *Reconnector {
	return &Reconnector{sleep: ctxSleep}
}

// Attempts reports the number of consecutive failures observed so far.
func (r *Reconnector) Attempts() int {
	return int(r.attempts.Load())
}

// Reset clears the failure counter, e.g. after a successful connection.
func (r *Reconnector) Reset() {
	r.attempts.Store(0)
}

// NextDelay returns the jittered backoff delay for the current attempt
// count and reports whether the attempt budget is exhausted.
func (r *Reconnector) NextDelay() (delay time.Duration, exhausted bool) {
	n := int(r.attempts.Load())
	if n >= MaxReconnectAttempts {
		return 0, true
	}
	base := backoffSeconds[min(n, len(backoffSeconds)-1)]
	jitter := 1 + (rand.Float64()*2-1)*0.25 // ±25%
	return time.Duration(base * jitter * float64(time.Second)), false
}

// RecordFailure increments the failure counter, returning the updated count.
func (r *Reconnector) RecordFailure() int {
	return int(r.attempts.Add(1))
}

// Wait blocks for the next backoff interval, or until ctx is cancelled.
// Returns (false, nil) if the attempt budget is exhausted, and
// (false, ctx.Err()) if ctx ends first.
func (r *Reconnector) Wait(ctx context.Context) (bool, error) {
	delay, exhausted := r.NextDelay()
	if exhausted {
		return false, nil
	}
	if err := r.sleep(ctx, delay); err != nil {
		return false, err
	}
	return true, nil
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
