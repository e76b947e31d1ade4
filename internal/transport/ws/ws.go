// Package ws implements the WebSocket variant of transport.Transport: one
// TLS connection carrying both JSON control text frames and binary Opus
// frames, with application-level ping/pong dead-peer detection.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaoclient/voicecore/internal/transport"
)

const (
	// PingInterval is how often the client pings the peer.
	PingInterval = 20 * time.Second

	// MaxMissedPongs is the number of consecutive missed pongs before the
	// connection is declared dead (spec.md §4.7).
	MaxMissedPongs = 3

	// pongWait is the read deadline each pong renews: MaxMissedPongs ping
	// intervals plus a margin, so reads time out only after MaxMissedPongs
	// pings in a row went unanswered.
	pongWait = MaxMissedPongs*PingInterval + 5*time.Second
)

// Transport is a transport.Transport backed by a gorilla/websocket
// connection. Not safe for concurrent Connect/Close calls; SendText,
// SendBinary, and Recv may be called concurrently with each other.
type Transport struct {
	url string

	writeMu sync.Mutex
	conn    *websocket.Conn

	missedPongs int
	pongMu      sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// New returns a Transport that will dial url on Connect. url must already
// carry any query parameters the server requires besides the token.
func New(url string) *Transport {
	return &Transport{url: url, closed: make(chan struct{})}
}

// Connect dials the WebSocket endpoint, authenticating via the
// Authorization header, and starts the ping/pong keepalive loop.
func (t *Transport) Connect(ctx context.Context, token string) error {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, header)
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}

	t.writeMu.Lock()
	t.conn = conn
	t.writeMu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		t.pongMu.Lock()
		t.missedPongs = 0
		t.pongMu.Unlock()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go t.pingLoop()

	return nil
}

func (t *Transport) pingLoop() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			t.pongMu.Lock()
			t.missedPongs++
			dead := t.missedPongs > MaxMissedPongs
			t.pongMu.Unlock()
			if dead {
				t.Close()
				return
			}
			t.writeMu.Lock()
			conn := t.conn
			t.writeMu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				t.Close()
				return
			}
		}
	}
}

// SendText sends one JSON control message as a text frame.
func (t *Transport) SendText(ctx context.Context, payload []byte) error {
	return t.write(ctx, websocket.TextMessage, payload)
}

// SendBinary sends one Opus packet as a binary frame.
func (t *Transport) SendBinary(ctx context.Context, payload []byte) error {
	return t.write(ctx, websocket.BinaryMessage, payload)
}

func (t *Transport) write(ctx context.Context, messageType int, payload []byte) error {
	t.writeMu.Lock()
	conn := t.conn
	t.writeMu.Unlock()
	if conn == nil {
		return fmt.Errorf("ws: not connected")
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(messageType, payload)
}

// Recv blocks until the next inbound frame, translating its type into a
// transport.Message.
func (t *Transport) Recv(ctx context.Context) (transport.Message, error) {
	t.writeMu.Lock()
	conn := t.conn
	t.writeMu.Unlock()
	if conn == nil {
		return transport.Message{}, fmt.Errorf("ws: not connected")
	}

	type result struct {
		kind    int
		payload []byte
		err     error
	}
	resultCh := make(chan result, 1)
	go func() {
		kind, payload, err := conn.ReadMessage()
		resultCh <- result{kind, payload, err}
	}()

	select {
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return transport.Message{}, fmt.Errorf("ws: recv: %w", r.err)
		}
		k := transport.Text
		if r.kind == websocket.BinaryMessage {
			k = transport.Binary
		}
		return transport.Message{Kind: k, Payload: r.payload}, nil
	}
}

// Close shuts down the connection and stops the ping loop. Idempotent.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.writeMu.Lock()
		conn := t.conn
		t.writeMu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

var _ transport.Transport = (*Transport)(nil)
