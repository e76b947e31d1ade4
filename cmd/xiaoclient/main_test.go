package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/xiaoclient/voicecore/internal/audioio"
	"github.com/xiaoclient/voicecore/internal/dispatch"
	"github.com/xiaoclient/voicecore/internal/session"
	"github.com/xiaoclient/voicecore/internal/transport"
	"github.com/xiaoclient/voicecore/internal/vad"
	"github.com/xiaoclient/voicecore/internal/wire"
)

// fakeTransport is a minimal transport.Transport double for exercising the
// wiring in this package without a real socket.
type fakeTransport struct {
	connectErr  func(attempt int) error
	connectCall int
	sent        [][]byte
}

func (f *fakeTransport) Connect(ctx context.Context, token string) error {
	f.connectCall++
	if f.connectErr == nil {
		return nil
	}
	return f.connectErr(f.connectCall)
}

func (f *fakeTransport) SendText(ctx context.Context, payload []byte) error {
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) SendBinary(ctx context.Context, payload []byte) error { return nil }

func (f *fakeTransport) Recv(ctx context.Context) (transport.Message, error) {
	return transport.Message{}, errors.New("fakeTransport: Recv not used in this test")
}

func (f *fakeTransport) Close() error { return nil }

func listeningMachine(t *testing.T) *session.Machine {
	t.Helper()
	m := session.New()
	if err := m.Fire(session.TriggerUserOrWake); err != nil {
		t.Fatalf("fire UserOrWake: %v", err)
	}
	if err := m.Fire(session.TriggerTransportEstablished); err != nil {
		t.Fatalf("fire TransportEstablished: %v", err)
	}
	return m
}

func speakingMachine(t *testing.T) *session.Machine {
	t.Helper()
	m := listeningMachine(t)
	if err := m.Fire(session.TriggerInboundAudio); err != nil {
		t.Fatalf("fire InboundAudio: %v", err)
	}
	return m
}

func TestHandleWireMessageTTSStartDoesNotEndTurn(t *testing.T) {
	sess := speakingMachine(t)
	logger := zap.NewNop()
	disp := dispatch.New()
	disp.Start()

	payload, _ := json.Marshal(wire.TTS{Type: "tts", State: wire.TTSStart})
	handleWireMessage(context.Background(), payload, &fakeTransport{}, disp, sess, logger)

	if sess.State() != session.Speaking {
		t.Errorf("state: got %v, want SPEAKING (tts start must not end the turn)", sess.State())
	}
}

func TestHandleWireMessageTTSSentenceStartDoesNotEndTurn(t *testing.T) {
	sess := speakingMachine(t)
	logger := zap.NewNop()
	disp := dispatch.New()
	disp.Start()

	payload, _ := json.Marshal(wire.TTS{Type: "tts", State: wire.TTSSentenceStart})
	handleWireMessage(context.Background(), payload, &fakeTransport{}, disp, sess, logger)

	if sess.State() != session.Speaking {
		t.Errorf("state: got %v, want SPEAKING (sentence boundary must not end the turn)", sess.State())
	}
}

func TestHandleWireMessageTTSStopEndsTurn(t *testing.T) {
	sess := speakingMachine(t)
	logger := zap.NewNop()
	disp := dispatch.New()
	disp.Start()

	payload, _ := json.Marshal(wire.TTS{Type: "tts", State: wire.TTSStop})
	handleWireMessage(context.Background(), payload, &fakeTransport{}, disp, sess, logger)

	if sess.State() != session.Listening {
		t.Errorf("state: got %v, want LISTENING after tts stop", sess.State())
	}
}

func TestHandleWireMessageAbortFiresAbortAck(t *testing.T) {
	sess := speakingMachine(t)
	if err := sess.Fire(session.TriggerUserInterrupt); err != nil {
		t.Fatalf("fire UserInterrupt: %v", err)
	}
	logger := zap.NewNop()
	disp := dispatch.New()
	disp.Start()

	payload, _ := json.Marshal(wire.Abort{Type: "abort", Reason: wire.AbortUserInterrupt})
	handleWireMessage(context.Background(), payload, &fakeTransport{}, disp, sess, logger)

	if sess.State() != session.Listening {
		t.Errorf("state: got %v, want LISTENING after abort ack", sess.State())
	}
}

func TestHandleWireMessageToolCallRoutesThroughDispatcher(t *testing.T) {
	sess := listeningMachine(t)
	logger := zap.NewNop()
	disp := dispatch.New()
	registerTools(disp, audioio.New(-1, -1, audioio.Dependencies{}), sess)
	disp.Start()

	tr := &fakeTransport{}
	req := wire.Request{JSONRPC: "2.0", ID: 1, Method: "tools/call"}
	payload, _ := json.Marshal(req)
	handleWireMessage(context.Background(), payload, tr, disp, sess, logger)

	if len(tr.sent) != 1 {
		t.Fatalf("expected one response sent, got %d", len(tr.sent))
	}
}

func TestHandleVADEventBargeInWhileSpeakingRealtime(t *testing.T) {
	sess := speakingMachine(t)
	sess.SetMode(session.Realtime)

	handleVADEvent(vad.SpeechStart, sess)

	if sess.State() != session.Aborting {
		t.Errorf("state: got %v, want ABORTING (barge-in)", sess.State())
	}
}

func TestHandleVADEventSpeechStartIgnoredOutsideRealtime(t *testing.T) {
	sess := speakingMachine(t)
	sess.SetMode(session.AutoStop)

	handleVADEvent(vad.SpeechStart, sess)

	if sess.State() != session.Speaking {
		t.Errorf("state: got %v, want SPEAKING unchanged (not REALTIME mode)", sess.State())
	}
}

func TestHandleVADEventSpeechStartIgnoredWhileListening(t *testing.T) {
	sess := listeningMachine(t)
	sess.SetMode(session.Realtime)

	handleVADEvent(vad.SpeechStart, sess)

	if sess.State() != session.Listening {
		t.Errorf("state: got %v, want LISTENING unchanged (no turn to interrupt)", sess.State())
	}
}

func TestHandleVADEventEndOfUtteranceRearmsListening(t *testing.T) {
	sess := listeningMachine(t)

	handleVADEvent(vad.EndOfUtterance, sess)

	if sess.State() != session.Listening {
		t.Errorf("state: got %v, want LISTENING", sess.State())
	}
}

func TestReconnectSessionReEstablishesOnSuccess(t *testing.T) {
	sess := listeningMachine(t)
	sess.SetSessionID("original-session")
	tr := &fakeTransport{} // Connect succeeds immediately, no backoff wait
	reconnector := transport.NewReconnector()
	logger := zap.NewNop()

	ok := reconnectSession(context.Background(), tr, sess, reconnector, "tok", logger)

	if !ok {
		t.Fatal("expected reconnectSession to report success")
	}
	if sess.State() != session.Listening {
		t.Errorf("state: got %v, want LISTENING after reconnect", sess.State())
	}
	if sess.SessionID() == "original-session" {
		t.Error("expected a fresh session id after reconnect, got the original one")
	}
	if tr.connectCall != 1 {
		t.Errorf("expected exactly one Connect call, got %d", tr.connectCall)
	}
}

func TestReconnectSessionFromSpeakingGoesThroughConnecting(t *testing.T) {
	sess := speakingMachine(t)
	tr := &fakeTransport{}
	reconnector := transport.NewReconnector()
	logger := zap.NewNop()

	if !reconnectSession(context.Background(), tr, sess, reconnector, "tok", logger) {
		t.Fatal("expected reconnectSession to report success")
	}
	if sess.State() != session.Listening {
		t.Errorf("state: got %v, want LISTENING (fresh turn after reconnect)", sess.State())
	}
}
