// Package mqtt implements the MQTT variant of transport.Transport: separate
// publish/subscribe topics for control JSON and binary Opus audio, QoS 1 for
// control and QoS 0 for audio per spec.md §4.7. Outbound audio frames carry
// a 4-byte big-endian sequence prefix since MQTT, unlike WebSocket, does not
// guarantee in-order delivery across topics.
package mqtt

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/xiaoclient/voicecore/internal/transport"
)

const (
	qosAudio   byte = 0
	qosControl byte = 1
)

// Topics names the four topics one MQTT session uses.
type Topics struct {
	PublishAudio     string
	PublishControl   string
	SubscribeAudio   string
	SubscribeControl string
}

// DefaultTopics derives the standard topic layout from a device identifier.
func DefaultTopics(deviceID string) Topics {
	base := "xiaoclient/" + deviceID
	return Topics{
		PublishAudio:     base + "/audio/up",
		PublishControl:   base + "/control/up",
		SubscribeAudio:   base + "/audio/down",
		SubscribeControl: base + "/control/down",
	}
}

// Transport is a transport.Transport backed by eclipse/paho.mqtt.golang.
type Transport struct {
	brokerURL string
	clientID  string
	topics    Topics

	client paho.Client
	seq    atomic.Uint32

	inbox chan transport.Message
}

// New returns a Transport that will connect to brokerURL with the given
// MQTT client ID on Connect.
func New(brokerURL, clientID string, topics Topics) *Transport {
	return &Transport{
		brokerURL: brokerURL,
		clientID:  clientID,
		topics:    topics,
		inbox:     make(chan transport.Message, 32),
	}
}

// Connect opens the MQTT session, authenticating with token as the
// password, and subscribes to both downstream topics.
func (t *Transport) Connect(ctx context.Context, token string) error {
	opts := paho.NewClientOptions().
		AddBroker(t.brokerURL).
		SetClientID(t.clientID).
		SetPassword(token).
		SetAutoReconnect(false). // reconnection is owned by transport.Reconnector
		SetConnectTimeout(10 * time.Second)

	t.client = paho.NewClient(opts)
	token2 := t.client.Connect()
	if !token2.WaitTimeout(connectDeadline(ctx)) {
		return fmt.Errorf("mqtt: connect timed out")
	}
	if err := token2.Error(); err != nil {
		return fmt.Errorf("mqtt: connect: %w", err)
	}

	if err := t.subscribe(t.topics.SubscribeControl, qosControl, transport.Text); err != nil {
		return err
	}
	if err := t.subscribe(t.topics.SubscribeAudio, qosAudio, transport.Binary); err != nil {
		return err
	}
	return nil
}

func connectDeadline(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return 10 * time.Second
}

func (t *Transport) subscribe(topic string, qos byte, kind transport.Kind) error {
	tok := t.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		payload := msg.Payload()
		if kind == transport.Binary && len(payload) >= 4 {
			payload = payload[4:] // strip the sequence prefix
		}
		t.inbox <- transport.Message{Kind: kind, Payload: payload}
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}
	return nil
}

// SendText publishes one JSON control message at QoS 1.
func (t *Transport) SendText(ctx context.Context, payload []byte) error {
	return t.publish(ctx, t.topics.PublishControl, qosControl, payload)
}

// SendBinary publishes one Opus packet at QoS 0, prefixed with a 4-byte
// big-endian monotonic sequence number.
func (t *Transport) SendBinary(ctx context.Context, payload []byte) error {
	seq := t.seq.Add(1)
	framed := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(framed, seq)
	copy(framed[4:], payload)
	return t.publish(ctx, t.topics.PublishAudio, qosAudio, framed)
}

func (t *Transport) publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if t.client == nil {
		return fmt.Errorf("mqtt: not connected")
	}
	tok := t.client.Publish(topic, qos, false, payload)
	if !tok.WaitTimeout(connectDeadline(ctx)) {
		return fmt.Errorf("mqtt: publish to %s timed out", topic)
	}
	return tok.Error()
}

// Recv blocks until the next message arrives on either downstream topic.
func (t *Transport) Recv(ctx context.Context) (transport.Message, error) {
	select {
	case msg := <-t.inbox:
		return msg, nil
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

// Close disconnects from the broker. Idempotent.
func (t *Transport) Close() error {
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250)
	}
	return nil
}

var _ transport.Transport = (*Transport)(nil)
