// Package session implements the conversation state machine from spec.md
// §4.8: IDLE/CONNECTING/LISTENING/SPEAKING/ABORTING, with a single atomic
// state word and a fan-out notification channel so multiple subscribers
// (the dispatcher, the AEC arming logic, a UI) can observe transitions
// without the cyclic references a direct-callback design would need.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/xiaoclient/voicecore/internal/errs"
)

// State is one node of the §4.8 transition graph.
type State int32

const (
	Idle State = iota
	Connecting
	Listening
	Speaking
	Aborting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Listening:
		return "LISTENING"
	case Speaking:
		return "SPEAKING"
	case Aborting:
		return "ABORTING"
	default:
		return "UNKNOWN"
	}
}

// Trigger names the event driving a transition, carried on Event for
// subscribers that need to distinguish e.g. two different paths into
// Listening.
type Trigger int

const (
	TriggerUserOrWake Trigger = iota
	TriggerTransportEstablished
	TriggerTransportFatal
	TriggerInboundAudio
	TriggerEndOfUtterance
	TriggerTurnEnd
	TriggerUserInterrupt
	TriggerAbortAck
	TriggerClose
)

// Event is published to every subscriber on each accepted transition.
type Event struct {
	From    State
	To      State
	Trigger Trigger
}

// ListeningMode selects how end-of-utterance is decided; mirrors
// wire.ListeningMode so session doesn't need to import the wire package.
type ListeningMode int

const (
	AutoStop ListeningMode = iota
	Manual
	Realtime
)

// transition is one edge of the §4.8 graph.
type transition struct {
	from    State
	trigger Trigger
}

// graph maps (from, trigger) -> to. Built once; never mutated.
//
// TriggerTransportFatal does double duty, matching §4.7's reconnect policy:
// fired from LISTENING/SPEAKING/ABORTING it means "the transport just broke,
// start reconnecting" and lands on CONNECTING; fired from CONNECTING itself
// it means "the backoff budget is exhausted, give up" and lands on IDLE.
var graph = map[transition]State{
	{Idle, TriggerUserOrWake}:                Connecting,
	{Connecting, TriggerTransportEstablished}: Listening,
	{Connecting, TriggerTransportFatal}:       Idle,
	{Listening, TriggerTransportFatal}:        Connecting,
	{Speaking, TriggerTransportFatal}:         Connecting,
	{Aborting, TriggerTransportFatal}:         Connecting,
	{Listening, TriggerInboundAudio}:          Speaking,
	{Listening, TriggerEndOfUtterance}:        Listening, // final send + re-arm, per §4.8
	{Speaking, TriggerTurnEnd}:                Listening,
	{Speaking, TriggerUserInterrupt}:          Aborting,
	{Aborting, TriggerAbortAck}:               Listening,
}

// Machine is the single writer of session state. The zero value is not
// usable; use New.
type Machine struct {
	state atomic.Int32

	mu          sync.Mutex
	mode        ListeningMode
	sessionID   string
	abortReason string
	subscribers []chan Event
}

// New returns a Machine in the IDLE state.
func New() *Machine {
	return &Machine{}
}

// State returns the current state. Safe for concurrent use.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// SessionID returns the session id negotiated at CONNECTING→LISTENING.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// SetSessionID records the id the server assigned during the hello
// handshake. Call before firing TriggerTransportEstablished.
func (m *Machine) SetSessionID(id string) {
	m.mu.Lock()
	m.sessionID = id
	m.mu.Unlock()
}

// Mode returns the current listening mode.
func (m *Machine) Mode() ListeningMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SetMode sets the listening mode the LISTENING state will use to decide
// end-of-utterance and barge-in behavior.
func (m *Machine) SetMode(mode ListeningMode) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
}

// Subscribe returns a channel that receives every accepted transition from
// this point forward. The channel is buffered; slow subscribers may miss
// bursts but will never block the state machine.
func (m *Machine) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// Fire attempts the transition named by trigger from the current state. It
// returns errs.ErrInvalidTransition if no edge exists for (current, trigger)
// — e.g. firing TriggerTurnEnd while IDLE — except for TriggerClose, which
// is valid from any state and is a no-op from IDLE.
func (m *Machine) Fire(trigger Trigger) error {
	for {
		from := m.State()

		if trigger == TriggerClose {
			if from == Idle {
				return nil
			}
			m.transition(from, Idle, trigger)
			return nil
		}

		to, ok := graph[transition{from, trigger}]
		if !ok {
			return errs.ErrInvalidTransition
		}
		if !m.state.CompareAndSwap(int32(from), int32(to)) {
			continue // concurrent writer raced us; retry against the new state
		}
		m.publish(Event{From: from, To: to, Trigger: trigger})
		return nil
	}
}

// transition performs an unconditional move, used by the TriggerClose path
// where any source state is valid.
func (m *Machine) transition(from, to State, trigger Trigger) {
	if !m.state.CompareAndSwap(int32(from), int32(to)) {
		// Another writer already moved state; Close still must land on IDLE.
		m.state.Store(int32(to))
	}
	m.publish(Event{From: from, To: to, Trigger: trigger})
}

func (m *Machine) publish(ev Event) {
	m.mu.Lock()
	subs := append([]chan Event(nil), m.subscribers...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default: // drop for a slow subscriber rather than block the machine
		}
	}
}
