package mqttclient

import (
	"context"
	"sync/atomic"

	"github.com/looplab/fsm"
)

// ConnectionState is the lifecycle state of a connection.
type ConnectionState int32

const (
	// StateDisconnected is the initial state and the state after a user disconnect.
	StateDisconnected ConnectionState = iota
	// StateConnecting means a dial or MQTT handshake is in progress.
	StateConnecting
	// StateConnected means CONNACK was accepted.
	StateConnected
	// StateReconnectWait means the connection waits for the backoff delay.
	StateReconnectWait
	// StateFailed is terminal: the attempt bounds were exhausted.
	StateFailed
)

var stateNames = [...]string{
	StateDisconnected:  "disconnected",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateReconnectWait: "reconnect_wait",
	StateFailed:        "failed",
}

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func parseState(name string) ConnectionState {
	for i, n := range stateNames {
		if n == name {
			return ConnectionState(i)
		}
	}
	return -1
}

// StateChange describes a transition. Err carries the cause for transitions
// into StateReconnectWait and StateFailed; for StateReconnectWait it is a
// *ReconnectEvent.
type StateChange struct {
	From ConnectionState
	To   ConnectionState
	Err  error
}

// State machine events.
const (
	eventConnect     = "connect"
	eventEstablished = "established"
	eventLost        = "lost"
	eventRetry       = "retry"
	eventFail        = "fail"
	eventClose       = "close"
)

// stateMachine wraps the transition table. The current state is mirrored in
// an atomic so it can be read from any goroutine.
type stateMachine struct {
	fsm      *fsm.FSM
	current  atomic.Int32
	onChange func(StateChange)
}

func newStateMachine(onChange func(StateChange)) *stateMachine {
	m := &stateMachine{onChange: onChange}

	disconnected := StateDisconnected.String()
	connecting := StateConnecting.String()
	connected := StateConnected.String()
	waiting := StateReconnectWait.String()
	failed := StateFailed.String()

	m.fsm = fsm.NewFSM(
		disconnected,
		fsm.Events{
			{Name: eventConnect, Src: []string{disconnected}, Dst: connecting},
			{Name: eventEstablished, Src: []string{connecting}, Dst: connected},
			{Name: eventLost, Src: []string{connecting, connected}, Dst: waiting},
			{Name: eventRetry, Src: []string{waiting}, Dst: connecting},
			{Name: eventFail, Src: []string{connecting, connected, waiting}, Dst: failed},
			{Name: eventClose, Src: []string{disconnected, connecting, connected, waiting}, Dst: disconnected},
		},
		fsm.Callbacks{
			"enter_state": m.enterState,
		},
	)

	return m
}

func (m *stateMachine) enterState(_ context.Context, e *fsm.Event) {
	to := parseState(e.Dst)
	m.current.Store(int32(to))

	var cause error
	if len(e.Args) > 0 {
		cause, _ = e.Args[0].(error)
	}

	if m.onChange != nil {
		m.onChange(StateChange{From: parseState(e.Src), To: to, Err: cause})
	}
}

// fire runs event. Events without a transition from the current state leave
// the state unchanged and return an fsm error.
func (m *stateMachine) fire(event string, cause error) error {
	return m.fsm.Event(context.Background(), event, cause)
}

// can reports whether event has a transition from the current state.
func (m *stateMachine) can(event string) bool {
	return m.fsm.Can(event)
}

func (m *stateMachine) state() ConnectionState {
	return ConnectionState(m.current.Load())
}
