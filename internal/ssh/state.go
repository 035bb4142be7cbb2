package ssh

// State is the connection lifecycle state, surfaced to the UI sink as a
// status indicator.
//
// Transitions:
//
//	Disconnected → Connecting → Connected
//	Connected → Degraded (missed keepalives) → Reconnecting
//	Reconnecting → Connected | Fatal
//	any → Fatal (explicit Close or unrecoverable auth failure)
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateReconnecting
	// StateFatal is terminal: reached only by explicit disconnect or an
	// unrecoverable auth failure. Every other failure loops back through
	// Reconnecting.
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateFatal:
		return "disconnected-fatal"
	default:
		return "unknown"
	}
}

// StateChange notifies a sink of a transition. Err is set when the
// transition was caused by a failure; Attempt is the reconnect attempt
// number while Reconnecting.
type StateChange struct {
	State   State
	Attempt int
	Err     error
}

// StateSink receives connection state transitions. Implementations must be
// fast and must not call back into the Connection.
type StateSink func(StateChange)
