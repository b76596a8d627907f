package session

// State is the lifecycle state of a voice [Session].
//
// A session is created in [StateConnecting], moves to [StateConnected] once
// the remote handshake completes, and ends in one of the terminal states
// [StateClosed] or [StateErrored]. No transition leaves a terminal state.
type State int

const (
	// StateConnecting is the initial state: devices are being acquired and
	// the handshake is in flight.
	StateConnecting State = iota

	// StateConnected means audio flows in both directions.
	StateConnected

	// StateClosed is reached on a graceful shutdown, local or remote.
	StateClosed

	// StateErrored is reached on a device, handshake, or transport failure.
	StateErrored
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}
