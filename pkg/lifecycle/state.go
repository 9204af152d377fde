// Package lifecycle defines the session lifecycle state shared by the
// avatar and voice controllers. Each controller owns its own State value;
// the orchestrator and UI sink only mirror them.
package lifecycle

// State represents where a remote session is in its lifecycle.
type State int

const (
	// StateIdle indicates no session has been started.
	StateIdle State = iota
	// StateConnecting indicates a session is being established.
	StateConnecting
	// StateConnected indicates an active session.
	StateConnected
	// StateDisconnected indicates the session ended, locally or remotely.
	StateDisconnected
	// StateError indicates the session failed.
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
