package channel

import "fmt"

// State is the lifecycle state of a channel slot.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// legal reports whether from -> to is an edge of the state machine.
func legal(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateIdle
	case StateConnected:
		return to == StateDisconnecting || to == StateIdle
	case StateDisconnecting:
		return to == StateIdle
	}
	return false
}
