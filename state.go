package blefs

import "fmt"

// State is a Peripheral lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateAdvertising
	StateConnected
	StateTearingDown
	StateResettingRadio
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAdvertising:
		return "advertising"
	case StateConnected:
		return "connected"
	case StateTearingDown:
		return "tearing_down"
	case StateResettingRadio:
		return "resetting_radio"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
