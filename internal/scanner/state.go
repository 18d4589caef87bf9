package scanner

import "fmt"

// State is the controller's machine state.
type State int

const (
	// StateIdle means no loop is running. It is the initial state and the
	// state Stop returns to.
	StateIdle State = iota

	// StateScanning means a fetch is in flight or the next one is scheduled.
	StateScanning

	// StateFault means the last iteration could not attempt a fetch because
	// the network was unreachable; the loop is backing off.
	StateFault

	// StateRecovery is reserved for distinguishing an actively retried fault
	// from FAULT. The controller never assigns it.
	StateRecovery
)

// States lists every state in declaration order.
var States = []State{StateIdle, StateScanning, StateFault, StateRecovery}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateScanning:
		return "SCANNING"
	case StateFault:
		return "FAULT"
	case StateRecovery:
		return "RECOVERY"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name for JSON and msgpack.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range States {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown scanner state %q", text)
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}
