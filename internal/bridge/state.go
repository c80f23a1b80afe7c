package bridge

import "fmt"

// State is the bridge's view of backend availability.
type State int

const (
	// StateChecking is the initial state before the first probe.
	StateChecking State = iota
	StateConnected
	StateDisconnected
	// StateReconnecting is held while the queue drains after the
	// backend comes back.
	StateReconnecting
)

var stateNames = [...]string{
	StateChecking:     "checking",
	StateConnected:    "connected",
	StateDisconnected: "disconnected",
	StateReconnecting: "reconnecting",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown bridge state %q", text)
}

// Outcome is what Send did with a prompt.
type Outcome int

const (
	// OutcomeSent means the prompt was dispatched to the backend.
	OutcomeSent Outcome = iota
	// OutcomeQueued means the backend is down and the prompt waits in
	// the queue.
	OutcomeQueued
	// OutcomeRejected means the bridge is closed.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeQueued:
		return "queued"
	case OutcomeRejected:
		return "rejected"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// MarshalText renders the outcome by name in JSON payloads.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an outcome name.
func (o *Outcome) UnmarshalText(text []byte) error {
	for _, c := range []Outcome{OutcomeSent, OutcomeQueued, OutcomeRejected} {
		if c.String() == string(text) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("unknown send outcome %q", text)
}
