package session

import "fmt"

// State is the lifecycle position of a single websocket session. A session
// is born Handshaking, settles into Idle once the voice catalog has been
// delivered, bounces between Idle and Processing once per request, and ends
// in Closed. Closed is terminal; sessions are never reused.
type State int

const (
	StateHandshaking State = iota
	StateIdle
	StateProcessing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// legalTransitions enumerates every move the session loops are allowed to
// make. Anything outside this table is a programming error and fails the
// session rather than corrupting it.
var legalTransitions = map[State]map[State]bool{
	StateHandshaking: {StateIdle: true, StateClosed: true},
	StateIdle:        {StateProcessing: true, StateClosed: true},
	StateProcessing:  {StateIdle: true, StateClosed: true},
	StateClosed:      {},
}

func canTransition(from, to State) bool {
	return legalTransitions[from][to]
}

// transition moves the session to the requested state, rejecting moves the
// table does not allow.
func (s *session) transition(to State) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !canTransition(s.state, to) {
		return fmt.Errorf("illegal session transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}

// markClosed forces the terminal state. Used during teardown, where the
// session may already be Closed.
func (s *session) markClosed() {
	s.stateMu.Lock()
	s.state = StateClosed
	s.stateMu.Unlock()
}

func (s *session) currentState() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}
