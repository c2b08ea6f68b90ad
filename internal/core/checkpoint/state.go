package checkpoint

import (
	"errors"
	"time"

	"github.com/looplab/fsm"
)

// State is the ingestion state of one reader.
type State string

const (
	StateCaughtUp    State = "CAUGHT_UP"
	StateApplying    State = "APPLYING"
	StateRollingBack State = "ROLLING_BACK"
	StateError       State = "ERROR"
)

// Events accepted by the state machine.
const (
	EventApply    = "apply"
	EventRollback = "rollback"
	EventResume   = "resume"
	EventCommit   = "commit"
	EventRetry    = "retry"
	EventFail     = "fail"
)

// ErrInvalidTransition is returned when an event is not allowed in the current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// Transitions lists the allowed events. ERROR is terminal.
var Transitions = fsm.Events{
	{Name: EventApply, Src: []string{string(StateCaughtUp)}, Dst: string(StateApplying)},
	{Name: EventRollback, Src: []string{string(StateCaughtUp)}, Dst: string(StateRollingBack)},
	{Name: EventResume, Src: []string{string(StateRollingBack)}, Dst: string(StateApplying)},
	{Name: EventCommit, Src: []string{string(StateApplying)}, Dst: string(StateCaughtUp)},
	{
		Name: EventRetry,
		Src:  []string{string(StateApplying), string(StateRollingBack)},
		Dst:  string(StateCaughtUp),
	},
	{
		Name: EventFail,
		Src: []string{
			string(StateCaughtUp),
			string(StateApplying),
			string(StateRollingBack),
		},
		Dst: string(StateError),
	},
}

func newMachine(callbacks fsm.Callbacks) *fsm.FSM {
	return fsm.NewFSM(string(StateCaughtUp), Transitions, callbacks)
}

// CanTransition checks if event is allowed from state.
func CanTransition(from State, event string) bool {
	m := newMachine(fsm.Callbacks{})
	m.SetState(string(from))
	return m.Can(event)
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Event     string
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, event, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Event:     event,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case StateCaughtUp:
		return "Caught up - waiting for the next block"
	case StateApplying:
		return "Applying - dispatching a block inside its transaction"
	case StateRollingBack:
		return "Rolling back - reverting blocks forked out of the chain"
	case StateError:
		return "Error - stopped on an unrecoverable stream inconsistency"
	default:
		return "Unknown state"
	}
}
