package captcha

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned by Transition for an event the state does
// not accept.
var ErrInvalidTransition = errors.New("captcha: invalid state transition")

// State is the visible state of the verification modal.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateVerifying
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateVerifying:
		return "verifying"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event drives the state machine.
type Event int

const (
	EventOpen Event = iota
	EventIssued
	EventIssueFailed
	EventDragCompleted
	EventVerified
	EventRejected
	EventRefresh
	EventClose
)

func (e Event) String() string {
	switch e {
	case EventOpen:
		return "open"
	case EventIssued:
		return "issued"
	case EventIssueFailed:
		return "issue_failed"
	case EventDragCompleted:
		return "drag_completed"
	case EventVerified:
		return "verified"
	case EventRejected:
		return "rejected"
	case EventRefresh:
		return "refresh"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Transition returns the state that follows s on e.
//
// Close is accepted everywhere and returns to idle. Success is terminal for
// its challenge; a new flow starts from it with Open.
func Transition(s State, e Event) (State, error) {
	if e == EventClose {
		return StateIdle, nil
	}
	switch s {
	case StateIdle, StateSuccess:
		if e == EventOpen {
			return StateLoading, nil
		}
	case StateLoading:
		switch e {
		case EventIssued:
			return StateReady, nil
		case EventIssueFailed:
			return StateError, nil
		case EventRefresh:
			return StateLoading, nil
		}
	case StateReady:
		switch e {
		case EventDragCompleted:
			return StateVerifying, nil
		case EventRefresh:
			return StateLoading, nil
		}
	case StateVerifying:
		switch e {
		case EventVerified:
			return StateSuccess, nil
		case EventRejected:
			return StateError, nil
		}
	case StateError:
		if e == EventRefresh {
			return StateLoading, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, e)
}
