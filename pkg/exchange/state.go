package exchange

import (
	"fmt"

	"github.com/pkg/errors"
)

// State is the phase of the exchange a Coordinator is in.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateReconciling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateReconciling:
		return "reconciling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Input is what happened to the exchange.
type Input int

const (
	// InputSend starts an exchange.
	InputSend Input = iota
	// InputResponse is a 2xx response whose body can now be streamed.
	InputResponse
	// InputDone is the end of the streamed body, with or without [DONE].
	InputDone
	// InputReconciled is the end of the follow-up fetch, successful or not.
	InputReconciled
	InputFailed
	InputCancelled
)

func (i Input) String() string {
	switch i {
	case InputSend:
		return "send"
	case InputResponse:
		return "response"
	case InputDone:
		return "done"
	case InputReconciled:
		return "reconciled"
	case InputFailed:
		return "failed"
	case InputCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("input(%d)", int(i))
	}
}

var ErrInvalidTransition = errors.New("invalid exchange transition")

// Transition returns the state reached from s on input in. It has no side
// effects; the Coordinator applies its result.
func Transition(s State, in Input) (State, error) {
	switch s {
	case StateIdle:
		if in == InputSend {
			return StateSending, nil
		}
	case StateSending:
		switch in {
		case InputResponse:
			return StateStreaming, nil
		case InputFailed, InputCancelled:
			return StateIdle, nil
		}
	case StateStreaming:
		switch in {
		case InputDone:
			return StateReconciling, nil
		case InputFailed, InputCancelled:
			return StateIdle, nil
		}
	case StateReconciling:
		if in == InputReconciled {
			return StateIdle, nil
		}
	}
	return s, errors.Wrapf(ErrInvalidTransition, "%s on %s", in, s)
}
