package order

import (
	"errors"
	"fmt"
)

var ErrIllegalTransition = errors.New("illegal order status transition")

type Transition int

const (
	// TransitionApply means the caller should persist the move.
	TransitionApply Transition = iota
	// TransitionNoOp means the order is already where the caller wants it,
	// or sits in a terminal status; nothing is written.
	TransitionNoOp
)

func (t Transition) String() string {
	switch t {
	case TransitionApply:
		return "apply"
	case TransitionNoOp:
		return "noop"
	default:
		return fmt.Sprintf("transition(%d)", int(t))
	}
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusPaid:        true,
		StatusStockFailed: true,
	},
	StatusPaid: {
		StatusCompleted: true,
	},
	StatusCompleted:   {},
	StatusStockFailed: {},
}

// Decide is the single transition table every status write goes through.
func Decide(from, to Status) (Transition, error) {
	if _, ok := allowedTransitions[to]; !ok {
		return 0, fmt.Errorf("%w: unknown target status %q", ErrIllegalTransition, to)
	}

	transitionsForCurrent, ok := allowedTransitions[from]
	if !ok {
		return 0, fmt.Errorf("%w: unknown current status %q", ErrIllegalTransition, from)
	}

	if from == to || from.Terminal() {
		return TransitionNoOp, nil
	}

	if !transitionsForCurrent[to] {
		return 0, fmt.Errorf("%w: from %s to %s", ErrIllegalTransition, from, to)
	}

	return TransitionApply, nil
}
