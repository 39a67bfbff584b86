package calls

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("calls: invalid state transition")
	ErrCapacityExceeded  = errors.New("calls: max concurrent calls reached")
	ErrNotFound          = errors.New("calls: not found")
	ErrPersistence       = errors.New("calls: persistence failure")
)

// TransitionError reports an edge that is not in the transition table.
// errors.Is(err, ErrInvalidTransition) holds for it.
type TransitionError struct {
	From CallState
	To   CallState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("calls: invalid state transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
