package pricing

import (
	"errors"
	"fmt"
)

// State is a step of the recalculation pipeline.
type State int

const (
	Idle State = iota
	Resolving
	Discounting
	Shipping
	Taxing
	Aggregating
	Done
	Failed
)

var stateNames = [...]string{
	Idle:        "idle",
	Resolving:   "resolving",
	Discounting: "discounting",
	Shipping:    "shipping",
	Taxing:      "taxing",
	Aggregating: "aggregating",
	Done:        "done",
	Failed:      "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown pricing state %q", string(text))
}

var (
	// ErrOrderCompleted is returned when a completed order is submitted for recalculation.
	ErrOrderCompleted = errors.New("order is completed")
	// ErrInvalidLineItem is returned when a line item cannot be priced.
	ErrInvalidLineItem = errors.New("invalid line item")
)

// StageError reports the stage at which a pass failed.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pricing %s: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying error.
func (e *StageError) Unwrap() error { return e.Err }
