package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidModeTransition matches every *ModeTransitionError.
	ErrInvalidModeTransition = errors.New("invalid mode transition")
	// ErrExternalCall matches every *ExternalCallError.
	ErrExternalCall = errors.New("external call failed")
	// ErrValidationRejected marks a candidate fact that failed its rule.
	ErrValidationRejected = errors.New("validation rejected")
	// ErrPersistence matches every *PersistenceError.
	ErrPersistence = errors.New("persistence failed")
	// ErrDispatch matches every *DispatchError.
	ErrDispatch = errors.New("dispatch failed")
)

// Actor identifies who requests a mode change.
type Actor string

const (
	ActorOperator Actor = "operator"
	ActorSystem   Actor = "system"
)

// ModeTransitionError reports a requested edge outside the allowed set.
type ModeTransitionError struct {
	From  Mode
	To    Mode
	Actor Actor
}

func (e *ModeTransitionError) Error() string {
	return fmt.Sprintf("invalid mode transition %s -> %s by %s", e.From, e.To, e.Actor)
}

func (e *ModeTransitionError) Is(target error) bool {
	return target == ErrInvalidModeTransition
}

// ExternalCallError wraps a signal provider failure or timeout.
type ExternalCallError struct {
	Op  string // "intent", "sentiment", "extract", "reply"
	Err error
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Op, e.Err)
}

func (e *ExternalCallError) Unwrap() error { return e.Err }

func (e *ExternalCallError) Is(target error) bool {
	return target == ErrExternalCall
}

// PersistenceError aborts a turn. Nothing from the turn was committed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// DispatchError records an outbound delivery failure.
type DispatchError struct {
	SessionID string
	ChannelID string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("deliver to session %s via %s: %v", e.SessionID, e.ChannelID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Is(target error) bool {
	return target == ErrDispatch
}
