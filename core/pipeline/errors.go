package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned before any stage runs
	ErrInvalidRequest = errors.New("invalid provisioning request")

	// ErrReverted marks a transaction that was mined with a failed status
	ErrReverted = errors.New("transaction reverted")
)

// StageError is the single error a failed run returns. It names the stage
// that aborted the run and carries that stage's failure.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface
func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying failure
func (e *StageError) Unwrap() error {
	return e.Err
}

// Message is the user-facing text derived from the failure
func (e *StageError) Message() string {
	if e.Err == nil {
		return e.Stage.String() + " failed"
	}
	return e.Err.Error()
}

// RevertedError reports the hash of a reverted transaction
type RevertedError struct {
	TxHash string
}

// Error implements the error interface
func (e *RevertedError) Error() string {
	return fmt.Sprintf("transaction %s reverted", e.TxHash)
}

// Is matches ErrReverted
func (e *RevertedError) Is(target error) bool {
	return target == ErrReverted
}
