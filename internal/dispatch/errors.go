package dispatch

import (
	"errors"
	"fmt"

	"massmail/internal/models"
)

// ErrJobNotFound reports a job id with no stored row.
var ErrJobNotFound = errors.New("job not found")

// ValidationError reports rejected caller input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// TerminalStateError reports an operation on a job that already finished.
type TerminalStateError struct {
	Status models.JobStatus
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("job is already %s", e.Status)
}

// BrokerError wraps queue submission failures.
type BrokerError struct {
	Err error
}

func (e *BrokerError) Error() string { return "broker: " + e.Err.Error() }

func (e *BrokerError) Unwrap() error { return e.Err }
