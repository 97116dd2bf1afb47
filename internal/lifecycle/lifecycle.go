// Package lifecycle is the single source of truth for payment file and payment
// instruction status transitions. Callers never assign a status without first
// asking this package whether the edge is legal.
package lifecycle

import (
	"errors"
	"fmt"

	"mass-payments/internal/models"
)

// IllegalTransitionError is returned for an edge the state machine does not
// define. It signals a logic error in the caller and is never retried.
type IllegalTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition from %q to %q", e.Entity, e.From, e.To)
}

// IsIllegalTransition reports whether err wraps an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var target *IllegalTransitionError
	return errors.As(err, &target)
}

var ErrRetryLimitReached = errors.New("retry limit reached")

var fileEdges = map[models.FileStatus][]models.FileStatus{
	models.FileStatusDraft: {
		models.FileStatusValidating,
		models.FileStatusCancelled,
	},
	models.FileStatusValidating: {
		models.FileStatusValidated,
		models.FileStatusValidationFailed,
		models.FileStatusCancelled,
	},
	models.FileStatusValidated: {
		models.FileStatusAwaitingApproval,
		models.FileStatusApproved,
		models.FileStatusCancelled,
	},
	models.FileStatusAwaitingApproval: {
		models.FileStatusApproved,
		models.FileStatusRejected,
		models.FileStatusCancelled,
	},
	models.FileStatusApproved: {
		models.FileStatusProcessing,
		models.FileStatusCancelled,
	},
	models.FileStatusProcessing: {
		models.FileStatusCompleted,
		models.FileStatusFailed,
		models.FileStatusCancelled,
	},
}

var instructionEdges = map[models.InstructionStatus][]models.InstructionStatus{
	models.InstructionStatusDraft: {
		models.InstructionStatusValidated,
		models.InstructionStatusValidationFailed,
		models.InstructionStatusCancelled,
	},
	models.InstructionStatusValidated: {
		models.InstructionStatusValidationFailed,
		models.InstructionStatusPending,
		models.InstructionStatusProcessing,
		models.InstructionStatusCancelled,
	},
	models.InstructionStatusPending: {
		models.InstructionStatusProcessing,
		models.InstructionStatusCancelled,
	},
	models.InstructionStatusProcessing: {
		models.InstructionStatusCompleted,
		models.InstructionStatusFailed,
		models.InstructionStatusCancelled,
	},
}

// File validates a payment file status change.
func File(from, to models.FileStatus) error {
	for _, next := range fileEdges[from] {
		if next == to {
			return nil
		}
	}
	return &IllegalTransitionError{Entity: "payment file", From: string(from), To: string(to)}
}

// Instruction validates an instruction status change. The failed -> pending
// edge is not reachable here; it exists only through Retry.
func Instruction(from, to models.InstructionStatus) error {
	for _, next := range instructionEdges[from] {
		if next == to {
			return nil
		}
	}
	return &IllegalTransitionError{Entity: "payment instruction", From: string(from), To: string(to)}
}

// Retry validates the explicit failed -> pending edge.
func Retry(from models.InstructionStatus, retryCount, maxRetries int) error {
	if from != models.InstructionStatusFailed {
		return &IllegalTransitionError{
			Entity: "payment instruction",
			From:   string(from),
			To:     string(models.InstructionStatusPending),
		}
	}
	if retryCount >= maxRetries {
		return ErrRetryLimitReached
	}
	return nil
}

// FileTerminal reports whether no further file transition is legal.
func FileTerminal(s models.FileStatus) bool {
	return len(fileEdges[s]) == 0
}

// InstructionTerminal reports whether status is completed or cancelled, or
// failed with the retry budget exhausted.
func InstructionTerminal(s models.InstructionStatus, retryCount, maxRetries int) bool {
	switch s {
	case models.InstructionStatusCompleted,
		models.InstructionStatusCancelled,
		models.InstructionStatusValidationFailed:
		return true
	case models.InstructionStatusFailed:
		return retryCount >= maxRetries
	}
	return false
}

// Cancellable reports whether an instruction may still be cancelled.
func Cancellable(s models.InstructionStatus) bool {
	return Instruction(s, models.InstructionStatusCancelled) == nil
}

// NonTerminalInstructionStatuses lists the statuses a file cancellation cascades over.
func NonTerminalInstructionStatuses() []models.InstructionStatus {
	return []models.InstructionStatus{
		models.InstructionStatusDraft,
		models.InstructionStatusValidated,
		models.InstructionStatusPending,
		models.InstructionStatusProcessing,
	}
}
