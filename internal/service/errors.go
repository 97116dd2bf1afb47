package service

import (
	"errors"

	"mass-payments/internal/currency"
	"mass-payments/internal/lifecycle"
	"mass-payments/internal/models"
	"mass-payments/internal/provider"
)

var (
	// Authorization
	ErrForbidden   = errors.New("operation not permitted for this principal")
	ErrNotApprover = errors.New("principal is not the designated approver")

	// Workflow state
	ErrApprovalExpired        = errors.New("approval has expired")
	ErrApprovalAlreadyDecided = errors.New("approval already decided")
	ErrCommentsRequired       = errors.New("comments are required when rejecting")
	ErrNoApprovers            = errors.New("no eligible approver for tenant")
	ErrFileNotProcessable     = errors.New("file is not approved for processing")
	ErrNoEligibleInstructions = errors.New("file has no instructions to process")
	ErrFileNotDeletable       = errors.New("file cannot be deleted once processing has started")
	ErrNotRetryable           = errors.New("instruction is not retryable")
	ErrNotCancellable         = errors.New("instruction cannot be cancelled in its current state")
	ErrAlreadySettled         = errors.New("payment already settled with the provider")
	ErrJobAlreadyQueued       = errors.New("job already queued")

	// Input
	ErrInvalidUpload = errors.New("invalid upload")
	ErrInvalidAction = errors.New("unknown approval action")
	ErrInvalidRole   = errors.New("unknown role")
)

// Kind groups errors for callers that map them onto transport codes.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindInvalid
)

func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, models.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotApprover):
		return KindForbidden
	case errors.Is(err, ErrInvalidUpload), errors.Is(err, ErrCommentsRequired),
		errors.Is(err, ErrInvalidAction), errors.Is(err, ErrInvalidRole),
		errors.Is(err, currency.ErrUnsupportedCurrency):
		return KindInvalid
	case lifecycle.IsIllegalTransition(err),
		errors.Is(err, lifecycle.ErrRetryLimitReached),
		errors.Is(err, models.ErrStaleStatus),
		errors.Is(err, models.ErrDuplicateFile),
		errors.Is(err, models.ErrDuplicateUser),
		errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrApprovalExpired),
		errors.Is(err, ErrApprovalAlreadyDecided),
		errors.Is(err, ErrNoApprovers),
		errors.Is(err, ErrFileNotProcessable),
		errors.Is(err, ErrNoEligibleInstructions),
		errors.Is(err, ErrFileNotDeletable),
		errors.Is(err, ErrNotRetryable),
		errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrAlreadySettled),
		errors.Is(err, provider.ErrAlreadySettled):
		return KindConflict
	default:
		return KindInternal
	}
}
