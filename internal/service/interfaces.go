package service

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"mass-payments/internal/models"
	"mass-payments/internal/provider"
)

// FileRepository persists payment files. Status writes are conditional on
// the expected current status and fail with models.ErrStaleStatus otherwise.
type FileRepository interface {
	CreateFile(ctx context.Context, file *models.PaymentFile) error
	GetFile(ctx context.Context, id string) (*models.PaymentFile, error)
	ListFiles(ctx context.Context, tenantID string, filter models.FileFilter) ([]models.PaymentFile, int, error)
	FindFileByChecksum(ctx context.Context, tenantID, checksum string) (*models.PaymentFile, error)
	UpdateFileStatus(ctx context.Context, id string, from, to models.FileStatus) error
	// SaveValidationResult stores the instructions, counts and summary and
	// moves the file from `from` to file.Status in one transaction.
	SaveValidationResult(ctx context.Context, file *models.PaymentFile, from models.FileStatus, instructions []models.PaymentInstruction) error
	UpdateFileTotals(ctx context.Context, id string, totals models.FileTotals) error
	// CancelFile moves the file to cancelled and cancels every non-terminal
	// instruction in one transaction, except processing instructions that
	// carry a provider transaction id. It returns the cancelled count.
	CancelFile(ctx context.Context, id string, from models.FileStatus) (int, error)
	SoftDeleteFile(ctx context.Context, id string, from models.FileStatus, at time.Time) error
	ListFilesByStatus(ctx context.Context, statuses []models.FileStatus, updatedBefore time.Time, limit int) ([]models.PaymentFile, error)
	// ListFilesHoldingInstructions returns files in fileStatuses that still
	// have at least one instruction in instStatuses.
	ListFilesHoldingInstructions(ctx context.Context, fileStatuses []models.FileStatus, instStatuses []models.InstructionStatus, limit int) ([]models.PaymentFile, error)
}

type InstructionRepository interface {
	ListInstructions(ctx context.Context, fileID string, q models.InstructionQuery) ([]models.PaymentInstruction, error)
	CountInstructions(ctx context.Context, fileID string, statuses []models.InstructionStatus) (int, error)
	GetInstruction(ctx context.Context, id string) (*models.PaymentInstruction, error)
	// UpdateInstruction writes every mutable column when the stored status
	// still equals from.
	UpdateInstruction(ctx context.Context, inst *models.PaymentInstruction, from models.InstructionStatus) error
	InstructionTotals(ctx context.Context, fileID string) (models.FileTotals, error)
}

type ApprovalRepository interface {
	// CreateApproval fails with models.ErrDuplicatePending when the
	// approver already holds a pending approval for the file.
	CreateApproval(ctx context.Context, approval *models.Approval) error
	GetApproval(ctx context.Context, id string) (*models.Approval, error)
	ListApprovals(ctx context.Context, fileID string) ([]models.Approval, error)
	FindPendingApprovals(ctx context.Context, fileID string) ([]models.Approval, error)
	ExpireApproval(ctx context.Context, id string) error
	// DecideApproval records the decision, cancels the file's other pending
	// approvals and moves the file from awaiting_approval to fileStatus, all
	// in one transaction. A decision already taken yields models.ErrStaleStatus.
	DecideApproval(ctx context.Context, approval *models.Approval, fileStatus models.FileStatus) error
}

type AccountRepository interface {
	GetSettlementAccount(ctx context.Context, id string) (*models.SettlementAccount, error)
	// ReserveFunds holds amount against the account unless the instruction
	// already holds a reservation. models.ErrInsufficientFunds when the
	// available balance is short.
	ReserveFunds(ctx context.Context, accountID, instructionID string, amount decimal.Decimal) error
	CommitReservation(ctx context.Context, instructionID string) error
	ReleaseReservation(ctx context.Context, instructionID string) error
}

type Repository interface {
	FileRepository
	InstructionRepository
	ApprovalRepository
	AccountRepository
}

// Storage keeps uploaded files.
type Storage interface {
	Store(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

type ProviderResolver interface {
	Resolve(name string) (provider.Provider, error)
}

// Notifier delivery is best effort. Callers never wait on it.
type Notifier interface {
	NotifyApprovalRequired(ctx context.Context, file models.PaymentFile, approval models.Approval) error
	NotifyStatusChange(ctx context.Context, file models.PaymentFile, from, to models.FileStatus) error
}

// PendingCanceller withdraws the provider-pending payments of a cancelled file.
type PendingCanceller interface {
	CancelPending(ctx context.Context, fileID string) (int, error)
}

type JobDispatcher interface {
	EnqueueValidation(ctx context.Context, fileID string) error
	EnqueueProcessing(ctx context.Context, fileID string) error
	EnqueueInstruction(ctx context.Context, instructionID string) error
}

type ProgressTracker interface {
	SetProgress(ctx context.Context, p models.Progress) error
	GetProgress(ctx context.Context, fileID string) (*models.Progress, error)
}

// ApproverResolver decides who may approve a tenant's files.
type ApproverResolver interface {
	ResolveApprovers(ctx context.Context, tenantID, excludeUserID string) ([]models.User, error)
}

type TenantDirectory interface {
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
}
