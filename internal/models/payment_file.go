package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type FileStatus string

const (
	FileStatusDraft            FileStatus = "draft"
	FileStatusValidating       FileStatus = "validating"
	FileStatusValidated        FileStatus = "validated"
	FileStatusValidationFailed FileStatus = "validation_failed"
	FileStatusAwaitingApproval FileStatus = "awaiting_approval"
	FileStatusApproved         FileStatus = "approved"
	FileStatusRejected         FileStatus = "rejected"
	FileStatusProcessing       FileStatus = "processing"
	FileStatusCompleted        FileStatus = "completed"
	FileStatusFailed           FileStatus = "failed"
	FileStatusCancelled        FileStatus = "cancelled"
)

// PaymentFile is one uploaded batch of payment instructions.
type PaymentFile struct {
	ID                  string            `db:"id" json:"id"`
	TenantID            string            `db:"tenant_id" json:"tenant_id"`
	UploadedBy          string            `db:"uploaded_by" json:"uploaded_by"`
	ApprovedBy          *string           `db:"approved_by" json:"approved_by,omitempty"`
	SettlementAccountID string            `db:"settlement_account_id" json:"settlement_account_id"`
	Currency            string            `db:"currency" json:"currency"`
	Status              FileStatus        `db:"status" json:"status"`
	OriginalFilename    string            `db:"original_filename" json:"original_filename"`
	StoredFileRef       string            `db:"stored_file_ref" json:"-"`
	Checksum            string            `db:"checksum" json:"checksum"`
	TotalRows           int               `db:"total_rows" json:"total_rows"`
	ValidRows           int               `db:"valid_rows" json:"valid_rows"`
	InvalidRows         int               `db:"invalid_rows" json:"invalid_rows"`
	TotalAmount         decimal.Decimal   `db:"total_amount" json:"total_amount"`
	ProcessedCount      int               `db:"processed_count" json:"processed_count"`
	SucceededCount      int               `db:"succeeded_count" json:"succeeded_count"`
	FailedCount         int               `db:"failed_count" json:"failed_count"`
	ProcessedAmount     decimal.Decimal   `db:"processed_amount" json:"processed_amount"`
	ValidationSummary   ValidationSummary `db:"validation_summary" json:"validation_summary"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updated_at"`
	ApprovedAt          *time.Time        `db:"approved_at" json:"approved_at,omitempty"`
	DeletedAt           *time.Time        `db:"deleted_at" json:"-"`
}

// InvalidRatio is the share of rows rejected during validation.
func (f *PaymentFile) InvalidRatio() float64 {
	if f.TotalRows == 0 {
		return 0
	}
	return float64(f.InvalidRows) / float64(f.TotalRows)
}

type FileFilter struct {
	Status FileStatus
	Limit  int
	Offset int
}

type FileTotals struct {
	Processed       int
	Succeeded       int
	Failed          int
	Cancelled       int
	Pending         int
	ProcessedAmount decimal.Decimal
}

type ProcessingResult struct {
	Processed   int             `json:"processed"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Cancelled   int             `json:"cancelled"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type UploadRequest struct {
	Filename            string
	Currency            string
	SettlementAccountID string
}

// Progress is the processing snapshot published while a file runs.
type Progress struct {
	FileID    string     `json:"file_id"`
	Status    FileStatus `json:"status"`
	Total     int        `json:"total"`
	Processed int        `json:"processed"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Percent   float64    `json:"percent"`
	UpdatedAt time.Time  `json:"updated_at"`
}
