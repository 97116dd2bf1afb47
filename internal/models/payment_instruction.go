package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type InstructionStatus string

const (
	InstructionStatusDraft            InstructionStatus = "draft"
	InstructionStatusValidated        InstructionStatus = "validated"
	InstructionStatusValidationFailed InstructionStatus = "validation_failed"
	InstructionStatusPending          InstructionStatus = "pending"
	InstructionStatusProcessing       InstructionStatus = "processing"
	InstructionStatusCompleted        InstructionStatus = "completed"
	InstructionStatusFailed           InstructionStatus = "failed"
	InstructionStatusCancelled        InstructionStatus = "cancelled"
)

// Settlement methods a row may name in its settlement_method column.
const (
	SettlementSwift   = "swift"
	SettlementSepa    = "sepa"
	SettlementLocalGB = "local_gb"
	SettlementLocal   = "local"
)

const (
	BeneficiaryIndividual = "individual"
	BeneficiaryBusiness   = "business"
)

type FailureCode string

const (
	FailureInsufficientFunds   FailureCode = "insufficient_funds"
	FailurePreflight           FailureCode = "preflight_failed"
	FailureProviderRejected    FailureCode = "provider_rejected"
	FailureProviderTimeout     FailureCode = "provider_timeout"
	FailureProviderUnavailable FailureCode = "provider_unavailable"
	FailureProcessingTimeout   FailureCode = "processing_timeout"
	FailureSettledAfterCancel  FailureCode = "settled_after_cancellation"
	FailureCancelUnconfirmed   FailureCode = "cancellation_unconfirmed"
)

// PaymentInstruction is one payable row within a payment file.
type PaymentInstruction struct {
	ID                    string             `db:"id" json:"id"`
	FileID                string             `db:"file_id" json:"file_id"`
	TenantID              string             `db:"tenant_id" json:"tenant_id"`
	RowNumber             int                `db:"row_no" json:"row_number"`
	BeneficiaryName       string             `db:"beneficiary_name" json:"beneficiary_name"`
	BeneficiaryAccount    string             `db:"beneficiary_account" json:"beneficiary_account"`
	BankCode              string             `db:"bank_code" json:"bank_code"`
	SettlementMethod      string             `db:"settlement_method" json:"settlement_method"`
	Amount                decimal.Decimal    `db:"amount" json:"amount"`
	Currency              string             `db:"currency" json:"currency"`
	Reference             string             `db:"reference" json:"reference"`
	PurposeCode           string             `db:"purpose_code" json:"purpose_code"`
	Details               InstructionDetails `db:"details" json:"details"`
	Status                InstructionStatus  `db:"status" json:"status"`
	ExternalTransactionID *string            `db:"external_transaction_id" json:"external_transaction_id,omitempty"`
	ValidationErrors      ValidationErrors   `db:"validation_errors" json:"validation_errors,omitempty"`
	RetryCount            int                `db:"retry_count" json:"retry_count"`
	FailureCode           *string            `db:"failure_code" json:"failure_code,omitempty"`
	FailureReason         *string            `db:"failure_reason" json:"failure_reason,omitempty"`
	ProcessedAt           *time.Time         `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt             time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time          `db:"updated_at" json:"updated_at"`
}

// SetFailure records a machine code and a human readable reason.
func (i *PaymentInstruction) SetFailure(code FailureCode, reason string) {
	c := string(code)
	i.FailureCode = &c
	i.FailureReason = &reason
}

// RetryableFailure reports whether the recorded failure came from the
// provider or the account balance. Pre-flight rejections fail the same way
// on every attempt and are not retryable.
func (i *PaymentInstruction) RetryableFailure() bool {
	if i.FailureCode == nil {
		return false
	}
	switch FailureCode(*i.FailureCode) {
	case FailureProviderRejected, FailureProviderTimeout, FailureProviderUnavailable,
		FailureProcessingTimeout, FailureInsufficientFunds:
		return true
	}
	return false
}

func (i *PaymentInstruction) ClearFailure() {
	i.FailureCode = nil
	i.FailureReason = nil
}

// InstructionDetails holds the optional beneficiary columns of a row.
type InstructionDetails struct {
	BeneficiaryType     string `json:"beneficiary_type,omitempty"`
	AddressLine         string `json:"address_line,omitempty"`
	City                string `json:"city,omitempty"`
	Country             string `json:"country,omitempty"`
	SwiftCode           string `json:"swift_code,omitempty"`
	IBAN                string `json:"iban,omitempty"`
	SortCode            string `json:"sort_code,omitempty"`
	InvoiceNumber       string `json:"invoice_number,omitempty"`
	InvoiceDate         string `json:"invoice_date,omitempty"`
	IncorporationNumber string `json:"incorporation_number,omitempty"`
}

func (d InstructionDetails) Value() (driver.Value, error) {
	return marshalJSON(d)
}

func (d *InstructionDetails) Scan(src interface{}) error {
	return unmarshalJSON(src, d)
}

func marshalJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}

// InstructionQuery selects instructions of one file. AfterRow pages by row
// number; Offset pages by position. Zero values mean no constraint.
type InstructionQuery struct {
	Statuses []InstructionStatus
	AfterRow int
	Limit    int
	Offset   int
}
