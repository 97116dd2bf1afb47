package models

import (
	"database/sql/driver"

	"github.com/shopspring/decimal"
)

type ErrorCode string

const (
	ErrCodeRequiredField      ErrorCode = "required_field"
	ErrCodeInvalidFormat      ErrorCode = "invalid_format"
	ErrCodeInvalidAmount      ErrorCode = "invalid_amount"
	ErrCodeAmountTooSmall     ErrorCode = "amount_too_small"
	ErrCodeAmountTooLarge     ErrorCode = "amount_too_large"
	ErrCodeInvalidCurrency    ErrorCode = "invalid_currency"
	ErrCodeDuplicateReference ErrorCode = "duplicate_reference"
	ErrCodeInvalidAccount     ErrorCode = "invalid_account"
	ErrCodeFieldTooLong       ErrorCode = "field_too_long"

	// File level codes. These never appear on a row.
	ErrCodeMissingHeader ErrorCode = "missing_header"
	ErrCodeTooManyRows   ErrorCode = "too_many_rows"
	ErrCodeTooFewRows    ErrorCode = "too_few_rows"
	ErrCodeUnreadable    ErrorCode = "unreadable_file"
)

// ValidationError is one field level problem on one row. RowNumber is zero
// for structural problems that concern the whole file.
type ValidationError struct {
	RowNumber int       `json:"row_number"`
	Field     string    `json:"field"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Value() (driver.Value, error) {
	if len(e) == 0 {
		return nil, nil
	}
	return marshalJSON(e)
}

func (e *ValidationErrors) Scan(src interface{}) error {
	return unmarshalJSON(src, e)
}

type ValidationWarning struct {
	RowNumber int    `json:"row_number"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type CurrencyStat struct {
	Rows   int             `json:"rows"`
	Amount decimal.Decimal `json:"amount"`
}

// ValidationSummary is the structured error summary kept on a payment file.
type ValidationSummary struct {
	FileErrors        []ValidationError       `json:"file_errors,omitempty"`
	ErrorCounts       map[ErrorCode]int       `json:"error_counts,omitempty"`
	CurrencyBreakdown map[string]CurrencyStat `json:"currency_breakdown,omitempty"`
	Warnings          []ValidationWarning     `json:"warnings,omitempty"`
	RowsSeen          int                     `json:"rows_seen"`
}

func (s ValidationSummary) Value() (driver.Value, error) {
	return marshalJSON(s)
}

func (s *ValidationSummary) Scan(src interface{}) error {
	return unmarshalJSON(src, s)
}
