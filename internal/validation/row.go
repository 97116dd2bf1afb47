// Package validation turns raw payment file rows into instruction drafts or
// field errors. It performs no I/O beyond reading the row source it is given.
package validation

import (
	"strings"

	"mass-payments/internal/models"
)

// Column names recognised in a payment file header.
const (
	ColBeneficiaryName     = "beneficiary_name"
	ColAmount              = "amount"
	ColCurrency            = "currency"
	ColBeneficiaryAccount  = "beneficiary_account"
	ColSettlementMethod    = "settlement_method"
	ColBankCode            = "bank_code"
	ColReference           = "reference"
	ColPurposeCode         = "purpose_code"
	ColBeneficiaryType     = "beneficiary_type"
	ColAddressLine         = "address_line"
	ColCity                = "city"
	ColCountry             = "country"
	ColSwiftCode           = "swift_code"
	ColIBAN                = "iban"
	ColSortCode            = "sort_code"
	ColInvoiceNumber       = "invoice_number"
	ColInvoiceDate         = "invoice_date"
	ColIncorporationNumber = "incorporation_number"
)

// RequiredHeaders must all be present. One of CorridorHeaders must be too.
var (
	RequiredHeaders = []string{ColBeneficiaryName, ColAmount, ColCurrency, ColBeneficiaryAccount}
	CorridorHeaders = []string{ColSettlementMethod, ColBankCode}
)

// Columns lists every recognised column in the order sample files use.
var Columns = []string{
	ColBeneficiaryName, ColAmount, ColCurrency, ColBeneficiaryAccount,
	ColSettlementMethod, ColBankCode, ColReference, ColPurposeCode,
	ColBeneficiaryType, ColAddressLine, ColCity, ColCountry,
	ColSwiftCode, ColIBAN, ColSortCode,
	ColInvoiceNumber, ColInvoiceDate, ColIncorporationNumber,
}

var headerAliases = map[string]string{
	"address":        ColAddressLine,
	"account_number": ColBeneficiaryAccount,
	"bic":            ColSwiftCode,
	"purpose":        ColPurposeCode,
}

// NormalizeHeader lower-cases and trims a header cell and maps known aliases.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "_")
	if alias, ok := headerAliases[h]; ok {
		return alias
	}
	return h
}

// Row is one data row keyed by normalized column name. Number is 1-based
// and counts non-blank data rows only.
type Row struct {
	Number int
	Fields map[string]string
}

func (r Row) Get(col string) string {
	return strings.TrimSpace(r.Fields[col])
}

func (r Row) blank() bool {
	for _, v := range r.Fields {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// RowResult is the outcome of validating one row. Instruction is always
// populated as far as the raw values allow so invalid rows can still be
// stored alongside their errors.
type RowResult struct {
	Instruction models.PaymentInstruction
	Errors      []models.ValidationError
}

func (r RowResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *RowResult) addError(field string, code models.ErrorCode, msg string) {
	r.Errors = append(r.Errors, models.ValidationError{
		RowNumber: r.Instruction.RowNumber,
		Field:     field,
		Code:      code,
		Message:   msg,
	})
}
