package validation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"mass-payments/internal/models"
)

const (
	DefaultMinRows = 1
	DefaultMaxRows = 10000

	WarnDuplicateBeneficiary = "duplicate_beneficiary_amount"
)

// Outcome is the result of validating a whole file. When FileErrors is
// non-empty no row results are kept.
type Outcome struct {
	Rows              []RowResult
	FileErrors        []models.ValidationError
	Warnings          []models.ValidationWarning
	RowsSeen          int
	TotalRows         int
	ValidRows         int
	InvalidRows       int
	TotalAmount       decimal.Decimal
	ErrorCounts       map[models.ErrorCode]int
	CurrencyBreakdown map[string]models.CurrencyStat
}

func (o *Outcome) Fatal() bool {
	return len(o.FileErrors) > 0
}

// Decision is the file status validation leads to.
func (o *Outcome) Decision() models.FileStatus {
	if o.Fatal() || o.ValidRows == 0 {
		return models.FileStatusValidationFailed
	}
	return models.FileStatusValidated
}

func (o *Outcome) Summary() models.ValidationSummary {
	return models.ValidationSummary{
		FileErrors:        o.FileErrors,
		ErrorCounts:       o.ErrorCounts,
		CurrencyBreakdown: o.CurrencyBreakdown,
		Warnings:          o.Warnings,
		RowsSeen:          o.RowsSeen,
	}
}

// Instructions returns every row as an instruction bound to the given file.
func (o *Outcome) Instructions(fileID, tenantID string) []models.PaymentInstruction {
	out := make([]models.PaymentInstruction, 0, len(o.Rows))
	for _, r := range o.Rows {
		inst := r.Instruction
		inst.FileID = fileID
		inst.TenantID = tenantID
		out = append(out, inst)
	}
	return out
}

type FileValidator struct {
	rows    *RowValidator
	minRows int
	maxRows int
}

func NewFileValidator(rows *RowValidator, minRows, maxRows int) *FileValidator {
	if minRows <= 0 {
		minRows = DefaultMinRows
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &FileValidator{rows: rows, minRows: minRows, maxRows: maxRows}
}

// Validate reads src to the end. Structural problems are reported in the
// outcome; only I/O failures and context cancellation return an error.
func (v *FileValidator) Validate(ctx context.Context, src RowSource, fileCurrency string) (*Outcome, error) {
	out := &Outcome{
		TotalAmount:       decimal.Zero,
		ErrorCounts:       make(map[models.ErrorCode]int),
		CurrencyBreakdown: make(map[string]models.CurrencyStat),
	}

	header, err := src.Header()
	if err != nil {
		if errors.Is(err, ErrUnreadable) {
			return out.fatal("", models.ErrCodeUnreadable, err.Error()), nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	columns := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, h := range header {
		columns[i] = NormalizeHeader(h)
		present[columns[i]] = true
	}
	if missing := missingHeaders(present); len(missing) > 0 {
		return out.fatal(strings.Join(missing, ","), models.ErrCodeMissingHeader,
			fmt.Sprintf("missing required header(s): %s", strings.Join(missing, ", "))), nil
	}

	var rows []Row
	for {
		if out.RowsSeen%500 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, ErrUnreadable) {
				return out.fatal("", models.ErrCodeUnreadable, err.Error()), nil
			}
			return nil, fmt.Errorf("read row %d: %w", out.RowsSeen+1, err)
		}

		row := Row{Number: len(rows) + 1, Fields: make(map[string]string, len(columns))}
		for i, col := range columns {
			if col == "" || i >= len(rec) {
				continue
			}
			if _, dup := row.Fields[col]; !dup {
				row.Fields[col] = rec[i]
			}
		}
		if row.blank() {
			continue
		}

		out.RowsSeen++
		if out.RowsSeen > v.maxRows {
			return out.fatal("", models.ErrCodeTooManyRows,
				fmt.Sprintf("file has more than %d data rows", v.maxRows)), nil
		}
		rows = append(rows, row)
	}

	if len(rows) < v.minRows {
		return out.fatal("", models.ErrCodeTooFewRows,
			fmt.Sprintf("file must contain at least %d data row(s)", v.minRows)), nil
	}

	for _, row := range rows {
		out.Rows = append(out.Rows, v.rows.Validate(row, fileCurrency))
	}
	out.crossCheck()
	out.aggregate()
	return out, nil
}

func missingHeaders(present map[string]bool) []string {
	var missing []string
	for _, h := range RequiredHeaders {
		if !present[h] {
			missing = append(missing, h)
		}
	}
	corridor := false
	for _, h := range CorridorHeaders {
		corridor = corridor || present[h]
	}
	if !corridor {
		missing = append(missing, strings.Join(CorridorHeaders, " or "))
	}
	return missing
}

func (o *Outcome) fatal(field string, code models.ErrorCode, msg string) *Outcome {
	o.Rows = nil
	o.FileErrors = append(o.FileErrors, models.ValidationError{Field: field, Code: code, Message: msg})
	o.ErrorCounts[code]++
	return o
}

// crossCheck flags repeated references on every occurrence after the first
// and warns about repeated beneficiary and amount pairs.
func (o *Outcome) crossCheck() {
	refs := make(map[string]int)
	pairs := make(map[string]int)

	for i := range o.Rows {
		r := &o.Rows[i]
		inst := &r.Instruction

		if ref := strings.ToLower(strings.TrimSpace(inst.Reference)); ref != "" {
			if first, seen := refs[ref]; seen {
				r.addError(ColReference, models.ErrCodeDuplicateReference,
					fmt.Sprintf("reference %q already used on row %d", inst.Reference, first))
				inst.Status = models.InstructionStatusValidationFailed
				inst.ValidationErrors = r.Errors
			} else {
				refs[ref] = inst.RowNumber
			}
		}

		if inst.BeneficiaryName == "" || inst.Amount.IsZero() {
			continue
		}
		key := strings.ToLower(inst.BeneficiaryName) + "|" + strings.ToUpper(inst.BeneficiaryAccount) + "|" + inst.Amount.String()
		if first, seen := pairs[key]; seen {
			o.Warnings = append(o.Warnings, models.ValidationWarning{
				RowNumber: inst.RowNumber,
				Code:      WarnDuplicateBeneficiary,
				Message:   fmt.Sprintf("same beneficiary and amount as row %d", first),
			})
		} else {
			pairs[key] = inst.RowNumber
		}
	}
}

func (o *Outcome) aggregate() {
	o.TotalRows = len(o.Rows)
	for _, r := range o.Rows {
		if !r.Valid() {
			o.InvalidRows++
			for _, e := range r.Errors {
				o.ErrorCounts[e.Code]++
			}
			continue
		}
		o.ValidRows++
		o.TotalAmount = o.TotalAmount.Add(r.Instruction.Amount)
		stat := o.CurrencyBreakdown[r.Instruction.Currency]
		stat.Rows++
		stat.Amount = stat.Amount.Add(r.Instruction.Amount)
		o.CurrencyBreakdown[r.Instruction.Currency] = stat
	}
}

// UnreadableOutcome reports a file whose row source could not be opened.
func UnreadableOutcome(err error) *Outcome {
	out := &Outcome{
		TotalAmount:       decimal.Zero,
		ErrorCounts:       make(map[models.ErrorCode]int),
		CurrencyBreakdown: make(map[string]models.CurrencyStat),
	}
	return out.fatal("", models.ErrCodeUnreadable, err.Error())
}
