package validation

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"mass-payments/internal/currency"
	"mass-payments/internal/models"
)

const happyHeader = "beneficiary_name,amount,currency,beneficiary_account,bank_code,reference\n"

func validate(t *testing.T, v *FileValidator, csv string) *Outcome {
	t.Helper()
	out, err := v.Validate(context.Background(), NewCSVSource(strings.NewReader(csv)), "USD")
	require.NoError(t, err)
	return out
}

func newFileValidator(min, max int) *FileValidator {
	return NewFileValidator(NewRowValidator(currency.Default()), min, max)
}

func TestFileValidatorHappyPath(t *testing.T) {
	out := validate(t, newFileValidator(0, 0), happyHeader+"John Doe,500.00,USD,123456789,ABCDUS33,REF1\n")

	assert.False(t, out.Fatal())
	assert.Equal(t, models.FileStatusValidated, out.Decision())
	assert.Equal(t, 1, out.TotalRows)
	assert.Equal(t, 1, out.ValidRows)
	assert.True(t, out.TotalAmount.Equal(decimal.RequireFromString("500.00")))
	assert.Equal(t, 1, out.CurrencyBreakdown["USD"].Rows)

	insts := out.Instructions("file-1", "tenant-1")
	require.Len(t, insts, 1)
	assert.Equal(t, "file-1", insts[0].FileID)
	assert.Equal(t, "tenant-1", insts[0].TenantID)
	assert.Equal(t, 1, insts[0].RowNumber)
}

func TestFileValidatorMissingHeader(t *testing.T) {
	csv := "beneficiary_name,currency,beneficiary_account,bank_code,reference\nJohn Doe,USD,123456789,ABCDUS33,REF1\n"

	out := validate(t, newFileValidator(0, 0), csv)

	require.Len(t, out.FileErrors, 1)
	assert.Equal(t, models.ErrCodeMissingHeader, out.FileErrors[0].Code)
	assert.Contains(t, out.FileErrors[0].Message, "amount")
	assert.Empty(t, out.Rows)
	assert.Equal(t, models.FileStatusValidationFailed, out.Decision())
}

func TestFileValidatorHeadersAreCaseInsensitive(t *testing.T) {
	csv := " Beneficiary Name , AMOUNT ,Currency,Beneficiary_Account,Settlement_Method,Reference\n" +
		"Jane Roe,20,USD,998877,swift,A1\n"

	out := validate(t, newFileValidator(0, 0), csv)

	require.False(t, out.Fatal(), "file errors: %v", out.FileErrors)
	assert.Equal(t, 1, out.InvalidRows, "swift corridor still needs a BIC")
	assert.Equal(t, models.FileStatusValidationFailed, out.Decision())
}

func TestFileValidatorRowBounds(t *testing.T) {
	rows := happyHeader +
		"A One,10,USD,111111,ABCDUS33,R1\n" +
		"B Two,10,USD,222222,ABCDUS33,R2\n" +
		"C Three,10,USD,333333,ABCDUS33,R3\n"

	out := validate(t, newFileValidator(1, 2), rows)
	require.Len(t, out.FileErrors, 1)
	assert.Equal(t, models.ErrCodeTooManyRows, out.FileErrors[0].Code)
	assert.Equal(t, 3, out.RowsSeen)
	assert.Empty(t, out.Rows)

	out = validate(t, newFileValidator(1, 2), happyHeader+"\n,,,,,\n")
	require.Len(t, out.FileErrors, 1)
	assert.Equal(t, models.ErrCodeTooFewRows, out.FileErrors[0].Code)
}

func TestFileValidatorDuplicateReferences(t *testing.T) {
	rows := happyHeader +
		"A One,10,USD,111111,ABCDUS33,dup-1\n" +
		"B Two,20,USD,222222,ABCDUS33, DUP-1 \n" +
		"C Three,30,USD,333333,ABCDUS33,dup-1\n" +
		"D Four,40,USD,444444,ABCDUS33,other\n"

	out := validate(t, newFileValidator(0, 0), rows)

	require.Len(t, out.Rows, 4)
	assert.True(t, out.Rows[0].Valid())
	assert.Equal(t, []models.ErrorCode{models.ErrCodeDuplicateReference}, codes(out.Rows[1].Errors))
	assert.Equal(t, []models.ErrorCode{models.ErrCodeDuplicateReference}, codes(out.Rows[2].Errors))
	assert.Equal(t, models.InstructionStatusValidationFailed, out.Rows[2].Instruction.Status)
	assert.True(t, out.Rows[3].Valid())
	assert.Equal(t, 2, out.ErrorCounts[models.ErrCodeDuplicateReference])
	assert.True(t, out.TotalAmount.Equal(decimal.NewFromInt(50)))
}

func TestFileValidatorDuplicateBeneficiaryIsWarning(t *testing.T) {
	rows := happyHeader +
		"A One,10,USD,111111,ABCDUS33,R1\n" +
		"A One,10,USD,111111,ABCDUS33,R2\n"

	out := validate(t, newFileValidator(0, 0), rows)

	assert.Equal(t, 2, out.ValidRows)
	require.Len(t, out.Warnings, 1)
	assert.Equal(t, 2, out.Warnings[0].RowNumber)
	assert.Equal(t, WarnDuplicateBeneficiary, out.Warnings[0].Code)
}

func TestFileValidatorConservation(t *testing.T) {
	rows := happyHeader +
		"A One,10.50,USD,111111,ABCDUS33,R1\n" +
		"B Two,abc,USD,222222,ABCDUS33,R2\n" +
		"\n" +
		"C Three,5,EUR,333333,ABCDUS33,R3\n" +
		"D Four,7.25,USD,444444,ABCDUS33,R4\n"

	out := validate(t, newFileValidator(0, 0), rows)

	assert.Equal(t, 4, out.TotalRows, "blank lines are not rows")
	assert.Equal(t, out.TotalRows, out.ValidRows+out.InvalidRows)
	assert.Equal(t, 2, out.ValidRows)

	sum := decimal.Zero
	for _, r := range out.Rows {
		if r.Valid() {
			sum = sum.Add(r.Instruction.Amount)
		}
	}
	assert.True(t, out.TotalAmount.Equal(sum))
	assert.True(t, out.TotalAmount.Equal(decimal.RequireFromString("17.75")))
	assert.Equal(t, 4, out.Rows[3].Instruction.RowNumber)
}

func TestFileValidatorZeroValidRowsFails(t *testing.T) {
	out := validate(t, newFileValidator(0, 0), happyHeader+"A One,-1,USD,111111,ABCDUS33,R1\n")

	assert.False(t, out.Fatal())
	assert.Equal(t, 0, out.ValidRows)
	assert.Equal(t, models.FileStatusValidationFailed, out.Decision())
}

func TestFileValidatorUnreadableCSV(t *testing.T) {
	out := validate(t, newFileValidator(0, 0), happyHeader+"A \"One,10,USD,111111,ABCDUS33,R1\n")

	require.Len(t, out.FileErrors, 1)
	assert.Equal(t, models.ErrCodeUnreadable, out.FileErrors[0].Code)
	assert.Equal(t, models.FileStatusValidationFailed, out.Decision())
}

func TestFileValidatorCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newFileValidator(0, 0).Validate(ctx, NewCSVSource(strings.NewReader(happyHeader+"A,1,USD,1111,ABCDUS33,R\n")), "USD")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileValidatorXLSXSource(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"beneficiary_name", "amount", "currency", "beneficiary_account", "bank_code", "reference"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"John Doe", "500.00", "USD", "123456789", "ABCDUS33", "REF1"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	src, err := NewSource("payments.xlsx", buf)
	require.NoError(t, err)
	defer src.Close()

	out, err := newFileValidator(0, 0).Validate(context.Background(), src, "USD")
	require.NoError(t, err)
	assert.Equal(t, 1, out.ValidRows)
	assert.Equal(t, models.FileStatusValidated, out.Decision())
}
