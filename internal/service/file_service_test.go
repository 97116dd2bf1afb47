package service

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"mass-payments/internal/models"
	"mass-payments/internal/validation"
)

func TestValidateHappyPathAutoApproves(t *testing.T) {
	h := newHarness(t)

	file := h.uploadAndValidate(usdRows(3))
	assert.Equal(t, models.FileStatusValidated, file.Status)
	assert.Equal(t, 3, file.TotalRows)
	assert.Equal(t, 3, file.ValidRows)
	assert.Equal(t, 0, file.InvalidRows)
	assert.True(t, decimal.RequireFromString("36.00").Equal(file.TotalAmount), file.TotalAmount.String())

	for _, inst := range h.instructions(file.ID) {
		assert.Equal(t, models.InstructionStatusValidated, inst.Status)
		assert.Empty(t, inst.ValidationErrors)
	}

	file, err := h.files.Submit(h.ctx, h.uploader, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusApproved, file.Status)
	assert.Equal(t, []string{file.ID}, h.dispatcher.processed())
}

func TestValidateMissingHeaderFailsWholeFile(t *testing.T) {
	h := newHarness(t)

	header := []string{"beneficiary_name", "currency", "beneficiary_account", "settlement_method"}
	data := csvBytes(t, header, [][]string{{"Jane Doe", "USD", "400000001", "swift"}})
	file, err := h.files.Upload(h.ctx, h.uploader, models.UploadRequest{
		Filename: "no-amount.csv", Currency: "USD", SettlementAccountID: h.account.ID,
	}, bytes.NewReader(data))
	require.NoError(t, err)

	file, err = h.files.Validate(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusValidationFailed, file.Status)
	require.Len(t, file.ValidationSummary.FileErrors, 1)
	assert.Equal(t, models.ErrCodeMissingHeader, file.ValidationSummary.FileErrors[0].Code)
	assert.Contains(t, file.ValidationSummary.FileErrors[0].Message, "amount")
	assert.Empty(t, h.instructions(file.ID))
}

func TestValidateCountsAndTotalsOnlyValidRows(t *testing.T) {
	h := newHarness(t)

	rows := usdRows(5)
	rows[1][col(validation.ColAmount)] = "-5.00"
	rows[3][col(validation.ColAmount)] = "12.345"

	file := h.uploadAndValidate(rows)
	// 40% invalid rows forces an approval round.
	assert.Equal(t, models.FileStatusAwaitingApproval, file.Status)
	assert.Equal(t, 5, file.TotalRows)
	assert.Equal(t, 3, file.ValidRows)
	assert.Equal(t, 2, file.InvalidRows)
	assert.Equal(t, file.TotalRows, file.ValidRows+file.InvalidRows)
	// 11 + 13 + 15
	assert.True(t, decimal.RequireFromString("39.00").Equal(file.TotalAmount), file.TotalAmount.String())

	failed := 0
	for _, inst := range h.instructions(file.ID) {
		if inst.Status == models.InstructionStatusValidationFailed {
			failed++
			assert.NotEmpty(t, inst.ValidationErrors)
		}
	}
	assert.Equal(t, 2, failed)
}

func TestValidateFlagsLaterDuplicateReferences(t *testing.T) {
	h := newHarness(t)

	rows := usdRows(3)
	rows[2][col(validation.ColReference)] = " " + strings.ToLower(rows[0][col(validation.ColReference)])

	file := h.uploadAndValidate(rows)
	assert.Equal(t, 2, file.ValidRows)

	list := h.instructions(file.ID)
	require.Len(t, list, 3)
	assert.Equal(t, models.InstructionStatusValidated, list[0].Status)
	assert.Equal(t, models.InstructionStatusValidationFailed, list[2].Status)
	require.NotEmpty(t, list[2].ValidationErrors)
	assert.Equal(t, models.ErrCodeDuplicateReference, list[2].ValidationErrors[0].Code)
}

func TestValidateAllRowsInvalidFailsFile(t *testing.T) {
	h := newHarness(t)

	rows := usdRows(2)
	for _, r := range rows {
		r[col(validation.ColCurrency)] = "EUR"
	}
	file := h.uploadAndValidate(rows)
	assert.Equal(t, models.FileStatusValidationFailed, file.Status)
	assert.Equal(t, 0, file.ValidRows)
}

func TestValidateIsIdempotent(t *testing.T) {
	h := newHarness(t)

	file := h.uploadAndValidate(usdRows(2))
	again, err := h.files.Validate(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, file.Status, again.Status)
	assert.Len(t, h.instructions(file.ID), 2)
}

func TestUploadGuards(t *testing.T) {
	h := newHarness(t)
	h.store.AddSettlementAccount(models.SettlementAccount{
		ID: "acct-eur", TenantID: h.tenant.ID, Currency: "EUR", AvailableBalance: decimal.NewFromInt(100),
	})
	data := csvBytes(t, validation.Columns, usdRows(1))

	tests := []struct {
		name    string
		req     models.UploadRequest
		wantErr error
	}{
		{
			name:    "unsupported extension",
			req:     models.UploadRequest{Filename: "payments.pdf", Currency: "USD", SettlementAccountID: h.account.ID},
			wantErr: ErrInvalidUpload,
		},
		{
			name:    "account currency mismatch",
			req:     models.UploadRequest{Filename: "payments.csv", Currency: "USD", SettlementAccountID: "acct-eur"},
			wantErr: ErrInvalidUpload,
		},
		{
			name:    "unknown account",
			req:     models.UploadRequest{Filename: "payments.csv", Currency: "USD", SettlementAccountID: "missing"},
			wantErr: ErrInvalidUpload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.files.Upload(h.ctx, h.uploader, tt.req, bytes.NewReader(data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("duplicate content", func(t *testing.T) {
		req := models.UploadRequest{Filename: "first.csv", Currency: "USD", SettlementAccountID: h.account.ID}
		_, err := h.files.Upload(h.ctx, h.uploader, req, bytes.NewReader(data))
		require.NoError(t, err)

		req.Filename = "second.csv"
		_, err = h.files.Upload(h.ctx, h.uploader, req, bytes.NewReader(data))
		assert.ErrorIs(t, err, models.ErrDuplicateFile)
	})
}

func TestFileIsTenantScoped(t *testing.T) {
	h := newHarness(t)
	file := h.uploadAndValidate(usdRows(1))

	other := models.Principal{UserID: "intruder", TenantID: "tenant-2", Role: models.RoleAdmin}
	_, err := h.files.Get(h.ctx, other, file.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = h.files.Cancel(h.ctx, other, file.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCancelCascadesToInstructions(t *testing.T) {
	h := newHarness(t)
	file := h.approvedFile(usdRows(3))

	file, err := h.files.Cancel(h.ctx, h.uploader, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusCancelled, file.Status)
	for _, inst := range h.instructions(file.ID) {
		assert.Equal(t, models.InstructionStatusCancelled, inst.Status)
	}

	_, err = h.files.Cancel(h.ctx, h.uploader, file.ID)
	assert.Error(t, err, "cancelled is terminal")

	_, err = h.processor.Process(h.ctx, file.ID)
	assert.ErrorIs(t, err, ErrFileNotProcessable)
}

func TestDeleteGuards(t *testing.T) {
	h := newHarness(t)

	t.Run("validated file is soft deleted", func(t *testing.T) {
		file := h.uploadAndValidate(usdRows(1))
		require.NoError(t, h.files.Delete(h.ctx, h.uploader, file.ID))

		_, err := h.files.Get(h.ctx, h.uploader, file.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.Empty(t, h.storage.blobs[file.StoredFileRef])
	})

	t.Run("completed file is kept", func(t *testing.T) {
		file := h.approvedFile(usdRows(2))
		_, err := h.processor.Process(h.ctx, file.ID)
		require.NoError(t, err)

		err = h.files.Delete(h.ctx, h.uploader, file.ID)
		assert.ErrorIs(t, err, ErrFileNotDeletable)
	})
}

func TestListInstructionsPaginates(t *testing.T) {
	h := newHarness(t)
	file := h.uploadAndValidate(usdRows(5))

	items, total, err := h.files.ListInstructions(h.ctx, h.uploader, file.ID, models.InstructionQuery{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 2)
	assert.Equal(t, 3, items[0].RowNumber)
}

func TestTemplateRowsPassValidation(t *testing.T) {
	h := newHarness(t)

	var buf bytes.Buffer
	require.NoError(t, h.files.Template(&buf, "USD", "csv", 4))

	file, err := h.files.Upload(h.ctx, h.uploader, models.UploadRequest{
		Filename: "template.csv", Currency: "USD", SettlementAccountID: h.account.ID,
	}, &buf)
	require.NoError(t, err)
	file, err = h.files.Validate(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, file.ValidRows)

	assert.ErrorIs(t, h.files.Template(&buf, "USD", "pdf", 1), ErrInvalidUpload)
}

func TestExportListsTenantFiles(t *testing.T) {
	h := newHarness(t)
	h.uploadAndValidate(usdRows(1))
	h.uploadAndValidate(usdRows(2))

	var buf bytes.Buffer
	require.NoError(t, h.files.Export(h.ctx, h.uploader, models.FileFilter{}, &buf))

	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows("Payment Files")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 3)
	assert.Equal(t, "Filename", rows[0][1])
	assert.Equal(t, string(models.FileStatusValidated), rows[1][3])
	assert.Equal(t, "Total Files: 2", rows[4][1])
}
