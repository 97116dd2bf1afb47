package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mass-payments/internal/models"
	"mass-payments/internal/validation"
)

func singleAmount(amount string) [][]string {
	rows := usdRows(1)
	rows[0][col(validation.ColAmount)] = amount
	return rows
}

func TestApprovalThresholdIsInclusive(t *testing.T) {
	tests := []struct {
		amount string
		want   models.FileStatus
	}{
		{"10000.00", models.FileStatusAwaitingApproval},
		{"9999.99", models.FileStatusValidated},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			h := newHarness(t)
			file := h.uploadAndValidate(singleAmount(tt.amount))
			assert.Equal(t, tt.want, file.Status)
		})
	}
}

func TestRequiresApprovalForeignCurrency(t *testing.T) {
	h := newHarness(t)
	file := &models.PaymentFile{TenantID: h.tenant.ID, Currency: "EUR", TotalRows: 1, ValidRows: 1}
	assert.True(t, h.approvals.RequiresApproval(h.ctx, file))
}

func TestRequiresApprovalFailsSafe(t *testing.T) {
	h := newHarness(t)
	file := &models.PaymentFile{TenantID: "unknown-tenant", Currency: "USD", TotalRows: 1, ValidRows: 1}
	assert.True(t, h.approvals.RequiresApproval(h.ctx, file))
}

func TestCreateRequestIsIdempotent(t *testing.T) {
	h := newHarness(t)
	file := h.uploadAndValidate(singleAmount("20000.00"))
	require.Equal(t, models.FileStatusAwaitingApproval, file.Status)

	first, err := h.approvals.CreateRequest(h.ctx, file)
	require.NoError(t, err)
	second, err := h.approvals.CreateRequest(h.ctx, file)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, h.approver.UserID, first.ApproverID)

	all, err := h.approvals.ListApprovals(h.ctx, h.uploader, file.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func pendingApproval(t *testing.T, h *harness, fileID string) models.Approval {
	t.Helper()
	list, err := h.approvals.ListApprovals(h.ctx, h.uploader, fileID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, models.ApprovalStatusPending, list[0].Status)
	return list[0]
}

func TestDecideApproveDispatchesProcessing(t *testing.T) {
	h := newHarness(t)
	file := h.uploadAndValidate(singleAmount("20000.00"))
	approval := pendingApproval(t, h, file.ID)

	status, err := h.approvals.Decide(h.ctx, h.approver, approval.ID, models.ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusApproved, status)
	assert.Equal(t, models.FileStatusApproved, h.file(file.ID).Status)
	assert.Equal(t, []string{file.ID}, h.dispatcher.processed())

	_, err = h.approvals.Decide(h.ctx, h.approver, approval.ID, models.ActionReject, "too late")
	assert.ErrorIs(t, err, ErrApprovalAlreadyDecided)
}

func TestDecideReject(t *testing.T) {
	h := newHarness(t)
	file := h.uploadAndValidate(singleAmount("20000.00"))
	approval := pendingApproval(t, h, file.ID)

	_, err := h.approvals.Decide(h.ctx, h.approver, approval.ID, models.ActionReject, "  ")
	assert.ErrorIs(t, err, ErrCommentsRequired)

	status, err := h.approvals.Decide(h.ctx, h.approver, approval.ID, models.ActionReject, "wrong beneficiary")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusRejected, status)
	assert.Empty(t, h.dispatcher.processed())
}

func TestDecideOnlyByDesignatedApprover(t *testing.T) {
	h := newHarness(t)
	file := h.uploadAndValidate(singleAmount("20000.00"))
	approval := pendingApproval(t, h, file.ID)

	_, err := h.approvals.Decide(h.ctx, h.uploader, approval.ID, models.ActionApprove, "")
	assert.ErrorIs(t, err, ErrNotApprover)

	stranger := models.Principal{UserID: h.approver.UserID, TenantID: "tenant-2", Role: models.RoleApprover}
	_, err = h.approvals.Decide(h.ctx, stranger, approval.ID, models.ActionApprove, "")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = h.approvals.Decide(h.ctx, h.approver, approval.ID, models.ApprovalAction("maybe"), "")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestDecideAfterExpiry(t *testing.T) {
	h := newHarness(t)
	file := h.uploadAndValidate(singleAmount("20000.00"))
	approval := pendingApproval(t, h, file.ID)

	h.clock.Advance(73 * time.Hour)

	_, err := h.approvals.Decide(h.ctx, h.approver, approval.ID, models.ActionApprove, "")
	assert.ErrorIs(t, err, ErrApprovalExpired)

	stored, err := h.store.GetApproval(h.ctx, approval.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, stored.Status)
	assert.Equal(t, models.FileStatusAwaitingApproval, h.file(file.ID).Status)

	// A new request replaces the expired approval.
	renewed, err := h.approvals.CreateRequest(h.ctx, h.file(file.ID))
	require.NoError(t, err)
	assert.NotEqual(t, approval.ID, renewed.ID)
}

func TestCreateRequestWithoutApprovers(t *testing.T) {
	h := newHarness(t)
	h.store.AddUser(models.User{ID: "user-ap", TenantID: h.tenant.ID, Username: "approver", Role: models.RoleApprover, IsActive: false})

	file := h.uploadAndValidate(singleAmount("9999.99"))
	require.Equal(t, models.FileStatusValidated, file.Status)

	_, err := h.approvals.CreateRequest(h.ctx, file)
	assert.ErrorIs(t, err, ErrNoApprovers)
	assert.Equal(t, models.FileStatusValidated, h.file(file.ID).Status)
}
