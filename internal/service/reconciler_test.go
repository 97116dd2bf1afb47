package service

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mass-payments/internal/models"
	"mass-payments/internal/validation"
)

func TestSweepRedispatchesStalledFiles(t *testing.T) {
	h := newHarness(t)

	draft, err := h.files.Upload(h.ctx, h.uploader, models.UploadRequest{
		Filename: "stalled.csv", Currency: "USD", SettlementAccountID: h.account.ID,
	}, bytes.NewReader(csvBytes(t, validation.Columns, usdRows(2))))
	require.NoError(t, err)
	approved := h.approvedFile(usdRows(3))

	report, err := h.reconciler.Sweep(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report, "fresh files are left alone")

	h.clock.Advance(31 * time.Minute)
	report, err = h.reconciler.Sweep(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Revalidated)
	assert.Equal(t, 1, report.Redispatched)
	require.Len(t, h.dispatcher.validations, 3)
	assert.Equal(t, draft.ID, h.dispatcher.validations[2])
	assert.Equal(t, []string{approved.ID, approved.ID}, h.dispatcher.processed())
}

func TestSweepDoesNotCountLiveJobs(t *testing.T) {
	h := newHarness(t)
	file := h.approvedFile(usdRows(2))
	h.dispatcher.live = map[string]bool{file.ID: true}

	h.clock.Advance(31 * time.Minute)
	report, err := h.reconciler.Sweep(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Redispatched)
	assert.Equal(t, models.FileStatusApproved, h.file(file.ID).Status)

	delete(h.dispatcher.live, file.ID)
	report, err = h.reconciler.Sweep(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Redispatched)
}

func TestSweepFailsInstructionsWithoutProviderResponse(t *testing.T) {
	h := newHarness(t)
	file := h.approvedFile(usdRows(3))

	// Simulate a worker that died after marking row 1 in flight.
	require.NoError(t, h.store.UpdateFileStatus(h.ctx, file.ID, models.FileStatusApproved, models.FileStatusProcessing))
	inst := h.instructions(file.ID)[0]
	inst.Status = models.InstructionStatusProcessing
	require.NoError(t, h.store.UpdateInstruction(h.ctx, &inst, models.InstructionStatusValidated))
	require.NoError(t, h.store.ReserveFunds(h.ctx, h.account.ID, inst.ID, inst.Amount))

	h.clock.Advance(31 * time.Minute)
	report, err := h.reconciler.Sweep(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 1, report.Redispatched, "remaining rows go back to the queue")
	assert.Zero(t, report.Finalized)

	stored, err := h.store.GetInstruction(h.ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstructionStatusFailed, stored.Status)
	assert.Equal(t, string(models.FailureProcessingTimeout), failureCode(*stored))
	res, _ := h.store.Reservation(inst.ID)
	assert.Equal(t, models.ReservationReleased, res.Status)

	// The redispatched job finishes the file.
	result, err := h.processor.Process(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, models.FileStatusCompleted, h.file(file.ID).Status)
}

func TestSweepExpiresStaleApprovals(t *testing.T) {
	h := newHarness(t)
	file := h.uploadAndValidate(singleAmount("25000.00"))
	approval := pendingApproval(t, h, file.ID)

	h.clock.Advance(73 * time.Hour)
	_, err := h.reconciler.Sweep(h.ctx)
	require.NoError(t, err)

	stored, err := h.store.GetApproval(h.ctx, approval.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, stored.Status)
	assert.Equal(t, models.FileStatusAwaitingApproval, h.file(file.ID).Status)
}
