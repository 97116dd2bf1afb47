package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mass-payments/internal/config"
	"mass-payments/internal/currency"
	"mass-payments/internal/models"
	"mass-payments/internal/provider"
	"mass-payments/internal/repository/memory"
	"mass-payments/internal/validation"
)

func withAccount(rows [][]string, i int, account string) [][]string {
	rows[i][col(validation.ColBeneficiaryAccount)] = account
	return rows
}

func failureCode(inst models.PaymentInstruction) string {
	if inst.FailureCode == nil {
		return ""
	}
	return *inst.FailureCode
}

func TestProcessSettlesEveryInstruction(t *testing.T) {
	h := newHarness(t)
	file := h.approvedFile(usdRows(3))

	result, err := h.processor.Process(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.True(t, decimal.RequireFromString("36").Equal(result.TotalAmount))

	stored := h.file(file.ID)
	assert.Equal(t, models.FileStatusCompleted, stored.Status)
	assert.Equal(t, 3, stored.SucceededCount)
	assert.True(t, decimal.RequireFromString("36").Equal(stored.ProcessedAmount))

	for _, inst := range h.instructions(file.ID) {
		assert.Equal(t, models.InstructionStatusCompleted, inst.Status)
		require.NotNil(t, inst.ExternalTransactionID)
		assert.NotNil(t, inst.ProcessedAt)
		res, ok := h.store.Reservation(inst.ID)
		require.True(t, ok)
		assert.Equal(t, models.ReservationCommitted, res.Status)
	}

	acct := h.balance()
	assert.True(t, decimal.RequireFromString("999964").Equal(acct.AvailableBalance), acct.AvailableBalance.String())
	assert.True(t, acct.ReservedBalance.IsZero())

	_, err = h.processor.Process(h.ctx, file.ID)
	assert.ErrorIs(t, err, ErrFileNotProcessable)
}

func TestProcessPartialSuccess(t *testing.T) {
	h := newHarness(t)
	rows := usdRows(10)
	for i := 0; i < 3; i++ {
		withAccount(rows, i*3, fmt.Sprintf("REJECT%06d", i))
	}
	file := h.approvedFile(rows)

	result, err := h.processor.Process(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Processed)
	assert.Equal(t, 7, result.Succeeded)
	assert.Equal(t, 3, result.Failed)
	assert.Equal(t, models.FileStatusCompleted, h.file(file.ID).Status)

	succeeded := decimal.Zero
	for _, inst := range h.instructions(file.ID) {
		switch inst.Status {
		case models.InstructionStatusCompleted:
			succeeded = succeeded.Add(inst.Amount)
		case models.InstructionStatusFailed:
			assert.Equal(t, string(models.FailureProviderRejected), failureCode(inst))
			assert.NotNil(t, inst.FailureReason)
		default:
			t.Fatalf("row %d left in %s", inst.RowNumber, inst.Status)
		}
	}
	assert.True(t, succeeded.Equal(result.TotalAmount))

	acct := h.balance()
	assert.True(t, decimal.NewFromInt(1_000_000).Sub(succeeded).Equal(acct.AvailableBalance))
}

func TestProcessNeverOverdrawsAccount(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.ProcessingConcurrency = 3 })
	h.account.AvailableBalance = decimal.NewFromInt(30)
	h.store.AddSettlementAccount(h.account)

	file := h.approvedFile(usdRows(3))
	result, err := h.processor.Process(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	committed := decimal.Zero
	for _, inst := range h.instructions(file.ID) {
		switch inst.Status {
		case models.InstructionStatusCompleted:
			committed = committed.Add(inst.Amount)
		case models.InstructionStatusFailed:
			assert.Equal(t, string(models.FailureInsufficientFunds), failureCode(inst))
		}
	}

	acct := h.balance()
	assert.False(t, acct.AvailableBalance.IsNegative())
	assert.True(t, acct.ReservedBalance.IsZero())
	assert.True(t, acct.AvailableBalance.Add(committed).Equal(decimal.NewFromInt(30)))
}

func TestProcessProviderTimeoutFailsInstruction(t *testing.T) {
	h := newHarness(t)
	file := h.approvedFile(withAccount(usdRows(2), 0, "TIMEOUT00001"))

	result, err := h.processor.Process(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	list := h.instructions(file.ID)
	assert.Equal(t, models.InstructionStatusFailed, list[0].Status)
	assert.Equal(t, string(models.FailureProviderTimeout), failureCode(list[0]))
	res, _ := h.store.Reservation(list[0].ID)
	assert.Equal(t, models.ReservationReleased, res.Status)
	assert.Equal(t, models.FileStatusCompleted, h.file(file.ID).Status)
}

func TestProviderUnavailableHaltsFileAndRetryRecovers(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.MaxRetries = 1 })
	file := h.approvedFile(usdRows(3))

	h.sandbox.SetUnavailable(true)
	result, err := h.processor.Process(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Failed)
	assert.Equal(t, models.FileStatusFailed, h.file(file.ID).Status)

	list := h.instructions(file.ID)
	for _, inst := range list {
		assert.Equal(t, string(models.FailureProviderUnavailable), failureCode(inst))
	}
	assert.True(t, h.balance().AvailableBalance.Equal(decimal.NewFromInt(1_000_000)))

	h.sandbox.SetUnavailable(false)
	retried, err := h.processor.Retry(h.ctx, h.uploader, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstructionStatusPending, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Nil(t, retried.FailureCode)
	assert.Equal(t, []string{list[0].ID}, h.dispatcher.instructions)

	require.NoError(t, h.processor.ExecuteInstruction(h.ctx, list[0].ID))
	inst, err := h.store.GetInstruction(h.ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstructionStatusCompleted, inst.Status)
	assert.Equal(t, models.FileStatusFailed, h.file(file.ID).Status)
	assert.Equal(t, 1, h.file(file.ID).SucceededCount)

	_, err = h.processor.Retry(h.ctx, h.uploader, list[0].ID)
	assert.ErrorIs(t, err, ErrNotRetryable, "completed instructions are not retryable")

	h.sandbox.SetUnavailable(true)
	_, err = h.processor.Retry(h.ctx, h.uploader, list[1].ID)
	require.NoError(t, err)
	require.NoError(t, h.processor.ExecuteInstruction(h.ctx, list[1].ID))
	_, err = h.processor.Retry(h.ctx, h.uploader, list[1].ID)
	assert.ErrorIs(t, err, ErrNotRetryable, "retry limit reached")
}

func TestRetryRequiresOwnTenant(t *testing.T) {
	h := newHarness(t)
	file := h.approvedFile(withAccount(usdRows(1), 0, "REJECT000001"))
	_, err := h.processor.Process(h.ctx, file.ID)
	require.NoError(t, err)

	inst := h.instructions(file.ID)[0]
	_, err = h.processor.Retry(h.ctx, models.Principal{UserID: "x", TenantID: "tenant-2"}, inst.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRetryOnlyAfterProviderOrBalanceFailures(t *testing.T) {
	tests := []struct {
		code      models.FailureCode
		retryable bool
	}{
		{code: models.FailureProviderRejected, retryable: true},
		{code: models.FailureProviderTimeout, retryable: true},
		{code: models.FailureInsufficientFunds, retryable: true},
		{code: models.FailurePreflight},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			h := newHarness(t)
			file := h.approvedFile(withAccount(usdRows(1), 0, "REJECT000001"))
			_, err := h.processor.Process(h.ctx, file.ID)
			require.NoError(t, err)

			inst := h.instructions(file.ID)[0]
			require.Equal(t, models.InstructionStatusFailed, inst.Status)
			inst.SetFailure(tt.code, "recorded failure")
			require.NoError(t, h.store.UpdateInstruction(h.ctx, &inst, models.InstructionStatusFailed))

			retried, err := h.processor.Retry(h.ctx, h.uploader, inst.ID)
			if !tt.retryable {
				assert.ErrorIs(t, err, ErrNotRetryable)
				assert.Empty(t, h.dispatcher.instructions)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.InstructionStatusPending, retried.Status)
		})
	}
}

func TestCancelInstructionWithProvider(t *testing.T) {
	h := newHarness(t)
	rows := usdRows(2)
	withAccount(rows, 0, "PENDING00001")
	withAccount(rows, 1, "PENDING00002")
	file := h.approvedFile(rows)

	_, err := h.processor.Process(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusProcessing, h.file(file.ID).Status, "provider pending keeps the file open")

	list := h.instructions(file.ID)
	for _, inst := range list {
		assert.Equal(t, models.InstructionStatusProcessing, inst.Status)
		require.NotNil(t, inst.ExternalTransactionID)
	}

	h.sandbox.Settle(*list[0].ExternalTransactionID)
	_, err = h.processor.CancelInstruction(h.ctx, h.uploader, list[0].ID)
	assert.ErrorIs(t, err, ErrAlreadySettled)
	untouched, err := h.store.GetInstruction(h.ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstructionStatusProcessing, untouched.Status)

	cancelled, err := h.processor.CancelInstruction(h.ctx, h.uploader, list[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstructionStatusCancelled, cancelled.Status)
	res, _ := h.store.Reservation(list[1].ID)
	assert.Equal(t, models.ReservationReleased, res.Status)

	_, err = h.processor.CancelInstruction(h.ctx, h.uploader, list[1].ID)
	assert.ErrorIs(t, err, ErrNotCancellable)

	h.clock.Advance(31 * time.Minute)
	report, err := h.reconciler.Sweep(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 1, report.Finalized)

	stored := h.file(file.ID)
	assert.Equal(t, models.FileStatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.SucceededCount)
	res, _ = h.store.Reservation(list[0].ID)
	assert.Equal(t, models.ReservationCommitted, res.Status)
}

func TestCancelFileWithdrawsProviderPendingPayments(t *testing.T) {
	h := newHarness(t)
	file := h.approvedFile(withAccount(usdRows(1), 0, "PENDING00001"))

	_, err := h.processor.Process(h.ctx, file.ID)
	require.NoError(t, err)
	inst := h.instructions(file.ID)[0]
	require.NotNil(t, inst.ExternalTransactionID)
	assert.False(t, h.balance().ReservedBalance.IsZero())

	cancelled, err := h.files.Cancel(h.ctx, h.uploader, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusCancelled, cancelled.Status)

	stored, err := h.store.GetInstruction(h.ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstructionStatusCancelled, stored.Status)
	res, _ := h.store.Reservation(inst.ID)
	assert.Equal(t, models.ReservationReleased, res.Status)
	assert.True(t, h.balance().ReservedBalance.IsZero())

	status, err := h.sandbox.QueryStatus(h.ctx, *inst.ExternalTransactionID)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusCanceled, status)

	report, err := h.reconciler.Sweep(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Withdrawn)
	stored, err = h.store.GetInstruction(h.ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstructionStatusCancelled, stored.Status)
}

func TestSweepResolvesPendingPaymentsOfCancelledFile(t *testing.T) {
	h := newHarness(t)
	file := h.approvedFile(withAccount(usdRows(1), 0, "PENDING00001"))

	_, err := h.processor.Process(h.ctx, file.ID)
	require.NoError(t, err)
	inst := h.instructions(file.ID)[0]
	require.NotNil(t, inst.ExternalTransactionID)

	h.sandbox.SetUnavailable(true)
	_, err = h.files.Cancel(h.ctx, h.uploader, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusCancelled, h.file(file.ID).Status)

	stored, err := h.store.GetInstruction(h.ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstructionStatusProcessing, stored.Status, "unconfirmed cancellations wait for the sweep")
	res, _ := h.store.Reservation(inst.ID)
	assert.Equal(t, models.ReservationReserved, res.Status)

	h.sandbox.SetUnavailable(false)
	h.sandbox.Settle(*inst.ExternalTransactionID)
	report, err := h.reconciler.Sweep(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Withdrawn)

	stored, err = h.store.GetInstruction(h.ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstructionStatusCompleted, stored.Status)
	res, _ = h.store.Reservation(inst.ID)
	assert.Equal(t, models.ReservationCommitted, res.Status)
	assert.True(t, h.balance().ReservedBalance.IsZero())
	assert.Equal(t, 1, h.file(file.ID).SucceededCount)
	assert.Equal(t, models.FileStatusCancelled, h.file(file.ID).Status)
}

// ctxRepository rejects writes on a done context like the SQL store does and
// fails the move to processing for one instruction once the gate opens.
type ctxRepository struct {
	*memory.Store
	failID string
	gate   <-chan struct{}
	failed chan struct{}
}

func (r *ctxRepository) UpdateInstruction(ctx context.Context, inst *models.PaymentInstruction, from models.InstructionStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if inst.ID == r.failID && inst.Status == models.InstructionStatusProcessing {
		<-r.gate
		close(r.failed)
		return errors.New("db down")
	}
	return r.Store.UpdateInstruction(ctx, inst, from)
}

// gatedProvider settles once the sibling row has failed.
type gatedProvider struct {
	started chan struct{}
	failed  <-chan struct{}
}

func (p *gatedProvider) Name() string { return "gated" }

func (p *gatedProvider) Execute(_ context.Context, inst models.PaymentInstruction) (provider.Result, error) {
	close(p.started)
	<-p.failed
	time.Sleep(20 * time.Millisecond)
	return provider.Result{TransactionID: "tx-" + inst.ID, Status: provider.StatusSettled}, nil
}

func (p *gatedProvider) QueryStatus(context.Context, string) (provider.Status, error) {
	return provider.StatusSettled, nil
}

func (p *gatedProvider) Cancel(context.Context, string) error { return nil }

func TestSettledPaymentRecordedWhenSiblingFails(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.ProcessingConcurrency = 2 })
	file := h.approvedFile(usdRows(2))
	list := h.instructions(file.ID)

	failed := make(chan struct{})
	prov := &gatedProvider{started: make(chan struct{}), failed: failed}
	h.providers.Register("swift", prov)
	repo := &ctxRepository{Store: h.store, failID: list[1].ID, gate: prov.started, failed: failed}
	processor := NewPaymentProcessor(repo, currency.Default(), h.providers, h.dispatcher, nil, nil, h.cfg)
	processor.now = h.clock.Now

	_, err := processor.Process(h.ctx, file.ID)
	require.Error(t, err)

	settled, err := h.store.GetInstruction(h.ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstructionStatusCompleted, settled.Status)
	require.NotNil(t, settled.ExternalTransactionID)
	res, ok := h.store.Reservation(list[0].ID)
	require.True(t, ok)
	assert.Equal(t, models.ReservationCommitted, res.Status)

	untouched, err := h.store.GetInstruction(h.ctx, list[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstructionStatusValidated, untouched.Status)
}

// blockingProvider holds Execute until released, so a cancellation can land
// while the call is in flight.
type blockingProvider struct {
	started   chan struct{}
	release   chan struct{}
	cancelErr error

	mu        sync.Mutex
	cancelled []string
}

func newBlockingProvider(cancelErr error) *blockingProvider {
	return &blockingProvider{
		started:   make(chan struct{}),
		release:   make(chan struct{}),
		cancelErr: cancelErr,
	}
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Execute(ctx context.Context, inst models.PaymentInstruction) (provider.Result, error) {
	close(p.started)
	<-p.release
	return provider.Result{TransactionID: "tx-" + inst.ID, Status: provider.StatusSettled}, nil
}

func (p *blockingProvider) QueryStatus(context.Context, string) (provider.Status, error) {
	return provider.StatusSettled, nil
}

func (p *blockingProvider) Cancel(_ context.Context, tx string) error {
	p.mu.Lock()
	p.cancelled = append(p.cancelled, tx)
	p.mu.Unlock()
	return p.cancelErr
}

func TestLateResultAfterCancellation(t *testing.T) {
	tests := []struct {
		name        string
		cancelErr   error
		reservation models.ReservationStatus
		failure     string
	}{
		{name: "provider reverses", reservation: models.ReservationReleased},
		{
			name:        "provider already settled",
			cancelErr:   provider.ErrAlreadySettled,
			reservation: models.ReservationCommitted,
			failure:     string(models.FailureSettledAfterCancel),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			blocking := newBlockingProvider(tt.cancelErr)
			h.providers.Register("swift", blocking)
			file := h.approvedFile(usdRows(1))

			done := make(chan error, 1)
			go func() {
				_, err := h.processor.Process(h.ctx, file.ID)
				done <- err
			}()

			<-blocking.started
			inst := h.instructions(file.ID)[0]
			require.Equal(t, models.InstructionStatusProcessing, inst.Status)
			_, err := h.processor.CancelInstruction(h.ctx, h.uploader, inst.ID)
			require.NoError(t, err)

			close(blocking.release)
			require.NoError(t, <-done)

			stored, err := h.store.GetInstruction(h.ctx, inst.ID)
			require.NoError(t, err)
			assert.Equal(t, models.InstructionStatusCancelled, stored.Status)
			require.NotNil(t, stored.ExternalTransactionID)
			assert.Equal(t, []string{"tx-" + inst.ID}, blocking.cancelled)
			assert.Equal(t, tt.failure, failureCode(*stored))

			res, ok := h.store.Reservation(inst.ID)
			require.True(t, ok)
			assert.Equal(t, tt.reservation, res.Status)
			assert.True(t, h.balance().ReservedBalance.IsZero())
		})
	}
}

// cancellingTracker cancels the file the first time progress is published.
type cancellingTracker struct {
	once   sync.Once
	cancel func()
}

func (c *cancellingTracker) SetProgress(context.Context, models.Progress) error {
	c.once.Do(c.cancel)
	return nil
}

func (c *cancellingTracker) GetProgress(context.Context, string) (*models.Progress, error) {
	return nil, models.ErrNotFound
}

func TestProcessStopsBetweenBatchesWhenCancelled(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.BatchSize = 2 })
	file := h.approvedFile(usdRows(5))

	tracker := &cancellingTracker{cancel: func() {
		_, err := h.files.Cancel(h.ctx, h.uploader, file.ID)
		require.NoError(t, err)
	}}
	processor := NewPaymentProcessor(h.store, currency.Default(), h.providers, h.dispatcher, nil, tracker, h.cfg)
	processor.now = h.clock.Now

	result, err := processor.Process(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 3, result.Cancelled)
	assert.Equal(t, models.FileStatusCancelled, h.file(file.ID).Status)

	for _, inst := range h.instructions(file.ID) {
		if inst.RowNumber <= 2 {
			assert.Equal(t, models.InstructionStatusCompleted, inst.Status)
			continue
		}
		assert.Equal(t, models.InstructionStatusCancelled, inst.Status)
		assert.Zero(t, h.sandbox.Calls(inst.ID))
	}
}

func TestBalanceForOneOfTwoInstructions(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.ProcessingConcurrency = 2 })
	h.account.AvailableBalance = decimal.RequireFromString("11.00")
	h.store.AddSettlementAccount(h.account)

	rows := usdRows(2)
	rows[1][col(validation.ColAmount)] = "11.00"
	file := h.approvedFile(rows)

	result, err := h.processor.Process(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, h.balance().AvailableBalance.IsZero())
}

func TestUploadToCompletionFromMinimalCSV(t *testing.T) {
	h := newHarness(t)
	data := "beneficiary_name,amount,currency,beneficiary_account,bank_code,reference\n" +
		"John Doe,500.00,USD,123456789,ABCDUS33,REF1\n"

	file, err := h.files.Upload(h.ctx, h.uploader, models.UploadRequest{
		Filename: "minimal.csv", Currency: "USD", SettlementAccountID: h.account.ID,
	}, strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []string{file.ID}, h.dispatcher.validations)

	file, err = h.files.Validate(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusValidated, file.Status)
	assert.Equal(t, 1, file.ValidRows)
	assert.True(t, decimal.RequireFromString("500.00").Equal(file.TotalAmount))

	_, err = h.files.Submit(h.ctx, h.uploader, file.ID)
	require.NoError(t, err)
	result, err := h.processor.Process(h.ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, models.FileStatusCompleted, h.file(file.ID).Status)
}
