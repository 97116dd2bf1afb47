package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mass-payments/internal/config"
	"mass-payments/internal/currency"
	"mass-payments/internal/lifecycle"
	"mass-payments/internal/models"
	"mass-payments/internal/provider"
	"mass-payments/internal/utils"
)

var eligibleStatuses = []models.InstructionStatus{
	models.InstructionStatusValidated,
	models.InstructionStatusPending,
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCompleted
	outcomePending
	outcomeFailed
	outcomeUnavailable
)

// PaymentProcessor executes the instructions of approved files against the
// settlement providers.
type PaymentProcessor struct {
	repo       Repository
	rules      currency.Rules
	providers  ProviderResolver
	dispatcher JobDispatcher
	progress   ProgressTracker
	events     events
	cfg        *config.Config
	log        *logrus.Logger
	now        func() time.Time
}

func NewPaymentProcessor(
	repo Repository,
	rules currency.Rules,
	providers ProviderResolver,
	dispatcher JobDispatcher,
	notifier Notifier,
	progress ProgressTracker,
	cfg *config.Config,
) *PaymentProcessor {
	log := utils.GetLogger()
	return &PaymentProcessor{
		repo:       repo,
		rules:      rules,
		providers:  providers,
		dispatcher: dispatcher,
		progress:   progress,
		events:     events{notifier: notifier, timeout: cfg.NotificationTimeout, log: log},
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Process runs every eligible instruction of an approved file in row order.
// A file already in processing is resumed where it stopped.
func (p *PaymentProcessor) Process(ctx context.Context, fileID string) (models.ProcessingResult, error) {
	file, err := p.repo.GetFile(ctx, fileID)
	if err != nil {
		return models.ProcessingResult{}, err
	}
	if file.Status != models.FileStatusApproved && file.Status != models.FileStatusProcessing {
		return models.ProcessingResult{}, fmt.Errorf("%w: file is %s", ErrFileNotProcessable, file.Status)
	}

	eligible, err := p.repo.CountInstructions(ctx, file.ID, eligibleStatuses)
	if err != nil {
		return models.ProcessingResult{}, err
	}
	if file.Status == models.FileStatusApproved {
		if eligible == 0 {
			return models.ProcessingResult{}, ErrNoEligibleInstructions
		}
		if err := lifecycle.File(file.Status, models.FileStatusProcessing); err != nil {
			return models.ProcessingResult{}, err
		}
		if err := p.repo.UpdateFileStatus(ctx, file.ID, models.FileStatusApproved, models.FileStatusProcessing); err != nil {
			return models.ProcessingResult{}, err
		}
		p.events.statusChanged(*file, models.FileStatusApproved, models.FileStatusProcessing)
		file.Status = models.FileStatusProcessing
	}

	logger := p.log.WithFields(logrus.Fields{"file_id": file.ID, "eligible": eligible})
	logger.Info("Processing payment file")
	started := time.Now()

	halted := false
	afterRow := 0
	for {
		current, err := p.repo.GetFile(ctx, file.ID)
		if err != nil {
			return models.ProcessingResult{}, err
		}
		if current.Status != models.FileStatusProcessing {
			logger.WithField("status", current.Status).Info("File left processing, stopping")
			break
		}

		batch, err := p.repo.ListInstructions(ctx, file.ID, models.InstructionQuery{
			Statuses: eligibleStatuses,
			AfterRow: afterRow,
			Limit:    p.cfg.BatchSize,
		})
		if err != nil {
			return models.ProcessingResult{}, err
		}
		if len(batch) == 0 {
			break
		}
		afterRow = batch[len(batch)-1].RowNumber

		outcomes, err := p.runBatch(ctx, file, batch)
		if err != nil {
			return models.ProcessingResult{}, err
		}
		if allUnavailable(outcomes) {
			logger.WithField("after_row", afterRow).Error("Provider unavailable for whole batch, halting file")
			halted = true
			break
		}
		p.publish(ctx, file)
	}

	if halted {
		if err := p.failRemaining(ctx, file, afterRow); err != nil {
			return models.ProcessingResult{}, err
		}
	}

	result, err := p.finalize(ctx, file.ID, halted)
	if err != nil {
		return result, err
	}
	logger.WithFields(logrus.Fields{
		"processed":    result.Processed,
		"succeeded":    result.Succeeded,
		"failed":       result.Failed,
		"total_amount": result.TotalAmount.String(),
		"duration":     time.Since(started).String(),
	}).Info("Payment file processing finished")
	return result, nil
}

func (p *PaymentProcessor) runBatch(ctx context.Context, file *models.PaymentFile, batch []models.PaymentInstruction) ([]outcome, error) {
	outcomes := make([]outcome, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	limit := p.cfg.ProcessingConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i := range batch {
		i := i
		g.Go(func() error {
			// After a sibling fails no new row starts. Rows already started
			// finish on ctx so a settled payment is always recorded.
			if gctx.Err() != nil {
				return nil
			}
			o, err := p.execute(ctx, file, batch[i])
			outcomes[i] = o
			return err
		})
	}
	return outcomes, g.Wait()
}

func allUnavailable(outcomes []outcome) bool {
	seen := false
	for _, o := range outcomes {
		switch o {
		case outcomeSkipped:
		case outcomeUnavailable:
			seen = true
		default:
			return false
		}
	}
	return seen
}

// execute runs one instruction. Only repository failures are returned as
// errors; provider and balance problems end as a failed instruction.
func (p *PaymentProcessor) execute(ctx context.Context, file *models.PaymentFile, inst models.PaymentInstruction) (outcome, error) {
	from := inst.Status
	if err := lifecycle.Instruction(from, models.InstructionStatusProcessing); err != nil {
		return outcomeSkipped, nil
	}
	inst.Status = models.InstructionStatusProcessing
	if err := p.repo.UpdateInstruction(ctx, &inst, from); err != nil {
		if errors.Is(err, models.ErrStaleStatus) {
			return outcomeSkipped, nil
		}
		return outcomeSkipped, err
	}

	prov, reason := p.preflight(file, inst)
	if reason != "" {
		return outcomeFailed, p.fail(ctx, &inst, models.FailurePreflight, reason)
	}

	if err := p.repo.ReserveFunds(ctx, file.SettlementAccountID, inst.ID, inst.Amount); err != nil {
		if errors.Is(err, models.ErrInsufficientFunds) {
			return outcomeFailed, p.fail(ctx, &inst, models.FailureInsufficientFunds, "settlement account balance too low")
		}
		return outcomeSkipped, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
	res, err := prov.Execute(callCtx, inst)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			// Shutdown: the reconciler settles the instruction later.
			return outcomeSkipped, ctx.Err()
		}
		if timedOut || errors.Is(err, provider.ErrTimeout) {
			return outcomeFailed, p.fail(ctx, &inst, models.FailureProviderTimeout, err.Error())
		}
		return outcomeUnavailable, p.fail(ctx, &inst, models.FailureProviderUnavailable, err.Error())
	}
	return p.applyResult(ctx, prov, inst, res)
}

func (p *PaymentProcessor) applyResult(ctx context.Context, prov provider.Provider, inst models.PaymentInstruction, res provider.Result) (outcome, error) {
	tx := res.TransactionID
	switch res.Status {
	case provider.StatusSettled:
		now := p.now()
		inst.Status = models.InstructionStatusCompleted
		inst.ExternalTransactionID = &tx
		inst.ProcessedAt = &now
		inst.ClearFailure()
		if err := p.repo.UpdateInstruction(ctx, &inst, models.InstructionStatusProcessing); err != nil {
			if errors.Is(err, models.ErrStaleStatus) {
				return outcomeSkipped, p.lateResult(ctx, prov, inst.ID, res)
			}
			return outcomeSkipped, err
		}
		return outcomeCompleted, p.repo.CommitReservation(ctx, inst.ID)

	case provider.StatusPending:
		inst.ExternalTransactionID = &tx
		if err := p.repo.UpdateInstruction(ctx, &inst, models.InstructionStatusProcessing); err != nil {
			if errors.Is(err, models.ErrStaleStatus) {
				return outcomeSkipped, p.lateResult(ctx, prov, inst.ID, res)
			}
			return outcomeSkipped, err
		}
		return outcomePending, nil

	default:
		if tx != "" {
			inst.ExternalTransactionID = &tx
		}
		reason := res.Reason
		if reason == "" {
			reason = fmt.Sprintf("provider returned %s", res.Status)
		}
		return outcomeFailed, p.fail(ctx, &inst, models.FailureProviderRejected, reason)
	}
}

// lateResult handles a provider answer for an instruction cancelled while
// the call was in flight.
func (p *PaymentProcessor) lateResult(ctx context.Context, prov provider.Provider, instID string, res provider.Result) error {
	stored, err := p.repo.GetInstruction(ctx, instID)
	if err != nil {
		return err
	}
	if stored.Status != models.InstructionStatusCancelled {
		return nil
	}

	logger := p.log.WithFields(logrus.Fields{"instruction_id": instID, "transaction_id": res.TransactionID})
	tx := res.TransactionID
	stored.ExternalTransactionID = &tx

	cancelErr := prov.Cancel(ctx, tx)
	switch {
	case cancelErr == nil:
		logger.Info("Late provider result reversed after cancellation")
		if err := p.repo.UpdateInstruction(ctx, stored, models.InstructionStatusCancelled); err != nil {
			return err
		}
		return p.repo.ReleaseReservation(ctx, instID)
	case errors.Is(cancelErr, provider.ErrAlreadySettled):
		logger.Warn("Payment settled after cancellation")
		stored.SetFailure(models.FailureSettledAfterCancel, "provider settled the payment before cancellation reached it")
		if err := p.repo.UpdateInstruction(ctx, stored, models.InstructionStatusCancelled); err != nil {
			return err
		}
		return p.repo.CommitReservation(ctx, instID)
	default:
		logger.WithError(cancelErr).Error("Could not confirm provider cancellation, reservation kept")
		stored.SetFailure(models.FailureCancelUnconfirmed, cancelErr.Error())
		return p.repo.UpdateInstruction(ctx, stored, models.InstructionStatusCancelled)
	}
}

// fail moves a processing instruction to failed and releases its reservation.
func (p *PaymentProcessor) fail(ctx context.Context, inst *models.PaymentInstruction, code models.FailureCode, reason string) error {
	now := p.now()
	inst.Status = models.InstructionStatusFailed
	inst.SetFailure(code, reason)
	inst.ProcessedAt = &now
	err := p.repo.UpdateInstruction(ctx, inst, models.InstructionStatusProcessing)
	if err != nil && !errors.Is(err, models.ErrStaleStatus) {
		return err
	}
	p.log.WithFields(logrus.Fields{
		"instruction_id": inst.ID,
		"file_id":        inst.FileID,
		"row":            inst.RowNumber,
		"code":           code,
		"reason":         reason,
	}).Warn("Payment instruction failed")
	return p.repo.ReleaseReservation(ctx, inst.ID)
}

// preflight checks an instruction against its corridor before money moves.
// A non-empty reason means the instruction must not be sent.
func (p *PaymentProcessor) preflight(file *models.PaymentFile, inst models.PaymentInstruction) (provider.Provider, string) {
	rule, err := p.rules.RuleFor(inst.Currency)
	if err != nil {
		return nil, err.Error()
	}
	if inst.Currency != file.Currency {
		return nil, fmt.Sprintf("currency %s does not match file currency %s", inst.Currency, file.Currency)
	}
	if !inst.Amount.IsPositive() || inst.Amount.GreaterThan(rule.MaxAmount) {
		return nil, fmt.Sprintf("amount %s outside corridor limit %s", inst.Amount, rule.MaxAmount)
	}
	if strings.TrimSpace(inst.BeneficiaryName) == "" || strings.TrimSpace(inst.BeneficiaryAccount) == "" {
		return nil, "beneficiary name and account are required"
	}
	method := inst.SettlementMethod
	if method == "" {
		method = rule.DefaultSettlementMethod
	}
	if !rule.AllowsMethod(method) {
		return nil, fmt.Sprintf("settlement method %q not permitted for %s", method, rule.Code)
	}
	if rule.RequiresInvoice && (inst.Details.InvoiceNumber == "" || inst.Details.InvoiceDate == "") {
		return nil, fmt.Sprintf("%s payments require invoice number and date", rule.Code)
	}
	if rule.RequiresIncorporation && strings.EqualFold(inst.Details.BeneficiaryType, models.BeneficiaryBusiness) && inst.Details.IncorporationNumber == "" {
		return nil, fmt.Sprintf("%s business payments require an incorporation number", rule.Code)
	}
	if rule.RequiresPurposeCode && inst.PurposeCode == "" {
		return nil, fmt.Sprintf("%s payments require a purpose code", rule.Code)
	}

	prov, err := p.providers.Resolve(rule.Provider)
	if err != nil {
		return nil, err.Error()
	}
	return prov, ""
}

// failRemaining fails the instructions a halted run never reached.
func (p *PaymentProcessor) failRemaining(ctx context.Context, file *models.PaymentFile, afterRow int) error {
	for {
		batch, err := p.repo.ListInstructions(ctx, file.ID, models.InstructionQuery{
			Statuses: eligibleStatuses,
			AfterRow: afterRow,
			Limit:    p.cfg.BatchSize,
		})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		afterRow = batch[len(batch)-1].RowNumber
		for i := range batch {
			inst := batch[i]
			from := inst.Status
			inst.Status = models.InstructionStatusProcessing
			if err := p.repo.UpdateInstruction(ctx, &inst, from); err != nil {
				if errors.Is(err, models.ErrStaleStatus) {
					continue
				}
				return err
			}
			if err := p.fail(ctx, &inst, models.FailureProviderUnavailable, "file halted: provider unavailable"); err != nil {
				return err
			}
		}
	}
}

// finalize recomputes the file aggregates and closes the file once nothing
// is left in flight.
func (p *PaymentProcessor) finalize(ctx context.Context, fileID string, halted bool) (models.ProcessingResult, error) {
	totals, err := p.repo.InstructionTotals(ctx, fileID)
	if err != nil {
		return models.ProcessingResult{}, err
	}
	if err := p.repo.UpdateFileTotals(ctx, fileID, totals); err != nil {
		return models.ProcessingResult{}, err
	}
	file, err := p.repo.GetFile(ctx, fileID)
	if err != nil {
		return models.ProcessingResult{}, err
	}

	if file.Status == models.FileStatusProcessing {
		var to models.FileStatus
		switch {
		case halted:
			to = models.FileStatusFailed
		case totals.Pending == 0:
			to = models.FileStatusCompleted
		}
		if to != "" {
			if err := lifecycle.File(file.Status, to); err != nil {
				return models.ProcessingResult{}, err
			}
			err := p.repo.UpdateFileStatus(ctx, file.ID, file.Status, to)
			switch {
			case err == nil:
				p.events.statusChanged(*file, file.Status, to)
				file.Status = to
			case !errors.Is(err, models.ErrStaleStatus):
				return models.ProcessingResult{}, err
			}
		}
	}
	p.publishTotals(ctx, file, totals)

	return models.ProcessingResult{
		Processed:   totals.Processed,
		Succeeded:   totals.Succeeded,
		Failed:      totals.Failed,
		Cancelled:   totals.Cancelled,
		TotalAmount: totals.ProcessedAmount,
	}, nil
}

func (p *PaymentProcessor) publish(ctx context.Context, file *models.PaymentFile) {
	totals, err := p.repo.InstructionTotals(ctx, file.ID)
	if err != nil {
		p.log.WithError(err).WithField("file_id", file.ID).Warn("Failed to compute progress")
		return
	}
	if err := p.repo.UpdateFileTotals(ctx, file.ID, totals); err != nil {
		p.log.WithError(err).WithField("file_id", file.ID).Warn("Failed to store running totals")
	}
	p.publishTotals(ctx, file, totals)
}

func (p *PaymentProcessor) publishTotals(ctx context.Context, file *models.PaymentFile, totals models.FileTotals) {
	if p.progress == nil {
		return
	}
	if err := p.progress.SetProgress(ctx, *snapshot(file, file.ValidRows, totals, p.now())); err != nil {
		p.log.WithError(err).WithField("file_id", file.ID).Warn("Failed to publish progress")
	}
}

// Retry moves a failed instruction back to pending and queues it.
func (p *PaymentProcessor) Retry(ctx context.Context, principal models.Principal, instructionID string) (*models.PaymentInstruction, error) {
	inst, err := p.repo.GetInstruction(ctx, instructionID)
	if err != nil {
		return nil, err
	}
	if inst.TenantID != principal.TenantID {
		return nil, ErrForbidden
	}
	if err := lifecycle.Retry(inst.Status, inst.RetryCount, p.cfg.MaxRetries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotRetryable, err)
	}
	if !inst.RetryableFailure() {
		code := "none"
		if inst.FailureCode != nil {
			code = *inst.FailureCode
		}
		return nil, fmt.Errorf("%w: failure %s is not retryable", ErrNotRetryable, code)
	}

	file, err := p.repo.GetFile(ctx, inst.FileID)
	if err != nil {
		return nil, err
	}
	switch file.Status {
	case models.FileStatusProcessing, models.FileStatusCompleted, models.FileStatusFailed:
	default:
		return nil, fmt.Errorf("%w: file is %s", ErrNotRetryable, file.Status)
	}

	inst.Status = models.InstructionStatusPending
	inst.RetryCount++
	inst.ClearFailure()
	inst.ProcessedAt = nil
	if err := p.repo.UpdateInstruction(ctx, inst, models.InstructionStatusFailed); err != nil {
		if errors.Is(err, models.ErrStaleStatus) {
			return nil, fmt.Errorf("%w: %w", ErrNotRetryable, err)
		}
		return nil, err
	}
	p.log.WithFields(logrus.Fields{
		"instruction_id": inst.ID,
		"file_id":        inst.FileID,
		"retry_count":    inst.RetryCount,
		"user_id":        principal.UserID,
	}).Info("Payment instruction queued for retry")

	if err := p.dispatcher.EnqueueInstruction(ctx, inst.ID); err != nil {
		p.log.WithError(err).WithField("instruction_id", inst.ID).Warn("Failed to enqueue retry, executing inline")
		if err := p.ExecuteInstruction(ctx, inst.ID); err != nil {
			return nil, err
		}
		return p.repo.GetInstruction(ctx, inst.ID)
	}
	return inst, nil
}

// ExecuteInstruction runs a single pending instruction outside a file run.
func (p *PaymentProcessor) ExecuteInstruction(ctx context.Context, instructionID string) error {
	inst, err := p.repo.GetInstruction(ctx, instructionID)
	if err != nil {
		return err
	}
	if inst.Status != models.InstructionStatusPending && inst.Status != models.InstructionStatusValidated {
		p.log.WithFields(logrus.Fields{"instruction_id": inst.ID, "status": inst.Status}).Info("Instruction not pending, skipping")
		return nil
	}
	file, err := p.repo.GetFile(ctx, inst.FileID)
	if err != nil {
		return err
	}
	if file.Status == models.FileStatusCancelled {
		from := inst.Status
		inst.Status = models.InstructionStatusCancelled
		if err := p.repo.UpdateInstruction(ctx, inst, from); err != nil && !errors.Is(err, models.ErrStaleStatus) {
			return err
		}
		return nil
	}

	if _, err := p.execute(ctx, file, *inst); err != nil {
		return err
	}
	_, err = p.finalize(ctx, file.ID, false)
	return err
}

// CancelInstruction cancels one instruction. An instruction already sent to
// a provider is cancelled there first; a settled payment stays untouched.
func (p *PaymentProcessor) CancelInstruction(ctx context.Context, principal models.Principal, instructionID string) (*models.PaymentInstruction, error) {
	inst, err := p.repo.GetInstruction(ctx, instructionID)
	if err != nil {
		return nil, err
	}
	if inst.TenantID != principal.TenantID {
		return nil, ErrForbidden
	}
	if !lifecycle.Cancellable(inst.Status) {
		return nil, fmt.Errorf("%w: instruction is %s", ErrNotCancellable, inst.Status)
	}

	inFlight := inst.Status == models.InstructionStatusProcessing && inst.ExternalTransactionID == nil
	if inst.Status == models.InstructionStatusProcessing && inst.ExternalTransactionID != nil {
		rule, err := p.rules.RuleFor(inst.Currency)
		if err != nil {
			return nil, err
		}
		prov, err := p.providers.Resolve(rule.Provider)
		if err != nil {
			return nil, err
		}
		if err := prov.Cancel(ctx, *inst.ExternalTransactionID); err != nil {
			if errors.Is(err, provider.ErrAlreadySettled) {
				return nil, ErrAlreadySettled
			}
			return nil, fmt.Errorf("cancel with provider: %w", err)
		}
	}

	from := inst.Status
	inst.Status = models.InstructionStatusCancelled
	if err := p.repo.UpdateInstruction(ctx, inst, from); err != nil {
		return nil, err
	}
	// An in-flight call settles its own reservation when the result returns.
	if !inFlight {
		if err := p.repo.ReleaseReservation(ctx, inst.ID); err != nil {
			return nil, err
		}
	}
	p.log.WithFields(logrus.Fields{
		"instruction_id": inst.ID,
		"file_id":        inst.FileID,
		"from":           from,
		"user_id":        principal.UserID,
	}).Info("Payment instruction cancelled")

	if _, err := p.finalize(ctx, inst.FileID, false); err != nil {
		p.log.WithError(err).WithField("file_id", inst.FileID).Warn("Failed to refresh file totals")
	}
	return inst, nil
}

// CancelPending withdraws the payments of a cancelled file that a provider
// accepted but has not settled. A payment the provider settled first is
// recorded as completed. Instructions the provider could not answer for stay
// in processing for the next sweep. It returns how many were resolved.
func (p *PaymentProcessor) CancelPending(ctx context.Context, fileID string) (int, error) {
	file, err := p.repo.GetFile(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if file.Status != models.FileStatusCancelled {
		return 0, fmt.Errorf("%w: file is %s", ErrNotCancellable, file.Status)
	}

	resolved := 0
	afterRow := 0
	for {
		batch, err := p.repo.ListInstructions(ctx, file.ID, models.InstructionQuery{
			Statuses: []models.InstructionStatus{models.InstructionStatusProcessing},
			AfterRow: afterRow,
			Limit:    p.cfg.BatchSize,
		})
		if err != nil {
			return resolved, err
		}
		if len(batch) == 0 {
			break
		}
		afterRow = batch[len(batch)-1].RowNumber

		for i := range batch {
			if batch[i].ExternalTransactionID == nil {
				continue
			}
			done, err := p.withdraw(ctx, &batch[i])
			if err != nil {
				return resolved, err
			}
			if done {
				resolved++
			}
		}
	}

	if resolved > 0 {
		if _, err := p.finalize(ctx, file.ID, false); err != nil {
			return resolved, err
		}
	}
	return resolved, nil
}

func (p *PaymentProcessor) withdraw(ctx context.Context, inst *models.PaymentInstruction) (bool, error) {
	logger := p.log.WithFields(logrus.Fields{
		"instruction_id": inst.ID,
		"file_id":        inst.FileID,
		"transaction_id": *inst.ExternalTransactionID,
	})
	rule, err := p.rules.RuleFor(inst.Currency)
	if err != nil {
		return false, err
	}
	prov, err := p.providers.Resolve(rule.Provider)
	if err != nil {
		return false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
	cancelErr := prov.Cancel(callCtx, *inst.ExternalTransactionID)
	cancel()

	switch {
	case cancelErr == nil, errors.Is(cancelErr, provider.ErrUnknownTxn):
		inst.Status = models.InstructionStatusCancelled
		if err := p.repo.UpdateInstruction(ctx, inst, models.InstructionStatusProcessing); err != nil {
			if errors.Is(err, models.ErrStaleStatus) {
				return false, nil
			}
			return false, err
		}
		logger.Info("Pending payment withdrawn from provider")
		return true, p.repo.ReleaseReservation(ctx, inst.ID)
	case errors.Is(cancelErr, provider.ErrAlreadySettled):
		now := p.now()
		inst.Status = models.InstructionStatusCompleted
		inst.ProcessedAt = &now
		inst.ClearFailure()
		if err := p.repo.UpdateInstruction(ctx, inst, models.InstructionStatusProcessing); err != nil {
			if errors.Is(err, models.ErrStaleStatus) {
				return false, nil
			}
			return false, err
		}
		logger.Warn("Payment settled before file cancellation reached the provider")
		return true, p.repo.CommitReservation(ctx, inst.ID)
	default:
		logger.WithError(cancelErr).Warn("Provider cancellation failed, will retry")
		return false, nil
	}
}
