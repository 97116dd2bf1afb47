package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"mass-payments/internal/config"
	"mass-payments/internal/models"
	"mass-payments/internal/provider"
	"mass-payments/internal/utils"
)

const sweepLimit = 100

// SweepReport counts what one reconcile pass touched.
type SweepReport struct {
	Revalidated  int `json:"revalidated"`
	Redispatched int `json:"redispatched"`
	Resolved     int `json:"resolved"`
	Finalized    int `json:"finalized"`
	Withdrawn    int `json:"withdrawn"`
}

// Reconciler finds files stuck between steps, typically after a lost job
// or a worker crash, and pushes them forward.
type Reconciler struct {
	repo       Repository
	processor  *PaymentProcessor
	approvals  *ApprovalService
	dispatcher JobDispatcher
	cfg        *config.Config
	log        *logrus.Logger
	now        func() time.Time
}

func NewReconciler(repo Repository, processor *PaymentProcessor, approvals *ApprovalService, dispatcher JobDispatcher, cfg *config.Config) *Reconciler {
	return &Reconciler{
		repo:       repo,
		processor:  processor,
		approvals:  approvals,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        utils.GetLogger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	cutoff := r.now().Add(-r.cfg.StuckFileTimeout)

	drafts, err := r.repo.ListFilesByStatus(ctx, []models.FileStatus{
		models.FileStatusDraft,
		models.FileStatusValidating,
	}, cutoff, sweepLimit)
	if err != nil {
		return report, err
	}
	for _, f := range drafts {
		switch err := r.dispatcher.EnqueueValidation(ctx, f.ID); {
		case errors.Is(err, ErrJobAlreadyQueued):
		case err != nil:
			r.log.WithError(err).WithField("file_id", f.ID).Warn("Failed to re-dispatch validation")
		default:
			report.Revalidated++
		}
	}

	approved, err := r.repo.ListFilesByStatus(ctx, []models.FileStatus{models.FileStatusApproved}, cutoff, sweepLimit)
	if err != nil {
		return report, err
	}
	for _, f := range approved {
		if r.redispatch(ctx, f.ID) {
			report.Redispatched++
		}
	}

	if r.approvals != nil {
		awaiting, err := r.repo.ListFilesByStatus(ctx, []models.FileStatus{models.FileStatusAwaitingApproval},
			r.now().Add(-r.cfg.ApprovalTimeout), sweepLimit)
		if err != nil {
			return report, err
		}
		for _, f := range awaiting {
			if _, err := r.approvals.livePending(ctx, f.ID); err != nil {
				r.log.WithError(err).WithField("file_id", f.ID).Warn("Failed to expire approvals")
			}
		}
	}

	processing, err := r.repo.ListFilesByStatus(ctx, []models.FileStatus{models.FileStatusProcessing}, cutoff, sweepLimit)
	if err != nil {
		return report, err
	}
	for i := range processing {
		f := &processing[i]
		resolved, err := r.processor.resolveStuck(ctx, f)
		report.Resolved += resolved
		if err != nil {
			r.log.WithError(err).WithField("file_id", f.ID).Error("Failed to resolve stuck file")
			continue
		}

		remaining, err := r.repo.CountInstructions(ctx, f.ID, eligibleStatuses)
		if err != nil {
			return report, err
		}
		if remaining > 0 {
			if r.redispatch(ctx, f.ID) {
				report.Redispatched++
			}
			continue
		}
		result, err := r.processor.finalize(ctx, f.ID, false)
		if err != nil {
			return report, err
		}
		if after, err := r.repo.GetFile(ctx, f.ID); err == nil && after.Status != models.FileStatusProcessing {
			report.Finalized++
			r.log.WithFields(logrus.Fields{
				"file_id":   f.ID,
				"status":    after.Status,
				"succeeded": result.Succeeded,
				"failed":    result.Failed,
			}).Info("Stuck file finalized")
		}
	}

	cancelled, err := r.repo.ListFilesHoldingInstructions(ctx,
		[]models.FileStatus{models.FileStatusCancelled},
		[]models.InstructionStatus{models.InstructionStatusProcessing}, sweepLimit)
	if err != nil {
		return report, err
	}
	for _, f := range cancelled {
		n, err := r.processor.CancelPending(ctx, f.ID)
		report.Withdrawn += n
		if err != nil {
			r.log.WithError(err).WithField("file_id", f.ID).Error("Failed to withdraw pending payments")
		}
	}

	if report != (SweepReport{}) {
		r.log.WithFields(logrus.Fields{
			"revalidated":  report.Revalidated,
			"redispatched": report.Redispatched,
			"resolved":     report.Resolved,
			"finalized":    report.Finalized,
			"withdrawn":    report.Withdrawn,
		}).Info("Reconcile sweep finished")
	}
	return report, nil
}

// redispatch queues processing again and reports whether a new job was
// enqueued. A job still live in the queue is left to finish.
func (r *Reconciler) redispatch(ctx context.Context, fileID string) bool {
	err := r.dispatcher.EnqueueProcessing(ctx, fileID)
	switch {
	case errors.Is(err, ErrJobAlreadyQueued):
		return false
	case err != nil:
		r.log.WithError(err).WithField("file_id", fileID).Warn("Failed to re-dispatch processing")
		return false
	}
	return true
}

// resolveStuck settles instructions left in processing by asking the
// provider what happened to them.
func (p *PaymentProcessor) resolveStuck(ctx context.Context, file *models.PaymentFile) (int, error) {
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
			return resolved, nil
		}
		afterRow = batch[len(batch)-1].RowNumber

		for i := range batch {
			done, err := p.resolveInstruction(ctx, &batch[i])
			if err != nil {
				return resolved, err
			}
			if done {
				resolved++
			}
		}
	}
}

func (p *PaymentProcessor) resolveInstruction(ctx context.Context, inst *models.PaymentInstruction) (bool, error) {
	if inst.ExternalTransactionID == nil {
		return true, p.fail(ctx, inst, models.FailureProcessingTimeout, "no provider response before timeout")
	}

	rule, err := p.rules.RuleFor(inst.Currency)
	if err != nil {
		return false, err
	}
	prov, err := p.providers.Resolve(rule.Provider)
	if err != nil {
		return false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
	status, err := prov.QueryStatus(callCtx, *inst.ExternalTransactionID)
	cancel()
	if err != nil {
		if errors.Is(err, provider.ErrUnknownTxn) {
			return true, p.fail(ctx, inst, models.FailureProcessingTimeout, "provider does not know the transaction")
		}
		p.log.WithError(err).WithField("instruction_id", inst.ID).Warn("Provider status query failed")
		return false, nil
	}

	switch status {
	case provider.StatusSettled:
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
		return true, p.repo.CommitReservation(ctx, inst.ID)
	case provider.StatusPending:
		return false, nil
	case provider.StatusRejected, provider.StatusCanceled:
		return true, p.fail(ctx, inst, models.FailureProviderRejected, "provider reported "+string(status))
	default:
		return true, p.fail(ctx, inst, models.FailureProcessingTimeout, "provider status unknown after timeout")
	}
}
