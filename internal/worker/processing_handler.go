package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"mass-payments/internal/models"
	"mass-payments/internal/service"
	"mass-payments/internal/utils"
)

type FileValidator interface {
	Validate(ctx context.Context, fileID string) (*models.PaymentFile, error)
}

type FileProcessor interface {
	Process(ctx context.Context, fileID string) (models.ProcessingResult, error)
	ExecuteInstruction(ctx context.Context, instructionID string) error
}

type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
}

// TaskHandler runs the background jobs of the payment file lifecycle.
type TaskHandler struct {
	files      FileValidator
	processor  FileProcessor
	reconciler Sweeper
	log        *logrus.Logger
}

func NewTaskHandler(files FileValidator, processor FileProcessor, reconciler Sweeper) *TaskHandler {
	return &TaskHandler{
		files:      files,
		processor:  processor,
		reconciler: reconciler,
		log:        utils.GetLogger(),
	}
}

func (h *TaskHandler) HandleValidate(ctx context.Context, task *asynq.Task) error {
	var payload FilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	file, err := h.files.Validate(ctx, payload.FileID)
	if err != nil {
		return h.result(payload.FileID, "validate", err)
	}
	h.log.WithFields(logrus.Fields{
		"file_id": file.ID,
		"status":  file.Status,
		"valid":   file.ValidRows,
		"invalid": file.InvalidRows,
	}).Info("Validation finished")
	return nil
}

func (h *TaskHandler) HandleProcess(ctx context.Context, task *asynq.Task) error {
	var payload FilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	result, err := h.processor.Process(ctx, payload.FileID)
	if errors.Is(err, service.ErrFileNotProcessable) || errors.Is(err, service.ErrNoEligibleInstructions) {
		// Cancelled, finished or not yet approved: nothing to do.
		h.log.WithField("file_id", payload.FileID).WithError(err).Info("Skipping processing")
		return nil
	}
	if err != nil {
		return h.result(payload.FileID, "process", err)
	}
	h.log.WithFields(logrus.Fields{
		"file_id":   payload.FileID,
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}).Info("Processing run finished")
	return nil
}

func (h *TaskHandler) HandleExecute(ctx context.Context, task *asynq.Task) error {
	var payload InstructionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := h.processor.ExecuteInstruction(ctx, payload.InstructionID); err != nil {
		return h.result(payload.InstructionID, "execute", err)
	}
	return nil
}

func (h *TaskHandler) HandleReconcile(ctx context.Context, _ *asynq.Task) error {
	report, err := h.reconciler.Sweep(ctx)
	if err != nil {
		return err
	}
	h.log.WithFields(logrus.Fields{
		"revalidated":  report.Revalidated,
		"redispatched": report.Redispatched,
		"resolved":     report.Resolved,
		"finalized":    report.Finalized,
	}).Info("Reconcile sweep finished")
	return nil
}

// result stops retries for errors another attempt cannot fix.
func (h *TaskHandler) result(id, job string, err error) error {
	switch service.KindOf(err) {
	case service.KindNotFound, service.KindInvalid, service.KindConflict, service.KindForbidden:
		h.log.WithFields(logrus.Fields{"id": id, "job": job}).WithError(err).Warn("Job dropped")
		return fmt.Errorf("%s %s: %v: %w", job, id, err, asynq.SkipRetry)
	}
	return fmt.Errorf("%s %s: %w", job, id, err)
}
