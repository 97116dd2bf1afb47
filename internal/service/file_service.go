package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mass-payments/internal/config"
	"mass-payments/internal/currency"
	"mass-payments/internal/lifecycle"
	"mass-payments/internal/models"
	"mass-payments/internal/utils"
	"mass-payments/internal/validation"
)

var allowedExtensions = map[string]bool{".csv": true, ".xlsx": true}

// FileService drives a payment file from upload through validation and
// hands approved files to processing.
type FileService struct {
	repo       Repository
	storage    Storage
	rules      currency.Rules
	validator  *validation.FileValidator
	excel      *ExcelService
	approvals  *ApprovalService
	dispatcher JobDispatcher
	progress   ProgressTracker
	pending    PendingCanceller
	events     events
	cfg        *config.Config
	log        *logrus.Logger
	now        func() time.Time
}

func NewFileService(
	repo Repository,
	storage Storage,
	rules currency.Rules,
	approvals *ApprovalService,
	dispatcher JobDispatcher,
	notifier Notifier,
	progress ProgressTracker,
	cfg *config.Config,
) *FileService {
	log := utils.GetLogger()
	return &FileService{
		repo:       repo,
		storage:    storage,
		rules:      rules,
		validator:  validation.NewFileValidator(validation.NewRowValidator(rules), cfg.MinRows, cfg.MaxRows),
		excel:      NewExcelService(),
		approvals:  approvals,
		dispatcher: dispatcher,
		progress:   progress,
		events:     events{notifier: notifier, timeout: cfg.NotificationTimeout, log: log},
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetPendingCanceller wires the component that withdraws provider-pending
// payments when a file is cancelled.
func (s *FileService) SetPendingCanceller(c PendingCanceller) {
	s.pending = c
}

// Upload stores the file, records a draft and queues validation.
func (s *FileService) Upload(ctx context.Context, principal models.Principal, req models.UploadRequest, r io.Reader) (*models.PaymentFile, error) {
	ext := strings.ToLower(filepath.Ext(req.Filename))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidUpload, ext)
	}

	code := strings.ToUpper(strings.TrimSpace(req.Currency))
	if _, err := s.rules.RuleFor(code); err != nil {
		return nil, err
	}

	account, err := s.repo.GetSettlementAccount(ctx, req.SettlementAccountID)
	if err != nil || account.TenantID != principal.TenantID {
		return nil, fmt.Errorf("%w: settlement account %q not found", ErrInvalidUpload, req.SettlementAccountID)
	}
	if account.Currency != code {
		return nil, fmt.Errorf("%w: settlement account is held in %s, file is %s", ErrInvalidUpload, account.Currency, code)
	}

	if s.cfg.UploadMaxSize > 0 {
		r = io.LimitReader(r, int64(s.cfg.UploadMaxSize)+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	}
	if s.cfg.UploadMaxSize > 0 && len(data) > s.cfg.UploadMaxSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidUpload, s.cfg.UploadMaxSize)
	}

	checksum := utils.Checksum(data)
	if existing, err := s.repo.FindFileByChecksum(ctx, principal.TenantID, checksum); err == nil {
		return nil, fmt.Errorf("%w: matches file %s", models.ErrDuplicateFile, existing.ID)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	ref, err := s.storage.Store(ctx, req.Filename, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	file := &models.PaymentFile{
		ID:                  uuid.NewString(),
		TenantID:            principal.TenantID,
		UploadedBy:          principal.UserID,
		SettlementAccountID: account.ID,
		Currency:            code,
		Status:              models.FileStatusDraft,
		OriginalFilename:    filepath.Base(req.Filename),
		StoredFileRef:       ref,
		Checksum:            checksum,
		CreatedAt:           s.now(),
	}
	if err := s.repo.CreateFile(ctx, file); err != nil {
		if delErr := s.storage.Delete(ctx, ref); delErr != nil {
			s.log.WithError(delErr).WithField("ref", ref).Warn("Failed to remove orphaned upload")
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"file_id":   file.ID,
		"tenant_id": file.TenantID,
		"currency":  file.Currency,
		"bytes":     len(data),
	}).Info("Payment file uploaded")

	// A draft left behind by a failed dispatch is picked up by the reconciler.
	if err := s.dispatcher.EnqueueValidation(ctx, file.ID); err != nil && !errors.Is(err, ErrJobAlreadyQueued) {
		s.log.WithError(err).WithField("file_id", file.ID).Error("Failed to enqueue validation")
	}
	return file, nil
}

// Validate runs whole-file validation. Files already past validation are
// returned untouched so redelivered jobs are harmless.
func (s *FileService) Validate(ctx context.Context, fileID string) (*models.PaymentFile, error) {
	file, err := s.repo.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.Status != models.FileStatusDraft && file.Status != models.FileStatusValidating {
		s.log.WithFields(logrus.Fields{"file_id": file.ID, "status": file.Status}).Info("File already validated, skipping")
		return file, nil
	}

	rc, err := s.storage.Open(ctx, file.StoredFileRef)
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	defer rc.Close()

	if file.Status == models.FileStatusDraft {
		if err := s.transition(ctx, file, models.FileStatusValidating); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	var outcome *validation.Outcome
	src, err := validation.NewSource(file.OriginalFilename, rc)
	if err != nil {
		if !errors.Is(err, validation.ErrUnreadable) {
			return nil, err
		}
		outcome = validation.UnreadableOutcome(err)
	} else {
		defer src.Close()
		outcome, err = s.validator.Validate(ctx, src, file.Currency)
		if err != nil {
			return nil, fmt.Errorf("validate file %s: %w", file.ID, err)
		}
	}

	decision := outcome.Decision()
	if err := lifecycle.File(file.Status, decision); err != nil {
		return nil, err
	}

	instructions := outcome.Instructions(file.ID, file.TenantID)
	for i := range instructions {
		instructions[i].ID = uuid.NewString()
	}

	from := file.Status
	file.Status = decision
	file.TotalRows = outcome.TotalRows
	file.ValidRows = outcome.ValidRows
	file.InvalidRows = outcome.InvalidRows
	file.TotalAmount = outcome.TotalAmount
	file.ValidationSummary = outcome.Summary()
	if err := s.repo.SaveValidationResult(ctx, file, from, instructions); err != nil {
		return nil, fmt.Errorf("save validation result: %w", err)
	}
	s.events.statusChanged(*file, from, decision)

	s.log.WithFields(logrus.Fields{
		"file_id":      file.ID,
		"status":       decision,
		"total_rows":   file.TotalRows,
		"valid_rows":   file.ValidRows,
		"invalid_rows": file.InvalidRows,
		"total_amount": file.TotalAmount.String(),
		"duration":     time.Since(started).String(),
	}).Info("Payment file validated")

	if decision != models.FileStatusValidated {
		return file, nil
	}
	if s.approvals.RequiresApproval(ctx, file) {
		if _, err := s.approvals.CreateRequest(ctx, file); err != nil {
			return file, fmt.Errorf("create approval request: %w", err)
		}
		return s.repo.GetFile(ctx, file.ID)
	}
	return file, nil
}

// Submit queues a validated or approved file for processing. Validated files
// that need approval get an approval request instead.
func (s *FileService) Submit(ctx context.Context, principal models.Principal, fileID string) (*models.PaymentFile, error) {
	file, err := s.Get(ctx, principal, fileID)
	if err != nil {
		return nil, err
	}

	switch file.Status {
	case models.FileStatusValidated:
		if s.approvals.RequiresApproval(ctx, file) {
			if _, err := s.approvals.CreateRequest(ctx, file); err != nil {
				return nil, err
			}
			return s.repo.GetFile(ctx, file.ID)
		}
		if err := s.transition(ctx, file, models.FileStatusApproved); err != nil {
			return nil, err
		}
	case models.FileStatusApproved:
	default:
		return nil, fmt.Errorf("%w: file is %s", ErrFileNotProcessable, file.Status)
	}

	if err := s.dispatcher.EnqueueProcessing(ctx, file.ID); err != nil && !errors.Is(err, ErrJobAlreadyQueued) {
		s.log.WithError(err).WithField("file_id", file.ID).Error("Failed to enqueue processing")
	}
	return file, nil
}

// Get loads a file owned by the principal's tenant.
func (s *FileService) Get(ctx context.Context, principal models.Principal, fileID string) (*models.PaymentFile, error) {
	file, err := s.repo.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.TenantID != principal.TenantID {
		return nil, ErrForbidden
	}
	return file, nil
}

func (s *FileService) List(ctx context.Context, principal models.Principal, filter models.FileFilter) ([]models.PaymentFile, int, error) {
	filter.Limit = s.pageSize(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListFiles(ctx, principal.TenantID, filter)
}

func (s *FileService) ListInstructions(ctx context.Context, principal models.Principal, fileID string, q models.InstructionQuery) ([]models.PaymentInstruction, int, error) {
	if _, err := s.Get(ctx, principal, fileID); err != nil {
		return nil, 0, err
	}
	q.Limit = s.pageSize(q.Limit)
	total, err := s.repo.CountInstructions(ctx, fileID, q.Statuses)
	if err != nil {
		return nil, 0, err
	}
	items, err := s.repo.ListInstructions(ctx, fileID, q)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *FileService) pageSize(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultPageSize
	}
	if s.cfg.MaxPageSize > 0 && limit > s.cfg.MaxPageSize {
		return s.cfg.MaxPageSize
	}
	return limit
}

// Cancel stops a file and every instruction that has not reached a terminal
// state. A running processor notices between batches.
func (s *FileService) Cancel(ctx context.Context, principal models.Principal, fileID string) (*models.PaymentFile, error) {
	file, err := s.Get(ctx, principal, fileID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.File(file.Status, models.FileStatusCancelled); err != nil {
		return nil, err
	}
	n, err := s.repo.CancelFile(ctx, file.ID, file.Status)
	if err != nil {
		return nil, err
	}

	from := file.Status
	file.Status = models.FileStatusCancelled
	s.events.statusChanged(*file, from, file.Status)

	withdrawn := 0
	if s.pending != nil && from == models.FileStatusProcessing {
		withdrawn, err = s.pending.CancelPending(ctx, file.ID)
		if err != nil {
			s.log.WithError(err).WithField("file_id", file.ID).Warn("Failed to withdraw pending payments, leaving them to the reconciler")
		}
	}
	s.log.WithFields(logrus.Fields{
		"file_id":                file.ID,
		"from":                   from,
		"cancelled_instructions": n,
		"withdrawn":              withdrawn,
		"user_id":                principal.UserID,
	}).Info("Payment file cancelled")
	return s.Get(ctx, principal, file.ID)
}

// Delete soft deletes a file that never reached processing.
func (s *FileService) Delete(ctx context.Context, principal models.Principal, fileID string) error {
	file, err := s.Get(ctx, principal, fileID)
	if err != nil {
		return err
	}
	switch file.Status {
	case models.FileStatusProcessing, models.FileStatusCompleted, models.FileStatusFailed:
		return ErrFileNotDeletable
	}
	if file.ProcessedCount > 0 {
		return ErrFileNotDeletable
	}

	if err := s.repo.SoftDeleteFile(ctx, file.ID, file.Status, s.now()); err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, file.StoredFileRef); err != nil {
		s.log.WithError(err).WithField("file_id", file.ID).Warn("Failed to delete stored file")
	}
	s.log.WithFields(logrus.Fields{"file_id": file.ID, "user_id": principal.UserID}).Info("Payment file deleted")
	return nil
}

// Progress returns the last published processing snapshot, falling back to
// the stored aggregates.
func (s *FileService) Progress(ctx context.Context, principal models.Principal, fileID string) (*models.Progress, error) {
	file, err := s.Get(ctx, principal, fileID)
	if err != nil {
		return nil, err
	}
	if s.progress != nil {
		if p, err := s.progress.GetProgress(ctx, fileID); err == nil && p != nil {
			p.Status = file.Status
			return p, nil
		}
	}
	return snapshot(file, file.ValidRows, models.FileTotals{
		Processed: file.ProcessedCount,
		Succeeded: file.SucceededCount,
		Failed:    file.FailedCount,
	}, s.now()), nil
}

func (s *FileService) transition(ctx context.Context, file *models.PaymentFile, to models.FileStatus) error {
	if err := lifecycle.File(file.Status, to); err != nil {
		return err
	}
	if err := s.repo.UpdateFileStatus(ctx, file.ID, file.Status, to); err != nil {
		return err
	}
	from := file.Status
	file.Status = to
	s.events.statusChanged(*file, from, to)
	return nil
}

func snapshot(file *models.PaymentFile, total int, totals models.FileTotals, now time.Time) *models.Progress {
	p := &models.Progress{
		FileID:    file.ID,
		Status:    file.Status,
		Total:     total,
		Processed: totals.Processed,
		Succeeded: totals.Succeeded,
		Failed:    totals.Failed,
		UpdatedAt: now,
	}
	if total > 0 {
		p.Percent = float64(totals.Processed) / float64(total) * 100
	}
	return p
}
