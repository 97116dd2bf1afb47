package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mass-payments/internal/config"
	"mass-payments/internal/currency"
	"mass-payments/internal/lifecycle"
	"mass-payments/internal/models"
	"mass-payments/internal/utils"
)

// ApprovalService gates validated files behind a human decision.
type ApprovalService struct {
	repo       Repository
	rules      currency.Rules
	approvers  ApproverResolver
	tenants    TenantDirectory
	dispatcher JobDispatcher
	events     events
	cfg        *config.Config
	log        *logrus.Logger
	now        func() time.Time
}

func NewApprovalService(
	repo Repository,
	rules currency.Rules,
	approvers ApproverResolver,
	tenants TenantDirectory,
	dispatcher JobDispatcher,
	notifier Notifier,
	cfg *config.Config,
) *ApprovalService {
	log := utils.GetLogger()
	return &ApprovalService{
		repo:       repo,
		rules:      rules,
		approvers:  approvers,
		tenants:    tenants,
		dispatcher: dispatcher,
		events:     events{notifier: notifier, timeout: cfg.NotificationTimeout, log: log},
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RequiresApproval reports whether a validated file needs sign-off. When the
// decision cannot be evaluated the answer is yes.
func (s *ApprovalService) RequiresApproval(ctx context.Context, file *models.PaymentFile) bool {
	reasons, err := s.approvalReasons(ctx, file)
	if err != nil {
		s.log.WithError(err).WithField("file_id", file.ID).Warn("Approval check failed, requiring approval")
		return true
	}
	if len(reasons) > 0 {
		s.log.WithFields(logrus.Fields{"file_id": file.ID, "reasons": reasons}).Info("File requires approval")
	}
	return len(reasons) > 0
}

func (s *ApprovalService) approvalReasons(ctx context.Context, file *models.PaymentFile) ([]string, error) {
	rule, err := s.rules.RuleFor(file.Currency)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenants.GetTenant(ctx, file.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", file.TenantID, err)
	}

	var reasons []string
	if file.TotalAmount.GreaterThanOrEqual(rule.ApprovalThreshold) {
		reasons = append(reasons, "amount_threshold")
	}
	if file.TotalRows > s.cfg.ApprovalRowThreshold {
		reasons = append(reasons, "row_count")
	}
	if !strings.EqualFold(tenant.HomeCurrency, file.Currency) {
		reasons = append(reasons, "foreign_currency")
	}
	if file.InvalidRatio() > s.cfg.ApprovalInvalidRatio {
		reasons = append(reasons, "invalid_ratio")
	}
	return reasons, nil
}

// CreateRequest opens approvals for a file and moves it to
// awaiting_approval. Calling it again returns the live pending approval.
func (s *ApprovalService) CreateRequest(ctx context.Context, file *models.PaymentFile) (*models.Approval, error) {
	if file.Status != models.FileStatusAwaitingApproval {
		if err := lifecycle.File(file.Status, models.FileStatusAwaitingApproval); err != nil {
			return nil, err
		}
	}

	live, err := s.livePending(ctx, file.ID)
	if err != nil {
		return nil, err
	}

	var created []models.Approval
	if len(live) == 0 {
		created, err = s.openApprovals(ctx, file)
		if err != nil {
			return nil, err
		}
	}

	if file.Status == models.FileStatusValidated {
		err := s.repo.UpdateFileStatus(ctx, file.ID, models.FileStatusValidated, models.FileStatusAwaitingApproval)
		switch {
		case err == nil:
			s.events.statusChanged(*file, models.FileStatusValidated, models.FileStatusAwaitingApproval)
			file.Status = models.FileStatusAwaitingApproval
		case errors.Is(err, models.ErrStaleStatus):
			// A concurrent request already moved the file.
		default:
			return nil, err
		}
	}

	for _, a := range created {
		s.events.approvalRequired(*file, a)
	}

	if live, err = s.livePending(ctx, file.ID); err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, ErrNoApprovers
	}
	return &live[0], nil
}

// livePending returns pending approvals, marking the expired ones on the way.
func (s *ApprovalService) livePending(ctx context.Context, fileID string) ([]models.Approval, error) {
	pending, err := s.repo.FindPendingApprovals(ctx, fileID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	live := pending[:0]
	for _, a := range pending {
		if !a.IsExpired(now, s.cfg.ApprovalTimeout) {
			live = append(live, a)
			continue
		}
		if err := s.repo.ExpireApproval(ctx, a.ID); err != nil && !errors.Is(err, models.ErrStaleStatus) {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{"approval_id": a.ID, "file_id": fileID}).Info("Approval expired")
	}
	return live, nil
}

func (s *ApprovalService) openApprovals(ctx context.Context, file *models.PaymentFile) ([]models.Approval, error) {
	users, err := s.approvers.ResolveApprovers(ctx, file.TenantID, file.UploadedBy)
	if err != nil {
		return nil, fmt.Errorf("resolve approvers: %w", err)
	}
	if len(users) == 0 {
		return nil, ErrNoApprovers
	}
	n := s.cfg.ApproversPerFile
	if n <= 0 || n > len(users) {
		n = len(users)
	}

	var created []models.Approval
	for _, u := range users[:n] {
		a := models.Approval{
			ID:          uuid.NewString(),
			FileID:      file.ID,
			TenantID:    file.TenantID,
			ApproverID:  u.ID,
			Status:      models.ApprovalStatusPending,
			RequestedAt: s.now(),
		}
		if err := s.repo.CreateApproval(ctx, &a); err != nil {
			if errors.Is(err, models.ErrDuplicatePending) {
				continue
			}
			return nil, err
		}
		created = append(created, a)
		s.log.WithFields(logrus.Fields{
			"approval_id": a.ID,
			"file_id":     file.ID,
			"approver_id": u.ID,
		}).Info("Approval requested")
	}
	return created, nil
}

// Decide records an approver's decision. The first decision on a file wins;
// approving dispatches the file for processing.
func (s *ApprovalService) Decide(ctx context.Context, principal models.Principal, approvalID string, action models.ApprovalAction, comments string) (models.FileStatus, error) {
	approval, err := s.repo.GetApproval(ctx, approvalID)
	if err != nil {
		return "", err
	}
	if approval.TenantID != principal.TenantID {
		return "", models.ErrNotFound
	}
	if !principal.CanApprove() || approval.ApproverID != principal.UserID {
		return "", ErrNotApprover
	}

	switch approval.Status {
	case models.ApprovalStatusPending:
	case models.ApprovalStatusExpired:
		return "", ErrApprovalExpired
	default:
		return "", ErrApprovalAlreadyDecided
	}
	if approval.IsExpired(s.now(), s.cfg.ApprovalTimeout) {
		if err := s.repo.ExpireApproval(ctx, approval.ID); err != nil && !errors.Is(err, models.ErrStaleStatus) {
			return "", err
		}
		return "", ErrApprovalExpired
	}

	comments = strings.TrimSpace(comments)
	var target models.FileStatus
	decided := *approval
	switch action {
	case models.ActionApprove:
		target = models.FileStatusApproved
		decided.Status = models.ApprovalStatusApproved
	case models.ActionReject:
		if comments == "" {
			return "", ErrCommentsRequired
		}
		target = models.FileStatusRejected
		decided.Status = models.ApprovalStatusRejected
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	file, err := s.repo.GetFile(ctx, approval.FileID)
	if err != nil {
		return "", err
	}
	if err := lifecycle.File(file.Status, target); err != nil {
		return "", err
	}

	now := s.now()
	decided.DecidedAt = &now
	if comments != "" {
		decided.Comments = &comments
	}
	if err := s.repo.DecideApproval(ctx, &decided, target); err != nil {
		if errors.Is(err, models.ErrStaleStatus) {
			return "", ErrApprovalAlreadyDecided
		}
		return "", err
	}
	s.events.statusChanged(*file, file.Status, target)

	s.log.WithFields(logrus.Fields{
		"approval_id": approval.ID,
		"file_id":     file.ID,
		"approver_id": principal.UserID,
		"decision":    action,
	}).Info("Approval decided")

	if target == models.FileStatusApproved {
		if err := s.dispatcher.EnqueueProcessing(ctx, file.ID); err != nil && !errors.Is(err, ErrJobAlreadyQueued) {
			s.log.WithError(err).WithField("file_id", file.ID).Error("Failed to enqueue processing")
		}
	}
	return target, nil
}

func (s *ApprovalService) ListApprovals(ctx context.Context, principal models.Principal, fileID string) ([]models.Approval, error) {
	file, err := s.repo.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.TenantID != principal.TenantID {
		return nil, ErrForbidden
	}
	return s.repo.ListApprovals(ctx, fileID)
}
