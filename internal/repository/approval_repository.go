package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"mass-payments/internal/models"
)

const approvalColumns = "id, file_id, tenant_id, approver_id, status, requested_at, decided_at, comments"

// CreateApproval relies on the unique (file_id, approver_id, pending_marker)
// index: pending rows carry marker 1, decided rows NULL.
func (s *Store) CreateApproval(ctx context.Context, approval *models.Approval) error {
	query := `INSERT INTO approvals (id, file_id, tenant_id, approver_id, status, pending_marker, requested_at)
	          VALUES (?, ?, ?, ?, ?, 1, ?)`
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		approval.ID, approval.FileID, approval.TenantID, approval.ApproverID, approval.Status, approval.RequestedAt)
	if isUniqueViolation(err) {
		return models.ErrDuplicatePending
	}
	return err
}

func (s *Store) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	var a models.Approval
	query := "SELECT " + approvalColumns + " FROM approvals WHERE id = ?"
	if err := s.db.GetContext(ctx, &a, s.db.Rebind(query), id); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *Store) ListApprovals(ctx context.Context, fileID string) ([]models.Approval, error) {
	approvals := []models.Approval{}
	query := "SELECT " + approvalColumns + " FROM approvals WHERE file_id = ? ORDER BY requested_at, id"
	err := s.db.SelectContext(ctx, &approvals, s.db.Rebind(query), fileID)
	return approvals, err
}

func (s *Store) FindPendingApprovals(ctx context.Context, fileID string) ([]models.Approval, error) {
	approvals := []models.Approval{}
	query := "SELECT " + approvalColumns + " FROM approvals WHERE file_id = ? AND status = ? ORDER BY requested_at, id"
	err := s.db.SelectContext(ctx, &approvals, s.db.Rebind(query), fileID, models.ApprovalStatusPending)
	return approvals, err
}

func (s *Store) ExpireApproval(ctx context.Context, id string) error {
	ok, err := execOne(ctx, s.db,
		"UPDATE approvals SET status = ?, pending_marker = NULL WHERE id = ? AND status = ?",
		models.ApprovalStatusExpired, id, models.ApprovalStatusPending)
	if err != nil {
		return err
	}
	if !ok {
		return missingOrStale(ctx, s.db, "approvals", id)
	}
	return nil
}

func (s *Store) DecideApproval(ctx context.Context, approval *models.Approval, fileStatus models.FileStatus) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := execOne(ctx, tx, `UPDATE approvals
		          SET status = ?, decided_at = ?, comments = ?, pending_marker = NULL
		          WHERE id = ? AND status = ?`,
			approval.Status, approval.DecidedAt, approval.Comments, approval.ID, models.ApprovalStatusPending)
		if err != nil {
			return err
		}
		if !ok {
			return missingOrStale(ctx, tx, "approvals", approval.ID)
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE approvals SET status = ?, decided_at = ?, pending_marker = NULL
		          WHERE file_id = ? AND status = ? AND id <> ?`),
			models.ApprovalStatusCancelled, approval.DecidedAt, approval.FileID, models.ApprovalStatusPending, approval.ID)
		if err != nil {
			return err
		}

		var approvedBy *string
		approvedAt := approval.DecidedAt
		if fileStatus == models.FileStatusApproved {
			approvedBy = &approval.ApproverID
		} else {
			approvedAt = nil
		}
		ok, err = execOne(ctx, tx, `UPDATE payment_files
		          SET status = ?, approved_by = ?, approved_at = ?, updated_at = ?
		          WHERE id = ? AND status = ? AND deleted_at IS NULL`,
			fileStatus, approvedBy, approvedAt, s.now(), approval.FileID, models.FileStatusAwaitingApproval)
		if err != nil {
			return err
		}
		if !ok {
			return missingOrStale(ctx, tx, "payment_files", approval.FileID)
		}
		return nil
	})
}
