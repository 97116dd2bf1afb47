package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"mass-payments/internal/lifecycle"
	"mass-payments/internal/models"
)

const fileColumns = `id, tenant_id, uploaded_by, approved_by, settlement_account_id, currency, status,
	original_filename, stored_file_ref, checksum, total_rows, valid_rows, invalid_rows, total_amount,
	processed_count, succeeded_count, failed_count, processed_amount, validation_summary,
	created_at, updated_at, approved_at, deleted_at`

func (s *Store) CreateFile(ctx context.Context, file *models.PaymentFile) error {
	now := s.now()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = now

	query := `INSERT INTO payment_files (id, tenant_id, uploaded_by, settlement_account_id, currency, status,
	          original_filename, stored_file_ref, checksum, total_amount, processed_amount,
	          validation_summary, created_at, updated_at)
	          VALUES (:id, :tenant_id, :uploaded_by, :settlement_account_id, :currency, :status,
	          :original_filename, :stored_file_ref, :checksum, :total_amount, :processed_amount,
	          :validation_summary, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, query, file)
	return err
}

func (s *Store) GetFile(ctx context.Context, id string) (*models.PaymentFile, error) {
	var file models.PaymentFile
	query := "SELECT " + fileColumns + " FROM payment_files WHERE id = ? AND deleted_at IS NULL"
	if err := s.db.GetContext(ctx, &file, s.db.Rebind(query), id); err != nil {
		return nil, notFound(err)
	}
	return &file, nil
}

func (s *Store) ListFiles(ctx context.Context, tenantID string, filter models.FileFilter) ([]models.PaymentFile, int, error) {
	where := "WHERE tenant_id = ? AND deleted_at IS NULL"
	args := []interface{}{tenantID}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind("SELECT COUNT(*) FROM payment_files "+where), args...); err != nil {
		return nil, 0, err
	}

	files := []models.PaymentFile{}
	query := fmt.Sprintf("SELECT %s FROM payment_files %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?", fileColumns, where)
	args = append(args, filter.Limit, filter.Offset)
	if err := s.db.SelectContext(ctx, &files, s.db.Rebind(query), args...); err != nil {
		return nil, 0, err
	}
	return files, total, nil
}

func (s *Store) FindFileByChecksum(ctx context.Context, tenantID, checksum string) (*models.PaymentFile, error) {
	var file models.PaymentFile
	query := "SELECT " + fileColumns + ` FROM payment_files
	          WHERE tenant_id = ? AND checksum = ? AND deleted_at IS NULL
	          ORDER BY created_at DESC LIMIT 1`
	if err := s.db.GetContext(ctx, &file, s.db.Rebind(query), tenantID, checksum); err != nil {
		return nil, notFound(err)
	}
	return &file, nil
}

func (s *Store) UpdateFileStatus(ctx context.Context, id string, from, to models.FileStatus) error {
	ok, err := execOne(ctx, s.db,
		"UPDATE payment_files SET status = ?, updated_at = ? WHERE id = ? AND status = ? AND deleted_at IS NULL",
		to, s.now(), id, from)
	if err != nil {
		return err
	}
	if !ok {
		return missingOrStale(ctx, s.db, "payment_files", id)
	}
	return nil
}

func (s *Store) SaveValidationResult(ctx context.Context, file *models.PaymentFile, from models.FileStatus, instructions []models.PaymentInstruction) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := execOne(ctx, tx, `UPDATE payment_files
		          SET status = ?, total_rows = ?, valid_rows = ?, invalid_rows = ?, total_amount = ?,
		              validation_summary = ?, updated_at = ?
		          WHERE id = ? AND status = ? AND deleted_at IS NULL`,
			file.Status, file.TotalRows, file.ValidRows, file.InvalidRows, file.TotalAmount,
			file.ValidationSummary, now, file.ID, from)
		if err != nil {
			return err
		}
		if !ok {
			return missingOrStale(ctx, tx, "payment_files", file.ID)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM payment_instructions WHERE file_id = ?"), file.ID); err != nil {
			return err
		}
		for i := range instructions {
			instructions[i].CreatedAt = now
			instructions[i].UpdatedAt = now
		}
		return insertInstructions(ctx, tx, instructions)
	})
}

func (s *Store) UpdateFileTotals(ctx context.Context, id string, totals models.FileTotals) error {
	ok, err := execOne(ctx, s.db, `UPDATE payment_files
	          SET processed_count = ?, succeeded_count = ?, failed_count = ?, processed_amount = ?, updated_at = ?
	          WHERE id = ?`,
		totals.Processed, totals.Succeeded, totals.Failed, totals.ProcessedAmount, s.now(), id)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) CancelFile(ctx context.Context, id string, from models.FileStatus) (int, error) {
	var cancelled int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()
		ok, err := execOne(ctx, tx,
			"UPDATE payment_files SET status = ?, updated_at = ? WHERE id = ? AND status = ? AND deleted_at IS NULL",
			models.FileStatusCancelled, now, id, from)
		if err != nil {
			return err
		}
		if !ok {
			return missingOrStale(ctx, tx, "payment_files", id)
		}
		cancelled, err = cancelChildren(ctx, tx, id, now)
		return err
	})
	return cancelled, err
}

func (s *Store) SoftDeleteFile(ctx context.Context, id string, from models.FileStatus, at time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()
		ok, err := execOne(ctx, tx,
			"UPDATE payment_files SET deleted_at = ?, updated_at = ? WHERE id = ? AND status = ? AND deleted_at IS NULL",
			at, now, id, from)
		if err != nil {
			return err
		}
		if !ok {
			return missingOrStale(ctx, tx, "payment_files", id)
		}
		_, err = cancelChildren(ctx, tx, id, now)
		return err
	})
}

// cancelChildren cancels the non-terminal instructions and pending approvals
// of a file inside tx. Instructions the provider already holds a transaction
// for stay in processing until the provider confirms the cancellation.
func cancelChildren(ctx context.Context, tx *sqlx.Tx, fileID string, now time.Time) (int, error) {
	query, args, err := in(tx,
		`UPDATE payment_instructions SET status = ?, updated_at = ?
		  WHERE file_id = ? AND status IN (?)
		    AND NOT (status = ? AND external_transaction_id IS NOT NULL)`,
		models.InstructionStatusCancelled, now, fileID, lifecycle.NonTerminalInstructionStatuses(),
		models.InstructionStatusProcessing)
	if err != nil {
		return 0, err
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE approvals SET status = ?, decided_at = ?, pending_marker = NULL
	          WHERE file_id = ? AND status = ?`),
		models.ApprovalStatusCancelled, now, fileID, models.ApprovalStatusPending)
	return int(n), err
}

func (s *Store) ListFilesHoldingInstructions(ctx context.Context, fileStatuses []models.FileStatus, instStatuses []models.InstructionStatus, limit int) ([]models.PaymentFile, error) {
	query, args, err := in(s.db, "SELECT "+fileColumns+` FROM payment_files
	          WHERE status IN (?) AND deleted_at IS NULL
	            AND EXISTS (SELECT 1 FROM payment_instructions ins
	                         WHERE ins.file_id = payment_files.id AND ins.status IN (?))
	          ORDER BY updated_at LIMIT ?`, fileStatuses, instStatuses, limit)
	if err != nil {
		return nil, err
	}
	files := []models.PaymentFile{}
	if err := s.db.SelectContext(ctx, &files, query, args...); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *Store) ListFilesByStatus(ctx context.Context, statuses []models.FileStatus, updatedBefore time.Time, limit int) ([]models.PaymentFile, error) {
	query, args, err := in(s.db, "SELECT "+fileColumns+` FROM payment_files
	          WHERE status IN (?) AND updated_at < ? AND deleted_at IS NULL
	          ORDER BY updated_at LIMIT ?`, statuses, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	files := []models.PaymentFile{}
	if err := s.db.SelectContext(ctx, &files, query, args...); err != nil {
		return nil, err
	}
	return files, nil
}
