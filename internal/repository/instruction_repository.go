package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"mass-payments/internal/models"
)

const instructionColumns = `id, file_id, tenant_id, row_no, beneficiary_name, beneficiary_account, bank_code,
	settlement_method, amount, currency, reference, purpose_code, details, status,
	external_transaction_id, validation_errors, retry_count, failure_code, failure_reason,
	processed_at, created_at, updated_at`

// Chunked to stay below the placeholder limit of both drivers.
const insertChunkSize = 500

func insertInstructions(ctx context.Context, tx *sqlx.Tx, instructions []models.PaymentInstruction) error {
	query := `INSERT INTO payment_instructions (` + instructionColumns + `)
	          VALUES (:id, :file_id, :tenant_id, :row_no, :beneficiary_name, :beneficiary_account, :bank_code,
	          :settlement_method, :amount, :currency, :reference, :purpose_code, :details, :status,
	          :external_transaction_id, :validation_errors, :retry_count, :failure_code, :failure_reason,
	          :processed_at, :created_at, :updated_at)`

	for i := 0; i < len(instructions); i += insertChunkSize {
		end := i + insertChunkSize
		if end > len(instructions) {
			end = len(instructions)
		}
		if _, err := tx.NamedExecContext(ctx, query, instructions[i:end]); err != nil {
			return fmt.Errorf("error inserting rows %d-%d: %w", i+1, end, err)
		}
	}
	return nil
}

func (s *Store) ListInstructions(ctx context.Context, fileID string, q models.InstructionQuery) ([]models.PaymentInstruction, error) {
	query := "SELECT " + instructionColumns + " FROM payment_instructions WHERE file_id = ? AND row_no > ?"
	args := []interface{}{fileID, q.AfterRow}
	if len(q.Statuses) > 0 {
		query += " AND status IN (?)"
		args = append(args, q.Statuses)
	}
	query += " ORDER BY row_no"
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset)
	}

	query, args, err := in(s.db, query, args...)
	if err != nil {
		return nil, err
	}
	instructions := []models.PaymentInstruction{}
	if err := s.db.SelectContext(ctx, &instructions, query, args...); err != nil {
		return nil, err
	}
	return instructions, nil
}

func (s *Store) CountInstructions(ctx context.Context, fileID string, statuses []models.InstructionStatus) (int, error) {
	query := "SELECT COUNT(*) FROM payment_instructions WHERE file_id = ?"
	args := []interface{}{fileID}
	if len(statuses) > 0 {
		query += " AND status IN (?)"
		args = append(args, statuses)
	}
	query, args, err := in(s.db, query, args...)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.GetContext(ctx, &n, query, args...)
	return n, err
}

func (s *Store) GetInstruction(ctx context.Context, id string) (*models.PaymentInstruction, error) {
	var inst models.PaymentInstruction
	query := "SELECT " + instructionColumns + " FROM payment_instructions WHERE id = ?"
	if err := s.db.GetContext(ctx, &inst, s.db.Rebind(query), id); err != nil {
		return nil, notFound(err)
	}
	return &inst, nil
}

func (s *Store) UpdateInstruction(ctx context.Context, inst *models.PaymentInstruction, from models.InstructionStatus) error {
	inst.UpdatedAt = s.now()
	ok, err := execOne(ctx, s.db, `UPDATE payment_instructions
	          SET status = ?, external_transaction_id = ?, validation_errors = ?, retry_count = ?,
	              failure_code = ?, failure_reason = ?, processed_at = ?, bank_code = ?, details = ?, updated_at = ?
	          WHERE id = ? AND status = ?`,
		inst.Status, inst.ExternalTransactionID, inst.ValidationErrors, inst.RetryCount,
		inst.FailureCode, inst.FailureReason, inst.ProcessedAt, inst.BankCode, inst.Details, inst.UpdatedAt,
		inst.ID, from)
	if err != nil {
		return err
	}
	if !ok {
		return missingOrStale(ctx, s.db, "payment_instructions", inst.ID)
	}
	return nil
}

type statusTotal struct {
	Status models.InstructionStatus `db:"status"`
	Count  int                      `db:"n"`
	Amount decimal.Decimal          `db:"amount"`
}

func (s *Store) InstructionTotals(ctx context.Context, fileID string) (models.FileTotals, error) {
	var rows []statusTotal
	query := `SELECT status, COUNT(*) AS n, COALESCE(SUM(amount), 0) AS amount
	          FROM payment_instructions WHERE file_id = ? GROUP BY status`
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), fileID); err != nil {
		return models.FileTotals{}, err
	}

	totals := models.FileTotals{ProcessedAmount: decimal.Zero}
	for _, r := range rows {
		switch r.Status {
		case models.InstructionStatusCompleted:
			totals.Processed += r.Count
			totals.Succeeded += r.Count
			totals.ProcessedAmount = totals.ProcessedAmount.Add(r.Amount)
		case models.InstructionStatusFailed:
			totals.Processed += r.Count
			totals.Failed += r.Count
		case models.InstructionStatusCancelled:
			totals.Cancelled += r.Count
		case models.InstructionStatusValidated, models.InstructionStatusPending, models.InstructionStatusProcessing:
			totals.Pending += r.Count
		}
	}
	return totals, nil
}
