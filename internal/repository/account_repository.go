package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"mass-payments/internal/models"
)

const accountColumns = "id, tenant_id, currency, available_balance, reserved_balance, updated_at"

func (s *Store) CreateSettlementAccount(ctx context.Context, account *models.SettlementAccount) error {
	account.UpdatedAt = s.now()
	query := `INSERT INTO settlement_accounts (id, tenant_id, currency, available_balance, reserved_balance, updated_at)
	          VALUES (:id, :tenant_id, :currency, :available_balance, :reserved_balance, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, query, account)
	return err
}

func (s *Store) GetSettlementAccount(ctx context.Context, id string) (*models.SettlementAccount, error) {
	var account models.SettlementAccount
	query := "SELECT " + accountColumns + " FROM settlement_accounts WHERE id = ?"
	if err := s.db.GetContext(ctx, &account, s.db.Rebind(query), id); err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

func (s *Store) ListSettlementAccounts(ctx context.Context, tenantID string) ([]models.SettlementAccount, error) {
	accounts := []models.SettlementAccount{}
	query := "SELECT " + accountColumns + " FROM settlement_accounts WHERE tenant_id = ? ORDER BY currency, id"
	err := s.db.SelectContext(ctx, &accounts, s.db.Rebind(query), tenantID)
	return accounts, err
}

// ReserveFunds moves amount from available to reserved with a conditional
// decrement, so concurrent reservations can never overdraw the account.
func (s *Store) ReserveFunds(ctx context.Context, accountID, instructionID string, amount decimal.Decimal) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var status models.ReservationStatus
		err := tx.GetContext(ctx, &status, tx.Rebind(
			"SELECT status FROM fund_reservations WHERE instruction_id = ? FOR UPDATE"), instructionID)
		exists := err == nil
		switch {
		case exists && status != models.ReservationReleased:
			return nil
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return err
		}

		now := s.now()
		ok, err := execOne(ctx, tx, `UPDATE settlement_accounts
		          SET available_balance = available_balance - ?, reserved_balance = reserved_balance + ?, updated_at = ?
		          WHERE id = ? AND available_balance >= ?`,
			amount, amount, now, accountID, amount)
		if err != nil {
			return err
		}
		if !ok {
			var n int
			if err := tx.GetContext(ctx, &n, tx.Rebind("SELECT COUNT(*) FROM settlement_accounts WHERE id = ?"), accountID); err != nil {
				return err
			}
			if n == 0 {
				return models.ErrNotFound
			}
			return models.ErrInsufficientFunds
		}

		if exists {
			_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE fund_reservations
			          SET account_id = ?, amount = ?, status = ?, updated_at = ? WHERE instruction_id = ?`),
				accountID, amount, models.ReservationReserved, now, instructionID)
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO fund_reservations
		          (instruction_id, account_id, amount, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`),
			instructionID, accountID, amount, models.ReservationReserved, now, now)
		return err
	})
	// A concurrent reservation for the same instruction won the insert.
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

func (s *Store) CommitReservation(ctx context.Context, instructionID string) error {
	return s.settleReservation(ctx, instructionID, models.ReservationCommitted)
}

func (s *Store) ReleaseReservation(ctx context.Context, instructionID string) error {
	return s.settleReservation(ctx, instructionID, models.ReservationReleased)
}

func (s *Store) settleReservation(ctx context.Context, instructionID string, to models.ReservationStatus) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var res models.FundReservation
		err := tx.GetContext(ctx, &res, tx.Rebind(`SELECT instruction_id, account_id, amount, status, created_at, updated_at
		          FROM fund_reservations WHERE instruction_id = ? FOR UPDATE`), instructionID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if res.Status != models.ReservationReserved {
			return nil
		}

		now := s.now()
		query := "UPDATE settlement_accounts SET reserved_balance = reserved_balance - ?, updated_at = ? WHERE id = ?"
		args := []interface{}{res.Amount, now, res.AccountID}
		if to == models.ReservationReleased {
			query = `UPDATE settlement_accounts
			          SET reserved_balance = reserved_balance - ?, available_balance = available_balance + ?, updated_at = ?
			          WHERE id = ?`
			args = []interface{}{res.Amount, res.Amount, now, res.AccountID}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(
			"UPDATE fund_reservations SET status = ?, updated_at = ? WHERE instruction_id = ?"), to, now, instructionID)
		return err
	})
}
