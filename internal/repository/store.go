// Package repository is the sqlx backed store for MySQL and Postgres.
// Queries are written with ? placeholders and rebound per driver.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mass-payments/internal/models"
)

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// execOne runs a conditional write and reports whether a row matched.
func execOne(ctx context.Context, ext sqlx.ExtContext, query string, args ...interface{}) (bool, error) {
	result, err := ext.ExecContext(ctx, ext.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// missingOrStale tells a vanished row from one whose status moved on.
func missingOrStale(ctx context.Context, q sqlx.ExtContext, table, id string) error {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", table)
	if table == "payment_files" {
		query += " AND deleted_at IS NULL"
	}
	if err := sqlx.GetContext(ctx, q, &n, q.Rebind(query), id); err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return models.ErrStaleStatus
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

// in expands a query holding IN (?) placeholders and rebinds it.
func in(q sqlx.ExtContext, query string, args ...interface{}) (string, []interface{}, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return q.Rebind(query), args, nil
}
