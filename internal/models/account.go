package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementAccount is the tenant account debited when instructions settle.
type SettlementAccount struct {
	ID               string          `db:"id" json:"id"`
	TenantID         string          `db:"tenant_id" json:"tenant_id"`
	Currency         string          `db:"currency" json:"currency"`
	AvailableBalance decimal.Decimal `db:"available_balance" json:"available_balance"`
	ReservedBalance  decimal.Decimal `db:"reserved_balance" json:"reserved_balance"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

type FundReservation struct {
	InstructionID string            `db:"instruction_id" json:"instruction_id"`
	AccountID     string            `db:"account_id" json:"account_id"`
	Amount        decimal.Decimal   `db:"amount" json:"amount"`
	Status        ReservationStatus `db:"status" json:"status"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}
