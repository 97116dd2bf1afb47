package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyRule holds the per-currency constraints consulted at validation,
// approval and processing time.
type CurrencyRule struct {
	Code                    string          `json:"code"`
	Name                    string          `json:"name"`
	Country                 string          `json:"country"`
	MinAmount               decimal.Decimal `json:"min_amount"`
	MaxAmount               decimal.Decimal `json:"max_amount"`
	DecimalPlaces           int32           `json:"decimal_places"`
	ApprovalThreshold       decimal.Decimal `json:"approval_threshold"`
	HighValueThreshold      decimal.Decimal `json:"high_value_threshold"`
	RequiresInvoice         bool            `json:"requires_invoice"`
	RequiresIncorporation   bool            `json:"requires_incorporation"`
	RequiresSwift           bool            `json:"requires_swift"`
	RequiresIBAN            bool            `json:"requires_iban"`
	RequiresPurposeCode     bool            `json:"requires_purpose_code"`
	SettlementMethods       []string        `json:"settlement_methods"`
	DefaultSettlementMethod string          `json:"default_settlement_method"`
	Provider                string          `json:"provider"`
	ProcessingSLA           time.Duration   `json:"processing_sla"`
}

// AllowsMethod reports whether method is a permitted corridor for the currency.
func (r CurrencyRule) AllowsMethod(method string) bool {
	for _, m := range r.SettlementMethods {
		if m == method {
			return true
		}
	}
	return false
}

type PurposeCode struct {
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description" yaml:"description"`
}
