package currency

import (
	"time"

	"github.com/shopspring/decimal"

	"mass-payments/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var builtinRules = []models.CurrencyRule{
	{
		Code: "USD", Name: "US Dollar", Country: "US",
		MinAmount: d("1"), MaxAmount: d("1000000"), DecimalPlaces: 2,
		ApprovalThreshold: d("10000"), HighValueThreshold: d("50000"),
		RequiresSwift:           true,
		SettlementMethods:       []string{models.SettlementSwift, models.SettlementLocal},
		DefaultSettlementMethod: models.SettlementSwift,
		Provider:                "swift", ProcessingSLA: 48 * time.Hour,
	},
	{
		Code: "EUR", Name: "Euro", Country: "EU",
		MinAmount: d("1"), MaxAmount: d("1000000"), DecimalPlaces: 2,
		ApprovalThreshold: d("10000"), HighValueThreshold: d("50000"),
		RequiresIBAN:            true,
		SettlementMethods:       []string{models.SettlementSepa, models.SettlementSwift},
		DefaultSettlementMethod: models.SettlementSepa,
		Provider:                "sepa", ProcessingSLA: 24 * time.Hour,
	},
	{
		Code: "GBP", Name: "Pound Sterling", Country: "GB",
		MinAmount: d("1"), MaxAmount: d("1000000"), DecimalPlaces: 2,
		ApprovalThreshold: d("8000"), HighValueThreshold: d("40000"),
		SettlementMethods:       []string{models.SettlementLocalGB, models.SettlementSwift},
		DefaultSettlementMethod: models.SettlementLocalGB,
		Provider:                "faster-payments", ProcessingSLA: 2 * time.Hour,
	},
	{
		Code: "INR", Name: "Indian Rupee", Country: "IN",
		MinAmount: d("100"), MaxAmount: d("5000000"), DecimalPlaces: 2,
		ApprovalThreshold: d("800000"), HighValueThreshold: d("2500000"),
		RequiresInvoice: true, RequiresPurposeCode: true,
		SettlementMethods:       []string{models.SettlementSwift, models.SettlementLocal},
		DefaultSettlementMethod: models.SettlementLocal,
		Provider:                "swift", ProcessingSLA: 72 * time.Hour,
	},
	{
		Code: "JPY", Name: "Japanese Yen", Country: "JP",
		MinAmount: d("100"), MaxAmount: d("100000000"), DecimalPlaces: 0,
		ApprovalThreshold: d("1500000"), HighValueThreshold: d("7500000"),
		RequiresSwift:           true,
		SettlementMethods:       []string{models.SettlementSwift},
		DefaultSettlementMethod: models.SettlementSwift,
		Provider:                "swift", ProcessingSLA: 48 * time.Hour,
	},
	{
		Code: "CNY", Name: "Chinese Yuan", Country: "CN",
		MinAmount: d("10"), MaxAmount: d("3000000"), DecimalPlaces: 2,
		ApprovalThreshold: d("70000"), HighValueThreshold: d("350000"),
		RequiresIncorporation: true, RequiresPurposeCode: true, RequiresSwift: true,
		SettlementMethods:       []string{models.SettlementSwift},
		DefaultSettlementMethod: models.SettlementSwift,
		Provider:                "swift", ProcessingSLA: 72 * time.Hour,
	},
	{
		Code: "AED", Name: "UAE Dirham", Country: "AE",
		MinAmount: d("5"), MaxAmount: d("3500000"), DecimalPlaces: 2,
		ApprovalThreshold: d("37000"), HighValueThreshold: d("185000"),
		RequiresIBAN: true, RequiresPurposeCode: true,
		SettlementMethods:       []string{models.SettlementSwift},
		DefaultSettlementMethod: models.SettlementSwift,
		Provider:                "swift", ProcessingSLA: 48 * time.Hour,
	},
	{
		Code: "CHF", Name: "Swiss Franc", Country: "CH",
		MinAmount: d("1"), MaxAmount: d("1000000"), DecimalPlaces: 2,
		ApprovalThreshold: d("9000"), HighValueThreshold: d("45000"),
		RequiresIBAN:            true,
		SettlementMethods:       []string{models.SettlementSwift, models.SettlementSepa},
		DefaultSettlementMethod: models.SettlementSwift,
		Provider:                "swift", ProcessingSLA: 48 * time.Hour,
	},
	{
		Code: "CAD", Name: "Canadian Dollar", Country: "CA",
		MinAmount: d("1"), MaxAmount: d("1000000"), DecimalPlaces: 2,
		ApprovalThreshold:       d("13000"),
		SettlementMethods:       []string{models.SettlementSwift, models.SettlementLocal},
		DefaultSettlementMethod: models.SettlementSwift,
		Provider:                "swift",
	},
	{
		Code: "AUD", Name: "Australian Dollar", Country: "AU",
		MinAmount: d("1"), MaxAmount: d("1000000"), DecimalPlaces: 2,
		ApprovalThreshold:       d("15000"),
		SettlementMethods:       []string{models.SettlementSwift, models.SettlementLocal},
		DefaultSettlementMethod: models.SettlementSwift,
		Provider:                "swift",
	},
	{
		Code: "SGD", Name: "Singapore Dollar", Country: "SG",
		MinAmount: d("1"), MaxAmount: d("1000000"), DecimalPlaces: 2,
		ApprovalThreshold:       d("13500"),
		RequiresSwift:           true,
		SettlementMethods:       []string{models.SettlementSwift},
		DefaultSettlementMethod: models.SettlementSwift,
		Provider:                "swift",
	},
	{
		Code: "HKD", Name: "Hong Kong Dollar", Country: "HK",
		MinAmount: d("10"), MaxAmount: d("8000000"), DecimalPlaces: 2,
		ApprovalThreshold:       d("78000"),
		RequiresSwift:           true,
		SettlementMethods:       []string{models.SettlementSwift},
		DefaultSettlementMethod: models.SettlementSwift,
		Provider:                "swift",
	},
	{
		Code: "ZAR", Name: "South African Rand", Country: "ZA",
		MinAmount: d("10"), MaxAmount: d("15000000"), DecimalPlaces: 2,
		ApprovalThreshold: d("180000"),
		RequiresSwift:     true, RequiresPurposeCode: true,
		SettlementMethods:       []string{models.SettlementSwift, models.SettlementLocal},
		DefaultSettlementMethod: models.SettlementSwift,
		Provider:                "swift",
	},
	{
		Code: "NGN", Name: "Nigerian Naira", Country: "NG",
		MinAmount: d("1000"), MaxAmount: d("500000000"), DecimalPlaces: 2,
		ApprovalThreshold:       d("8000000"),
		RequiresInvoice:         true,
		SettlementMethods:       []string{models.SettlementLocal, models.SettlementSwift},
		DefaultSettlementMethod: models.SettlementLocal,
		Provider:                "local-ng", ProcessingSLA: 72 * time.Hour,
	},
	{
		Code: "KES", Name: "Kenyan Shilling", Country: "KE",
		MinAmount: d("100"), MaxAmount: d("100000000"), DecimalPlaces: 2,
		ApprovalThreshold:       d("1300000"),
		SettlementMethods:       []string{models.SettlementLocal, models.SettlementSwift},
		DefaultSettlementMethod: models.SettlementLocal,
		Provider:                "local-ke",
	},
}

var builtinPurposeCodes = map[string][]models.PurposeCode{
	"INR": {
		{Code: "P0101", Description: "Value of export bills"},
		{Code: "P0103", Description: "Advance receipts against export contracts"},
		{Code: "P0802", Description: "Software consultancy services"},
		{Code: "P1006", Description: "Business and management consultancy"},
		{Code: "P1301", Description: "Inward remittance from Indian non-residents towards family maintenance"},
		{Code: "P1302", Description: "Personal gifts and donations"},
	},
	"CNY": {
		{Code: "GOODS", Description: "Trade in goods"},
		{Code: "SERVICES", Description: "Trade in services"},
		{Code: "CAPITAL", Description: "Capital account transfer"},
	},
	"ZAR": {
		{Code: "101", Description: "Trade payments for imports"},
		{Code: "401", Description: "Gifts"},
		{Code: "416", Description: "Migrant worker remittances"},
	},
	"AED": {
		{Code: "GDS", Description: "Goods bought or sold"},
		{Code: "SAL", Description: "Salary"},
		{Code: "FAM", Description: "Family support"},
		{Code: "IFS", Description: "Information services"},
	},
}

// Default returns the built-in registry.
func Default() *Registry {
	return NewRegistry(builtinRules, builtinPurposeCodes)
}
