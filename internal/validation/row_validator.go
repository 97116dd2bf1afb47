package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"mass-payments/internal/currency"
	"mass-payments/internal/models"
)

// Field length limits.
const (
	MaxBeneficiaryNameLen = 140
	MaxReferenceLen       = 35
	MaxAccountLen         = 34
	MaxAddressLen         = 140
	MaxInvoiceNumberLen   = 35
	MaxIncorporationLen   = 50
)

var (
	namePattern     = regexp.MustCompile(`^[\p{L}\p{N} .,'\-&/()]+$`)
	currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)
	invoiceLayouts  = []string{"2006-01-02", "02/01/2006", "2006/01/02"}
)

// RowValidator validates single rows against the currency rule table.
type RowValidator struct {
	rules currency.Rules
	now   func() time.Time
}

func NewRowValidator(rules currency.Rules) *RowValidator {
	return &RowValidator{rules: rules, now: time.Now}
}

// Validate checks one row. Missing required fields short-circuit; once they
// are present every remaining problem on the row is reported.
func (v *RowValidator) Validate(row Row, fileCurrency string) RowResult {
	fileCurrency = strings.ToUpper(strings.TrimSpace(fileCurrency))
	res := RowResult{Instruction: draftInstruction(row, fileCurrency)}

	if !v.checkRequired(row, &res) {
		return finish(res)
	}

	rule, ruleErr := v.resolveRule(row, fileCurrency)

	v.checkName(row, &res)
	amount, amountOK := v.checkAmount(row, rule, &res)
	v.checkCurrency(row, fileCurrency, &res)
	if ruleErr != nil {
		// Without a rule only the currency-agnostic checks above apply.
		return finish(res)
	}

	method := strings.ToLower(row.Get(ColSettlementMethod))
	if method == "" {
		method = rule.DefaultSettlementMethod
	}
	res.Instruction.SettlementMethod = method

	v.checkLengths(row, &res)
	v.checkSettlement(row, rule, method, amountOK && amount.GreaterThan(rule.HighValueThreshold), &res)
	v.checkCurrencyRequirements(row, rule, &res)
	return finish(res)
}

func finish(res RowResult) RowResult {
	if res.Valid() {
		res.Instruction.Status = models.InstructionStatusValidated
		res.Instruction.ValidationErrors = nil
	} else {
		res.Instruction.Status = models.InstructionStatusValidationFailed
		res.Instruction.ValidationErrors = res.Errors
	}
	return res
}

func draftInstruction(row Row, fileCurrency string) models.PaymentInstruction {
	inst := models.PaymentInstruction{
		RowNumber:          row.Number,
		BeneficiaryName:    row.Get(ColBeneficiaryName),
		BeneficiaryAccount: compact(row.Get(ColBeneficiaryAccount)),
		BankCode:           strings.ToUpper(compact(row.Get(ColBankCode))),
		Currency:           strings.ToUpper(row.Get(ColCurrency)),
		Reference:          row.Get(ColReference),
		PurposeCode:        strings.ToUpper(row.Get(ColPurposeCode)),
		Status:             models.InstructionStatusValidationFailed,
		Amount:             decimal.Zero,
		Details: models.InstructionDetails{
			BeneficiaryType:     strings.ToLower(row.Get(ColBeneficiaryType)),
			AddressLine:         row.Get(ColAddressLine),
			City:                row.Get(ColCity),
			Country:             strings.ToUpper(row.Get(ColCountry)),
			SwiftCode:           strings.ToUpper(compact(row.Get(ColSwiftCode))),
			IBAN:                strings.ToUpper(compact(row.Get(ColIBAN))),
			SortCode:            compact(row.Get(ColSortCode)),
			InvoiceNumber:       row.Get(ColInvoiceNumber),
			InvoiceDate:         row.Get(ColInvoiceDate),
			IncorporationNumber: row.Get(ColIncorporationNumber),
		},
	}
	if inst.Currency == "" {
		inst.Currency = fileCurrency
	}
	if amt, err := decimal.NewFromString(row.Get(ColAmount)); err == nil {
		inst.Amount = amt
	}
	return inst
}

func (v *RowValidator) checkRequired(row Row, res *RowResult) bool {
	ok := true
	for _, col := range []string{ColBeneficiaryName, ColAmount} {
		if row.Get(col) == "" {
			res.addError(col, models.ErrCodeRequiredField, fmt.Sprintf("%s is required", col))
			ok = false
		}
	}
	if row.Get(ColReference) == "" && row.Get(ColPurposeCode) == "" {
		res.addError(ColReference, models.ErrCodeRequiredField, "reference or purpose_code is required")
		ok = false
	}
	return ok
}

// resolveRule prefers the file currency so amount bounds still apply when
// the row currency is wrong.
func (v *RowValidator) resolveRule(row Row, fileCurrency string) (models.CurrencyRule, error) {
	if rule, err := v.rules.RuleFor(fileCurrency); err == nil {
		return rule, nil
	}
	if rule, err := v.rules.RuleFor(row.Get(ColCurrency)); err == nil {
		return rule, nil
	}
	rule := models.CurrencyRule{
		MinAmount:          currency.DefaultMinAmount,
		MaxAmount:          currency.DefaultMaxAmount,
		DecimalPlaces:      currency.DefaultDecimalPlaces,
		HighValueThreshold: currency.DefaultHighValueThreshold,
	}
	return rule, currency.ErrUnsupportedCurrency
}

func (v *RowValidator) checkName(row Row, res *RowResult) {
	name := row.Get(ColBeneficiaryName)
	if utf8.RuneCountInString(name) > MaxBeneficiaryNameLen {
		res.addError(ColBeneficiaryName, models.ErrCodeFieldTooLong,
			fmt.Sprintf("beneficiary_name exceeds %d characters", MaxBeneficiaryNameLen))
		return
	}
	if !namePattern.MatchString(name) {
		res.addError(ColBeneficiaryName, models.ErrCodeInvalidFormat, "beneficiary_name contains unsupported characters")
	}
}

func (v *RowValidator) checkAmount(row Row, rule models.CurrencyRule, res *RowResult) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(row.Get(ColAmount))
	if err != nil {
		res.addError(ColAmount, models.ErrCodeInvalidAmount, "amount is not a number")
		return decimal.Zero, false
	}
	if !amount.IsPositive() {
		res.addError(ColAmount, models.ErrCodeInvalidAmount, "amount must be greater than zero")
		return amount, false
	}

	ok := true
	if !amount.Equal(amount.Truncate(rule.DecimalPlaces)) {
		res.addError(ColAmount, models.ErrCodeInvalidAmount,
			fmt.Sprintf("amount has more than %d decimal places", rule.DecimalPlaces))
		ok = false
	}
	if amount.LessThan(rule.MinAmount) {
		res.addError(ColAmount, models.ErrCodeAmountTooSmall,
			fmt.Sprintf("amount is below the minimum of %s", rule.MinAmount.String()))
		ok = false
	}
	if amount.GreaterThan(rule.MaxAmount) {
		res.addError(ColAmount, models.ErrCodeAmountTooLarge,
			fmt.Sprintf("amount exceeds the maximum of %s", rule.MaxAmount.String()))
		ok = false
	}
	return amount, ok
}

func (v *RowValidator) checkCurrency(row Row, fileCurrency string, res *RowResult) {
	code := row.Get(ColCurrency)
	switch {
	case code == "":
		res.addError(ColCurrency, models.ErrCodeRequiredField, "currency is required")
	case !currencyPattern.MatchString(code):
		res.addError(ColCurrency, models.ErrCodeInvalidCurrency, "currency must be a 3 letter ISO 4217 code")
	default:
		if _, err := v.rules.RuleFor(code); err != nil {
			res.addError(ColCurrency, models.ErrCodeInvalidCurrency, fmt.Sprintf("currency %s is not supported", strings.ToUpper(code)))
		} else if !strings.EqualFold(code, fileCurrency) {
			res.addError(ColCurrency, models.ErrCodeInvalidCurrency,
				fmt.Sprintf("currency %s does not match file currency %s", strings.ToUpper(code), fileCurrency))
		}
	}
}

func (v *RowValidator) checkLengths(row Row, res *RowResult) {
	limits := []struct {
		col string
		max int
	}{
		{ColReference, MaxReferenceLen},
		{ColAddressLine, MaxAddressLen},
		{ColInvoiceNumber, MaxInvoiceNumberLen},
		{ColIncorporationNumber, MaxIncorporationLen},
	}
	for _, l := range limits {
		if utf8.RuneCountInString(row.Get(l.col)) > l.max {
			res.addError(l.col, models.ErrCodeFieldTooLong, fmt.Sprintf("%s exceeds %d characters", l.col, l.max))
		}
	}
}

func (v *RowValidator) checkSettlement(row Row, rule models.CurrencyRule, method string, highValue bool, res *RowResult) {
	if !rule.AllowsMethod(method) {
		res.addError(ColSettlementMethod, models.ErrCodeInvalidFormat,
			fmt.Sprintf("settlement method %q is not available for %s", method, rule.Code))
		return
	}

	account := compact(row.Get(ColBeneficiaryAccount))
	bic := strings.ToUpper(compact(row.Get(ColSwiftCode)))
	if bic == "" && method != models.SettlementLocalGB && method != models.SettlementLocal {
		bic = strings.ToUpper(compact(row.Get(ColBankCode)))
	}
	iban := strings.ToUpper(compact(row.Get(ColIBAN)))
	if iban == "" && method == models.SettlementSepa {
		iban = strings.ToUpper(account)
	}

	switch {
	case account == "":
		res.addError(ColBeneficiaryAccount, models.ErrCodeRequiredField, "beneficiary_account is required")
	case len(account) > MaxAccountLen:
		res.addError(ColBeneficiaryAccount, models.ErrCodeFieldTooLong,
			fmt.Sprintf("beneficiary_account exceeds %d characters", MaxAccountLen))
	default:
		v.checkAccountFormat(row, method, account, res)
	}

	needBIC := method == models.SettlementSwift || rule.RequiresSwift
	needIBAN := rule.RequiresIBAN

	if bic != "" {
		if !ValidBIC(bic) {
			res.addError(ColSwiftCode, models.ErrCodeInvalidFormat, "SWIFT/BIC code must be 8 or 11 characters")
		}
		res.Instruction.Details.SwiftCode = bic
		if method == models.SettlementSwift {
			res.Instruction.BankCode = bic
		}
	} else if needBIC {
		res.addError(ColBankCode, models.ErrCodeRequiredField, fmt.Sprintf("a SWIFT/BIC code is required for %s payments", rule.Code))
	}

	// For SEPA the account itself is the IBAN and was checked above.
	if iban != "" && !(method == models.SettlementSepa && iban == strings.ToUpper(account)) {
		if !ValidIBAN(iban) {
			res.addError(ColIBAN, models.ErrCodeInvalidAccount, "IBAN checksum is invalid")
		}
	} else if iban == "" && needIBAN {
		res.addError(ColIBAN, models.ErrCodeRequiredField, fmt.Sprintf("an IBAN is required for %s payments", rule.Code))
	}
	if iban != "" {
		res.Instruction.Details.IBAN = iban
	}

	if highValue {
		if row.Get(ColAddressLine) == "" {
			res.addError(ColAddressLine, models.ErrCodeRequiredField, "beneficiary address is required for high-value payments")
		}
		if bic == "" && iban == "" && !needBIC && !needIBAN {
			res.addError(ColSwiftCode, models.ErrCodeRequiredField, "high-value payments require a SWIFT/BIC code or IBAN")
		}
	}
}

func (v *RowValidator) checkAccountFormat(row Row, method, account string, res *RowResult) {
	switch method {
	case models.SettlementSepa:
		if !ValidIBAN(account) {
			res.addError(ColBeneficiaryAccount, models.ErrCodeInvalidAccount, "beneficiary_account must be a valid IBAN")
		}
	case models.SettlementLocalGB:
		sortCode := compact(row.Get(ColSortCode))
		if sortCode == "" {
			sortCode = compact(row.Get(ColBankCode))
		}
		if !ValidSortCode(sortCode) {
			res.addError(ColSortCode, models.ErrCodeInvalidAccount, "sort code must be 6 digits")
		} else {
			res.Instruction.BankCode = sortCode
			res.Instruction.Details.SortCode = sortCode
		}
		if !ValidUKAccount(account) {
			res.addError(ColBeneficiaryAccount, models.ErrCodeInvalidAccount, "UK account number must be 8 digits")
		}
	case models.SettlementSwift:
		if !alnumPattern.MatchString(account) {
			res.addError(ColBeneficiaryAccount, models.ErrCodeInvalidAccount, "beneficiary_account must be alphanumeric")
		}
	default:
		if !ValidGenericAccount(account) {
			res.addError(ColBeneficiaryAccount, models.ErrCodeInvalidAccount, "beneficiary_account must be 4 to 34 alphanumeric characters")
		}
	}
}

func (v *RowValidator) checkCurrencyRequirements(row Row, rule models.CurrencyRule, res *RowResult) {
	if rule.RequiresInvoice {
		if row.Get(ColInvoiceNumber) == "" {
			res.addError(ColInvoiceNumber, models.ErrCodeRequiredField, fmt.Sprintf("invoice_number is required for %s payments", rule.Code))
		}
		date := row.Get(ColInvoiceDate)
		if date == "" {
			res.addError(ColInvoiceDate, models.ErrCodeRequiredField, fmt.Sprintf("invoice_date is required for %s payments", rule.Code))
		} else if !validInvoiceDate(date, v.now()) {
			res.addError(ColInvoiceDate, models.ErrCodeInvalidFormat, "invoice_date must be a date (YYYY-MM-DD) not in the future")
		}
	}

	if rule.RequiresIncorporation && strings.EqualFold(row.Get(ColBeneficiaryType), models.BeneficiaryBusiness) &&
		row.Get(ColIncorporationNumber) == "" {
		res.addError(ColIncorporationNumber, models.ErrCodeRequiredField,
			fmt.Sprintf("incorporation_number is required for business beneficiaries in %s", rule.Code))
	}

	if rule.RequiresPurposeCode {
		code := strings.ToUpper(row.Get(ColPurposeCode))
		if code == "" {
			res.addError(ColPurposeCode, models.ErrCodeRequiredField, fmt.Sprintf("purpose_code is required for %s payments", rule.Code))
		} else if known := v.rules.PurposeCodes(rule.Code); len(known) > 0 && !containsPurpose(known, code) {
			res.addError(ColPurposeCode, models.ErrCodeInvalidFormat, fmt.Sprintf("purpose_code %s is not recognised for %s", code, rule.Code))
		}
	}
}

func validInvoiceDate(raw string, now time.Time) bool {
	for _, layout := range invoiceLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return !t.After(now)
		}
	}
	return false
}

func containsPurpose(list []models.PurposeCode, code string) bool {
	for _, p := range list {
		if strings.EqualFold(p.Code, code) {
			return true
		}
	}
	return false
}
