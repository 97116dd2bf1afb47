package currency

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mass-payments/internal/models"
)

func TestDefaultRegistryLookup(t *testing.T) {
	reg := Default()

	rule, err := reg.RuleFor(" usd ")
	require.NoError(t, err)
	assert.Equal(t, "USD", rule.Code)
	assert.True(t, rule.ApprovalThreshold.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, models.SettlementSwift, rule.DefaultSettlementMethod)

	jpy, err := reg.RuleFor("JPY")
	require.NoError(t, err)
	assert.Equal(t, int32(0), jpy.DecimalPlaces)

	inr, err := reg.RuleFor("INR")
	require.NoError(t, err)
	assert.True(t, inr.RequiresInvoice)
	assert.NotEmpty(t, reg.PurposeCodes("inr"))
}

func TestUnknownCurrencyIsHardFailure(t *testing.T) {
	_, err := Default().RuleFor("XXX")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestRuleForReturnsCopy(t *testing.T) {
	reg := Default()
	rule, err := reg.RuleFor("EUR")
	require.NoError(t, err)
	rule.SettlementMethods[0] = "mutated"

	again, err := reg.RuleFor("EUR")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementSepa, again.SettlementMethods[0])
}

func TestNewRegistryAppliesGlobalDefaults(t *testing.T) {
	reg := NewRegistry([]models.CurrencyRule{{Code: "xts", DecimalPlaces: 2}}, nil)

	rule, err := reg.RuleFor("XTS")
	require.NoError(t, err)
	assert.True(t, rule.MinAmount.Equal(DefaultMinAmount))
	assert.True(t, rule.MaxAmount.Equal(DefaultMaxAmount))
	assert.True(t, rule.ApprovalThreshold.Equal(DefaultApprovalThreshold))
	assert.Equal(t, []string{models.SettlementSwift}, rule.SettlementMethods)
	assert.Equal(t, DefaultProcessingSLA, rule.ProcessingSLA)
}

func TestParseOverlaysBuiltins(t *testing.T) {
	raw := []byte(`
currencies:
  - code: usd
    approval_threshold: "25000"
    processing_sla: 12h
  - code: PLN
    name: Polish Zloty
    max_amount: "400000"
    requires_iban: true
    settlement_methods: [sepa, swift]
purpose_codes:
  pln:
    - code: SAL
      description: Salary
`)
	reg, err := Parse(raw)
	require.NoError(t, err)

	usd, err := reg.RuleFor("USD")
	require.NoError(t, err)
	assert.True(t, usd.ApprovalThreshold.Equal(decimal.NewFromInt(25000)))
	assert.True(t, usd.MinAmount.Equal(decimal.NewFromInt(1)), "untouched fields keep built-in values")
	assert.True(t, usd.RequiresSwift)

	pln, err := reg.RuleFor("PLN")
	require.NoError(t, err)
	assert.Equal(t, int32(2), pln.DecimalPlaces)
	assert.True(t, pln.MinAmount.Equal(DefaultMinAmount))
	assert.True(t, pln.MaxAmount.Equal(decimal.NewFromInt(400000)))
	assert.Equal(t, models.SettlementSepa, pln.DefaultSettlementMethod)
	assert.Equal(t, []models.PurposeCode{{Code: "SAL", Description: "Salary"}}, reg.PurposeCodes("PLN"))
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"bad code":      "currencies:\n  - code: DOLLAR\n",
		"bad decimal":   "currencies:\n  - code: USD\n    min_amount: abc\n",
		"min over max":  "currencies:\n  - code: USD\n    min_amount: \"10\"\n    max_amount: \"5\"\n",
		"bad places":    "currencies:\n  - code: USD\n    decimal_places: 12\n",
		"bad sla":       "currencies:\n  - code: USD\n    processing_sla: soon\n",
		"not yaml":      "currencies: [",
		"negative rule": "currencies:\n  - code: USD\n    approval_threshold: \"-1\"\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestHolderReplacesWholeRegistry(t *testing.T) {
	h := NewHolder(Default())
	_, err := h.RuleFor("PLN")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)

	next, err := Parse([]byte("currencies:\n  - code: PLN\n"))
	require.NoError(t, err)
	h.Replace(next)

	_, err = h.RuleFor("PLN")
	assert.NoError(t, err)
	assert.Same(t, next, h.Load())
}
