package currency

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"mass-payments/internal/models"
)

type fileRule struct {
	Code                    string   `yaml:"code"`
	Name                    string   `yaml:"name"`
	Country                 string   `yaml:"country"`
	MinAmount               string   `yaml:"min_amount"`
	MaxAmount               string   `yaml:"max_amount"`
	DecimalPlaces           *int32   `yaml:"decimal_places"`
	ApprovalThreshold       string   `yaml:"approval_threshold"`
	HighValueThreshold      string   `yaml:"high_value_threshold"`
	RequiresInvoice         *bool    `yaml:"requires_invoice"`
	RequiresIncorporation   *bool    `yaml:"requires_incorporation"`
	RequiresSwift           *bool    `yaml:"requires_swift"`
	RequiresIBAN            *bool    `yaml:"requires_iban"`
	RequiresPurposeCode     *bool    `yaml:"requires_purpose_code"`
	SettlementMethods       []string `yaml:"settlement_methods"`
	DefaultSettlementMethod string   `yaml:"default_settlement_method"`
	Provider                string   `yaml:"provider"`
	ProcessingSLA           string   `yaml:"processing_sla"`
}

type ruleFile struct {
	Currencies   []fileRule                      `yaml:"currencies"`
	PurposeCodes map[string][]models.PurposeCode `yaml:"purpose_codes"`
}

// LoadFile reads a YAML rule file and layers it over the built-in table.
// Fields a currency entry omits keep the built-in value, or the global
// default for currencies the built-in table does not know.
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read currency rules %s: %w", path, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Registry, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse currency rules: %w", err)
	}

	base := Default()
	merged := make(map[string]models.CurrencyRule, len(base.rules))
	for code, rule := range base.rules {
		merged[code] = rule
	}

	for _, fr := range doc.Currencies {
		code := normalize(fr.Code)
		if len(code) != 3 {
			return nil, fmt.Errorf("currency rules: invalid code %q", fr.Code)
		}
		rule, ok := merged[code]
		if !ok {
			rule = models.CurrencyRule{Code: code, DecimalPlaces: DefaultDecimalPlaces}
		}
		if err := overlay(&rule, fr); err != nil {
			return nil, fmt.Errorf("currency rules %s: %w", code, err)
		}
		merged[code] = rule
	}

	purpose := make(map[string][]models.PurposeCode, len(base.purposeCodes))
	for code, list := range base.purposeCodes {
		purpose[code] = list
	}
	for code, list := range doc.PurposeCodes {
		purpose[normalize(code)] = list
	}

	rules := make([]models.CurrencyRule, 0, len(merged))
	for _, rule := range merged {
		rules = append(rules, rule)
	}
	return NewRegistry(rules, purpose), nil
}

func overlay(rule *models.CurrencyRule, fr fileRule) error {
	var err error
	if fr.Name != "" {
		rule.Name = fr.Name
	}
	if fr.Country != "" {
		rule.Country = strings.ToUpper(fr.Country)
	}
	if rule.MinAmount, err = overlayDecimal(rule.MinAmount, fr.MinAmount); err != nil {
		return fmt.Errorf("min_amount: %w", err)
	}
	if rule.MaxAmount, err = overlayDecimal(rule.MaxAmount, fr.MaxAmount); err != nil {
		return fmt.Errorf("max_amount: %w", err)
	}
	if rule.ApprovalThreshold, err = overlayDecimal(rule.ApprovalThreshold, fr.ApprovalThreshold); err != nil {
		return fmt.Errorf("approval_threshold: %w", err)
	}
	if rule.HighValueThreshold, err = overlayDecimal(rule.HighValueThreshold, fr.HighValueThreshold); err != nil {
		return fmt.Errorf("high_value_threshold: %w", err)
	}
	if fr.DecimalPlaces != nil {
		if *fr.DecimalPlaces < 0 || *fr.DecimalPlaces > 8 {
			return fmt.Errorf("decimal_places out of range: %d", *fr.DecimalPlaces)
		}
		rule.DecimalPlaces = *fr.DecimalPlaces
	}
	overlayBool(&rule.RequiresInvoice, fr.RequiresInvoice)
	overlayBool(&rule.RequiresIncorporation, fr.RequiresIncorporation)
	overlayBool(&rule.RequiresSwift, fr.RequiresSwift)
	overlayBool(&rule.RequiresIBAN, fr.RequiresIBAN)
	overlayBool(&rule.RequiresPurposeCode, fr.RequiresPurposeCode)
	if len(fr.SettlementMethods) > 0 {
		rule.SettlementMethods = fr.SettlementMethods
	}
	if fr.DefaultSettlementMethod != "" {
		rule.DefaultSettlementMethod = fr.DefaultSettlementMethod
	}
	if fr.Provider != "" {
		rule.Provider = fr.Provider
	}
	if fr.ProcessingSLA != "" {
		sla, err := time.ParseDuration(fr.ProcessingSLA)
		if err != nil {
			return fmt.Errorf("processing_sla: %w", err)
		}
		rule.ProcessingSLA = sla
	}
	if !rule.MinAmount.IsZero() && !rule.MaxAmount.IsZero() && rule.MinAmount.GreaterThan(rule.MaxAmount) {
		return fmt.Errorf("min_amount %s exceeds max_amount %s", rule.MinAmount, rule.MaxAmount)
	}
	return nil
}

func overlayDecimal(current decimal.Decimal, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return current, nil
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return current, err
	}
	if v.IsNegative() {
		return current, fmt.Errorf("negative value %s", raw)
	}
	return v, nil
}

func overlayBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
