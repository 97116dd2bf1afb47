// Package currency holds the per-currency rule table. A Registry is built once
// and never mutated; Holder swaps whole registries atomically on reload.
package currency

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"mass-payments/internal/models"
)

var ErrUnsupportedCurrency = errors.New("unsupported currency")

// Global fallbacks applied when a currency entry leaves a bound unset.
var (
	DefaultMinAmount          = decimal.RequireFromString("0.01")
	DefaultMaxAmount          = decimal.RequireFromString("1000000")
	DefaultDecimalPlaces      = int32(2)
	DefaultApprovalThreshold  = decimal.RequireFromString("10000")
	DefaultHighValueThreshold = decimal.RequireFromString("50000")
	DefaultProcessingSLA      = 24 * time.Hour
)

// Rules is the read side of the registry used by validation and processing.
type Rules interface {
	RuleFor(code string) (models.CurrencyRule, error)
	PurposeCodes(code string) []models.PurposeCode
}

type Registry struct {
	rules        map[string]models.CurrencyRule
	purposeCodes map[string][]models.PurposeCode
}

// NewRegistry builds an immutable registry. Unset amount bounds and
// thresholds fall back to the global defaults.
func NewRegistry(rules []models.CurrencyRule, purposeCodes map[string][]models.PurposeCode) *Registry {
	r := &Registry{
		rules:        make(map[string]models.CurrencyRule, len(rules)),
		purposeCodes: make(map[string][]models.PurposeCode, len(purposeCodes)),
	}
	for _, rule := range rules {
		rule.Code = normalize(rule.Code)
		applyDefaults(&rule)
		rule.SettlementMethods = append([]string(nil), rule.SettlementMethods...)
		r.rules[rule.Code] = rule
	}
	for code, list := range purposeCodes {
		r.purposeCodes[normalize(code)] = append([]models.PurposeCode(nil), list...)
	}
	return r
}

func applyDefaults(rule *models.CurrencyRule) {
	if rule.MinAmount.IsZero() {
		rule.MinAmount = DefaultMinAmount
	}
	if rule.MaxAmount.IsZero() {
		rule.MaxAmount = DefaultMaxAmount
	}
	if rule.ApprovalThreshold.IsZero() {
		rule.ApprovalThreshold = DefaultApprovalThreshold
	}
	if rule.HighValueThreshold.IsZero() {
		rule.HighValueThreshold = DefaultHighValueThreshold
	}
	if len(rule.SettlementMethods) == 0 {
		rule.SettlementMethods = []string{models.SettlementSwift}
	}
	if rule.DefaultSettlementMethod == "" {
		rule.DefaultSettlementMethod = rule.SettlementMethods[0]
	}
	if rule.ProcessingSLA == 0 {
		rule.ProcessingSLA = DefaultProcessingSLA
	}
}

func (r *Registry) RuleFor(code string) (models.CurrencyRule, error) {
	rule, ok := r.rules[normalize(code)]
	if !ok {
		return models.CurrencyRule{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	rule.SettlementMethods = append([]string(nil), rule.SettlementMethods...)
	return rule, nil
}

func (r *Registry) PurposeCodes(code string) []models.PurposeCode {
	return append([]models.PurposeCode(nil), r.purposeCodes[normalize(code)]...)
}

// Rules returns every rule ordered by currency code.
func (r *Registry) Rules() []models.CurrencyRule {
	out := make([]models.CurrencyRule, 0, len(r.rules))
	for _, code := range r.Codes() {
		rule, _ := r.RuleFor(code)
		out = append(out, rule)
	}
	return out
}

func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.rules))
	for code := range r.rules {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Holder publishes the active registry. Replace swaps it as a whole.
type Holder struct {
	current atomic.Pointer[Registry]
}

func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	h.current.Store(r)
	return h
}

func (h *Holder) Load() *Registry {
	return h.current.Load()
}

func (h *Holder) Replace(r *Registry) {
	h.current.Store(r)
}

func (h *Holder) RuleFor(code string) (models.CurrencyRule, error) {
	return h.Load().RuleFor(code)
}

func (h *Holder) PurposeCodes(code string) []models.PurposeCode {
	return h.Load().PurposeCodes(code)
}

func (h *Holder) Rules() []models.CurrencyRule {
	return h.Load().Rules()
}
