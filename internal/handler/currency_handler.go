package handler

import (
	"github.com/gofiber/fiber/v2"

	"mass-payments/internal/models"
	"mass-payments/internal/utils"
)

// RuleCatalog is the read view of the currency rule registry.
type RuleCatalog interface {
	Rules() []models.CurrencyRule
	RuleFor(code string) (models.CurrencyRule, error)
	PurposeCodes(code string) []models.PurposeCode
}

type CurrencyHandler struct {
	rules RuleCatalog
}

func NewCurrencyHandler(rules RuleCatalog) *CurrencyHandler {
	return &CurrencyHandler{rules: rules}
}

func (h *CurrencyHandler) List(c *fiber.Ctx) error {
	return utils.SuccessResponse(c, "Currencies retrieved successfully", h.rules.Rules())
}

func (h *CurrencyHandler) Get(c *fiber.Ctx) error {
	rule, err := h.rules.RuleFor(c.Params("code"))
	if err != nil {
		return serviceError(c, "Currency not supported", err)
	}
	return utils.SuccessResponse(c, "Currency retrieved successfully", fiber.Map{
		"rule":          rule,
		"purpose_codes": h.rules.PurposeCodes(rule.Code),
	})
}
