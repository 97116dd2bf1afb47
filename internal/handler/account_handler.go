package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mass-payments/internal/models"
	"mass-payments/internal/utils"
)

type SettlementAccounts interface {
	CreateSettlementAccount(ctx context.Context, account *models.SettlementAccount) error
	GetSettlementAccount(ctx context.Context, id string) (*models.SettlementAccount, error)
	ListSettlementAccounts(ctx context.Context, tenantID string) ([]models.SettlementAccount, error)
}

type AccountRequest struct {
	Currency         string          `json:"currency"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
}

// AccountHandler manages the tenant's settlement accounts.
type AccountHandler struct {
	accounts SettlementAccounts
	rules    RuleCatalog
}

func NewAccountHandler(accounts SettlementAccounts, rules RuleCatalog) *AccountHandler {
	return &AccountHandler{accounts: accounts, rules: rules}
}

func (h *AccountHandler) GetAccounts(c *fiber.Ctx) error {
	accounts, err := h.accounts.ListSettlementAccounts(c.UserContext(), principal(c).TenantID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to retrieve accounts", err)
	}
	return utils.SuccessResponse(c, "Accounts retrieved successfully", accounts)
}

func (h *AccountHandler) GetAccount(c *fiber.Ctx) error {
	account, err := h.accounts.GetSettlementAccount(c.UserContext(), c.Params("id"))
	if err != nil || account.TenantID != principal(c).TenantID {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Account not found", err)
	}
	return utils.SuccessResponse(c, "Account retrieved successfully", account)
}

func (h *AccountHandler) CreateAccount(c *fiber.Ctx) error {
	var req AccountRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	rule, err := h.rules.RuleFor(req.Currency)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Currency not supported", err)
	}
	if req.AvailableBalance.IsNegative() {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Balance cannot be negative", nil)
	}

	account := &models.SettlementAccount{
		ID:               uuid.NewString(),
		TenantID:         principal(c).TenantID,
		Currency:         rule.Code,
		AvailableBalance: req.AvailableBalance,
		ReservedBalance:  decimal.Zero,
		UpdatedAt:        time.Now().UTC(),
	}
	if err := h.accounts.CreateSettlementAccount(c.UserContext(), account); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create account", err)
	}
	return utils.CreatedResponse(c, "Account created successfully", account)
}
