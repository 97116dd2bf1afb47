package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mass-payments/internal/models"
	"mass-payments/internal/utils"
)

// SeedStore is what Seed needs to create a working tenant.
type SeedStore interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	CreateUser(ctx context.Context, user *models.User) error
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	CreateSettlementAccount(ctx context.Context, account *models.SettlementAccount) error
}

type SeedOptions struct {
	TenantName   string
	HomeCurrency string
	Password     string
	// Balances maps currency code to the opening available balance of a
	// settlement account created for it.
	Balances map[string]decimal.Decimal
}

type SeedResult struct {
	Tenant   models.Tenant              `json:"tenant"`
	Users    []models.User              `json:"users"`
	Accounts []models.SettlementAccount `json:"accounts"`
}

// Seed creates a tenant with an admin, an approver, an uploader and one
// settlement account per requested currency. Usernames are prefixed with
// the lower-cased tenant name so repeated seeds do not collide.
func Seed(ctx context.Context, store SeedStore, opts SeedOptions) (*SeedResult, error) {
	if opts.TenantName == "" || opts.Password == "" {
		return nil, errors.New("tenant name and password are required")
	}
	now := time.Now().UTC()
	tenant := models.Tenant{
		ID:           uuid.NewString(),
		Name:         opts.TenantName,
		HomeCurrency: strings.ToUpper(opts.HomeCurrency),
		CreatedAt:    now,
	}
	if err := store.CreateTenant(ctx, &tenant); err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}

	hash, err := utils.HashPassword(opts.Password)
	if err != nil {
		return nil, err
	}
	prefix := strings.ToLower(strings.ReplaceAll(opts.TenantName, " ", "_"))
	result := &SeedResult{Tenant: tenant}
	for _, role := range []string{models.RoleAdmin, models.RoleApprover, models.RoleUser} {
		username := prefix + "_" + role
		if existing, _ := store.FindByUsername(ctx, username); existing != nil {
			return nil, fmt.Errorf("%w: %s", ErrUsernameTaken, username)
		}
		user := models.User{
			ID:           uuid.NewString(),
			TenantID:     tenant.ID,
			Name:         opts.TenantName + " " + role,
			Username:     username,
			Email:        username + "@example.com",
			PasswordHash: hash,
			Role:         role,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := store.CreateUser(ctx, &user); err != nil {
			return nil, fmt.Errorf("create %s: %w", role, err)
		}
		result.Users = append(result.Users, user)
	}

	for code, balance := range opts.Balances {
		account := models.SettlementAccount{
			ID:               uuid.NewString(),
			TenantID:         tenant.ID,
			Currency:         strings.ToUpper(code),
			AvailableBalance: balance,
			ReservedBalance:  decimal.Zero,
			UpdatedAt:        now,
		}
		if err := store.CreateSettlementAccount(ctx, &account); err != nil {
			return nil, fmt.Errorf("create %s account: %w", code, err)
		}
		result.Accounts = append(result.Accounts, account)
	}
	return result, nil
}
