package repository

import (
	"context"

	"mass-payments/internal/models"
)

const userColumns = "id, tenant_id, name, username, email, password_hash, role, is_active, created_at, updated_at"

func (s *Store) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := "SELECT " + userColumns + " FROM users WHERE username = ? LIMIT 1"
	if err := s.db.GetContext(ctx, &user, s.db.Rebind(query), username); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	query := "SELECT " + userColumns + " FROM users WHERE id = ? LIMIT 1"
	if err := s.db.GetContext(ctx, &user, s.db.Rebind(query), id); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (id, tenant_id, name, username, email, password_hash, role, is_active, created_at, updated_at)
	          VALUES (:id, :tenant_id, :name, :username, :email, :password_hash, :role, :is_active, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, query, user)
	if isUniqueViolation(err) {
		return models.ErrDuplicateUser
	}
	return err
}

// ResolveApprovers returns the active approvers and admins of a tenant other
// than excludeUserID.
func (s *Store) ResolveApprovers(ctx context.Context, tenantID, excludeUserID string) ([]models.User, error) {
	users := []models.User{}
	query, args, err := in(s.db, "SELECT "+userColumns+` FROM users
	          WHERE tenant_id = ? AND id <> ? AND is_active = ? AND role IN (?)
	          ORDER BY username`,
		tenantID, excludeUserID, true, []string{models.RoleApprover, models.RoleAdmin})
	if err != nil {
		return nil, err
	}
	err = s.db.SelectContext(ctx, &users, query, args...)
	return users, err
}

func (s *Store) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	query := `INSERT INTO tenants (id, name, home_currency, created_at) VALUES (:id, :name, :home_currency, :created_at)`
	_, err := s.db.NamedExecContext(ctx, query, tenant)
	return err
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	var tenant models.Tenant
	query := "SELECT id, name, home_currency, created_at FROM tenants WHERE id = ?"
	if err := s.db.GetContext(ctx, &tenant, s.db.Rebind(query), tenantID); err != nil {
		return nil, notFound(err)
	}
	return &tenant, nil
}
