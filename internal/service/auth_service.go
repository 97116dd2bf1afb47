package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"mass-payments/internal/config"
	"mass-payments/internal/models"
	"mass-payments/internal/utils"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInactiveUser       = errors.New("user account is inactive")
	ErrUsernameTaken      = errors.New("username already exists")
)

// UserDirectory looks up and stores tenant users.
type UserDirectory interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
}

type AuthService struct {
	users UserDirectory
	cfg   *config.Config
}

func NewAuthService(users UserDirectory, cfg *config.Config) *AuthService {
	return &AuthService{
		users: users,
		cfg:   cfg,
	}
}

func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	if !utils.CheckPasswordHash(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := utils.GenerateAccessToken(*user, s.cfg.JWTSecret, s.cfg.JWTAccessExpire)
	if err != nil {
		return nil, errors.New("failed to generate access token")
	}

	utils.GetLogger().WithField("user_id", user.ID).Info("User logged in")
	return &models.LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Unix(),
		User:        *user,
	}, nil
}

func (s *AuthService) ValidateToken(tokenString string) (*utils.JWTClaims, error) {
	return utils.ValidateToken(tokenString, s.cfg.JWTSecret)
}

func (s *AuthService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.users.FindByID(ctx, id)
}

// Register creates a user in the principal's tenant. Only admins may do so.
func (s *AuthService) Register(ctx context.Context, principal models.Principal, req models.RegisterRequest) (*models.User, error) {
	if principal.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if existing, _ := s.users.FindByUsername(ctx, req.Username); existing != nil {
		return nil, ErrUsernameTaken
	}

	role := strings.ToLower(strings.TrimSpace(req.Role))
	switch role {
	case "":
		role = models.RoleUser
	case models.RoleUser, models.RoleApprover, models.RoleAdmin:
	default:
		return nil, ErrInvalidRole
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, errors.New("failed to hash password")
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		TenantID:     principal.TenantID,
		Name:         req.Name,
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
