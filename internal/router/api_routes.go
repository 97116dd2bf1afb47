package router

import (
	"github.com/gofiber/fiber/v2"

	"mass-payments/internal/config"
	"mass-payments/internal/handler"
	"mass-payments/internal/middleware"
	"mass-payments/internal/models"
)

func SetupAPIRoutes(router fiber.Router, deps Dependencies, cfg *config.Config) {
	// Initialize handlers
	authHandler := handler.NewAuthHandler(deps.Auth)
	accountHandler := handler.NewAccountHandler(deps.Accounts, deps.Rules)
	fileHandler := handler.NewPaymentFileHandler(deps.Files, cfg)
	approvalHandler := handler.NewApprovalHandler(deps.Approvals)
	instructionHandler := handler.NewInstructionHandler(deps.Processor)
	currencyHandler := handler.NewCurrencyHandler(deps.Rules)

	// Public routes
	auth := router.Group("/auth")
	auth.Post("/login", authHandler.Login)
	auth.Post("/logout", authHandler.Logout)

	// Protected routes
	protected := router.Group("", middleware.AuthMiddleware(cfg))

	// Auth routes
	protected.Get("/auth/me", authHandler.Me)
	protected.Post("/auth/register", middleware.AdminOnly(), authHandler.Register)

	// Currency routes
	currencies := protected.Group("/currencies")
	currencies.Get("/", currencyHandler.List)
	currencies.Get("/:code", currencyHandler.Get)

	// Settlement account routes
	accounts := protected.Group("/accounts")
	accounts.Get("/", accountHandler.GetAccounts)
	accounts.Get("/:id", accountHandler.GetAccount)
	accounts.Post("/", middleware.AdminOnly(), accountHandler.CreateAccount)

	// Payment file routes
	files := protected.Group("/payment-files")
	files.Post("/", fileHandler.Upload)
	files.Get("/", fileHandler.List)
	files.Get("/template", fileHandler.Template)
	files.Get("/export", fileHandler.Export)
	files.Get("/:id", fileHandler.Get)
	files.Post("/:id/submit", fileHandler.Submit)
	files.Post("/:id/cancel", fileHandler.Cancel)
	files.Delete("/:id", fileHandler.Delete)
	files.Get("/:id/progress", fileHandler.Progress)
	files.Get("/:id/instructions", fileHandler.Instructions)
	files.Get("/:id/error-report", fileHandler.ErrorReport)
	files.Get("/:id/approvals", approvalHandler.List)

	// Approval routes
	approvals := protected.Group("/approvals", middleware.RequireRole(models.RoleApprover, models.RoleAdmin))
	approvals.Post("/:id/decision", approvalHandler.Decide)

	// Instruction routes
	instructions := protected.Group("/instructions")
	instructions.Post("/:id/retry", instructionHandler.Retry)
	instructions.Post("/:id/cancel", instructionHandler.Cancel)
}
