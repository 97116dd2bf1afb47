package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"mass-payments/internal/config"
	"mass-payments/internal/handler"
	"mass-payments/internal/service"
)

// Dependencies are the wired services the HTTP API runs on. DB and Redis
// are nil when the server runs on the in-memory store.
type Dependencies struct {
	Files     *service.FileService
	Approvals *service.ApprovalService
	Processor *service.PaymentProcessor
	Auth      *service.AuthService
	Accounts  handler.SettlementAccounts
	Rules     handler.RuleCatalog
	DB        *sqlx.DB
	Redis     *redis.Client
}

func Setup(app *fiber.App, deps Dependencies, cfg *config.Config) {
	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{}
		status := fiber.StatusOK
		if deps.DB != nil {
			checks["database"] = "ok"
			if err := deps.DB.PingContext(ctx); err != nil {
				checks["database"] = err.Error()
				status = fiber.StatusServiceUnavailable
			}
		}
		if deps.Redis != nil {
			checks["redis"] = "ok"
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				status = fiber.StatusServiceUnavailable
			}
		}
		state := "ok"
		if status != fiber.StatusOK {
			state = "degraded"
		}
		return c.Status(status).JSON(fiber.Map{
			"status": state,
			"app":    cfg.AppName,
			"checks": checks,
		})
	})

	// API routes (JSON)
	api := app.Group("/api/v1")
	SetupAPIRoutes(api, deps, cfg)
}
