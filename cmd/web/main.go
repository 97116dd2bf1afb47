package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/shopspring/decimal"

	"mass-payments/internal/app"
	"mass-payments/internal/config"
	"mass-payments/internal/router"
	"mass-payments/internal/service"
	"mass-payments/internal/utils"
)

func main() {
	log := utils.GetLogger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer a.Close()

	if cfg.DBDriver == "memory" {
		seedDemo(ctx, a)
	}
	if a.Inline != nil {
		go sweepLoop(ctx, a)
	}

	// Initialize Fiber app
	srv := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		BodyLimit:    cfg.UploadMaxSize + 1<<20,
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	srv.Use(recover.New(recover.Config{EnableStackTrace: cfg.IsDevelopment()}))
	srv.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	srv.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	// Setup routes
	router.Setup(srv, router.Dependencies{
		Files:     a.Files,
		Approvals: a.Approvals,
		Processor: a.Processor,
		Auth:      a.Auth,
		Accounts:  a.Store,
		Rules:     a.Rules,
		DB:        a.DB,
		Redis:     a.Redis,
	}, cfg)

	// SIGHUP reloads the currency rules; SIGINT and SIGTERM shut down.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range c {
			if sig == syscall.SIGHUP {
				if err := a.ReloadRules(); err != nil {
					log.WithError(err).Error("Currency rule reload failed, keeping current rules")
				}
				continue
			}
			fmt.Println("\nGracefully shutting down...")
			_ = srv.Shutdown()
			stop()
			return
		}
	}()

	// Start server
	port := fmt.Sprintf(":%s", cfg.AppPort)
	log.Printf("Server starting on %s", port)
	if err := srv.Listen(port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	fmt.Println("Server exited")
}

// seedDemo gives the in-memory mode a tenant to log in with.
func seedDemo(ctx context.Context, a *app.App) {
	result, err := service.Seed(ctx, a.Store, service.SeedOptions{
		TenantName:   "demo",
		HomeCurrency: "USD",
		Password:     "demo-password",
		Balances: map[string]decimal.Decimal{
			"USD": decimal.NewFromInt(1_000_000),
			"EUR": decimal.NewFromInt(1_000_000),
			"GBP": decimal.NewFromInt(1_000_000),
		},
	})
	if err != nil {
		utils.GetLogger().WithError(err).Error("Demo seed failed")
		return
	}
	for _, u := range result.Users {
		utils.GetLogger().WithField("username", u.Username).WithField("role", u.Role).Info("Demo user ready (password: demo-password)")
	}
	for _, acc := range result.Accounts {
		utils.GetLogger().WithField("account_id", acc.ID).WithField("currency", acc.Currency).Info("Demo settlement account ready")
	}
}

// sweepLoop stands in for the worker's scheduled reconcile when jobs run
// in-process.
func sweepLoop(ctx context.Context, a *app.App) {
	interval := a.Config.StuckFileTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Reconciler.Sweep(ctx); err != nil {
				utils.GetLogger().WithError(err).Error("Reconcile sweep failed")
			}
		}
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return utils.ErrorResponse(c, code, message, err)
}
