// Package app wires the services shared by the web server, the worker and
// the command line tool.
package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"mass-payments/internal/config"
	"mass-payments/internal/currency"
	"mass-payments/internal/database"
	"mass-payments/internal/models"
	"mass-payments/internal/notification"
	"mass-payments/internal/progress"
	"mass-payments/internal/provider"
	"mass-payments/internal/repository"
	"mass-payments/internal/repository/memory"
	"mass-payments/internal/service"
	"mass-payments/internal/storage"
	"mass-payments/internal/utils"
	"mass-payments/internal/worker"
)

// Store is everything the services read and write.
type Store interface {
	service.Repository
	service.UserDirectory
	service.ApproverResolver
	service.TenantDirectory
	service.SeedStore
	ListSettlementAccounts(ctx context.Context, tenantID string) ([]models.SettlementAccount, error)
}

type App struct {
	Config     *config.Config
	Store      Store
	Rules      *currency.Holder
	Providers  *provider.Registry
	Files      *service.FileService
	Approvals  *service.ApprovalService
	Processor  *service.PaymentProcessor
	Reconciler *service.Reconciler
	Auth       *service.AuthService
	Tasks      *worker.TaskHandler

	DB     *sqlx.DB
	Redis  *redis.Client
	Inline *worker.InlineDispatcher

	closers []func() error
	log     *logrus.Logger
}

// New connects the configured backends and builds every service. With
// DB_DRIVER=memory or no reachable Redis, jobs run in-process.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, log: utils.GetLogger()}

	rules, err := loadRules(cfg)
	if err != nil {
		return nil, err
	}
	a.Rules = currency.NewHolder(rules)

	if cfg.DBDriver == "memory" {
		a.Store = memory.NewStore()
		a.log.Warn("Using in-memory store, data is lost on exit")
	} else {
		db, err := database.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		a.Store = repository.NewStore(db)
	}

	var (
		dispatcher service.JobDispatcher
		notifier   service.Notifier = notification.NewLogNotifier(a.log)
		tracker    service.ProgressTracker
	)
	if cfg.DBDriver != "memory" {
		if client, err := database.NewRedis(ctx, cfg); err != nil {
			a.log.WithError(err).Warn("Redis unavailable, running jobs in-process")
		} else {
			a.Redis = client
			a.closers = append(a.closers, client.Close)
			notifier = notification.NewRedisNotifier(client, cfg.NotificationChannel)
			tracker = progress.NewRedisTracker(client, progress.DefaultTTL)

			asynqClient := asynq.NewClient(redisOpt(cfg))
			inspector := asynq.NewInspector(redisOpt(cfg))
			a.closers = append(a.closers, asynqClient.Close, inspector.Close)
			dispatcher = worker.NewDispatcher(asynqClient, inspector, cfg.MaxRetries)
		}
	}
	if dispatcher == nil {
		a.Inline = worker.NewInlineDispatcher(ctx)
		dispatcher = a.Inline
	}

	store, err := storage.NewLocal(cfg.UploadPath)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Providers = buildProviders(cfg)
	a.Approvals = service.NewApprovalService(a.Store, a.Rules, a.Store, a.Store, dispatcher, notifier, cfg)
	a.Files = service.NewFileService(a.Store, store, a.Rules, a.Approvals, dispatcher, notifier, tracker, cfg)
	a.Processor = service.NewPaymentProcessor(a.Store, a.Rules, a.Providers, dispatcher, notifier, tracker, cfg)
	a.Files.SetPendingCanceller(a.Processor)
	a.Reconciler = service.NewReconciler(a.Store, a.Processor, a.Approvals, dispatcher, cfg)
	a.Auth = service.NewAuthService(a.Store, cfg)
	a.Tasks = worker.NewTaskHandler(a.Files, a.Processor, a.Reconciler)
	if a.Inline != nil {
		a.Inline.Bind(a.Tasks)
	}
	return a, nil
}

// Close waits for in-process jobs and releases connections.
func (a *App) Close() {
	if a.Inline != nil {
		a.Inline.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("Close failed")
		}
	}
}

func loadRules(cfg *config.Config) (*currency.Registry, error) {
	if cfg.CurrencyRulesPath == "" {
		return currency.Default(), nil
	}
	return currency.LoadFile(cfg.CurrencyRulesPath)
}

// ReloadRules swaps the currency table for the one in CurrencyRulesPath.
func (a *App) ReloadRules() error {
	rules, err := loadRules(a.Config)
	if err != nil {
		return err
	}
	a.Rules.Replace(rules)
	a.log.WithField("currencies", len(rules.Codes())).Info("Currency rules reloaded")
	return nil
}

// buildProviders registers an HTTP gateway for every configured corridor
// provider. Anything else settles against the sandbox.
func buildProviders(cfg *config.Config) *provider.Registry {
	reg := provider.NewRegistry(provider.NewSandbox("sandbox"))
	for name, baseURL := range cfg.ProviderBaseURLs {
		reg.Register(name, provider.NewHTTPProvider(name, baseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout))
	}
	return reg
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPassword,
		DB:       cfg.AsynqRedisDB,
	}
}

// RedisOpt exposes the asynq connection options for the worker binary.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return redisOpt(cfg)
}
