package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"mass-payments/internal/app"
	"mass-payments/internal/config"
	"mass-payments/internal/utils"
	"mass-payments/internal/worker"
)

func main() {
	log := utils.GetLogger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.DBDriver == "memory" {
		log.Fatal("The worker needs a shared database, DB_DRIVER=memory is not supported")
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer a.Close()
	if a.Redis == nil {
		log.Fatal("The worker needs Redis for its job queue")
	}

	// Create Asynq server
	srv := asynq.NewServer(
		app.RedisOpt(cfg),
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				worker.QueueCritical: 6,
				worker.QueueDefault:  3,
				worker.QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.WithField("task", task.Type()).WithError(err).Error("Task failed")
			}),
		},
	)

	// Register task handlers
	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux, a.Tasks)

	scheduler := asynq.NewScheduler(app.RedisOpt(cfg), nil)
	if err := worker.RegisterSchedule(scheduler, cfg.ReconcileInterval); err != nil {
		log.Fatalf("Invalid reconcile schedule %q: %v", cfg.ReconcileInterval, err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stop
		log.WithField("signal", sig.String()).Info("Draining payment worker")
		scheduler.Shutdown()
		srv.Shutdown()
	}()

	log.WithFields(map[string]interface{}{
		"concurrency": cfg.WorkerConcurrency,
		"reconcile":   cfg.ReconcileInterval,
	}).Info("Payment worker started")
	if err := srv.Run(mux); err != nil {
		log.Fatalf("Worker stopped: %v", err)
	}
	log.Info("Payment worker exited")
}
