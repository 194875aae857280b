package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"statuscert-backend/internal/bootstrap"
	"statuscert-backend/internal/shared/config"
	"statuscert-backend/internal/shared/storage/db"
	"statuscert-backend/internal/worker"
)

func main() {
	cfg := config.Load()

	app, err := bootstrap.Build(cfg, db.DefaultWorkerOptions())
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := &worker.Worker{
		Jobs:         app.Jobs,
		Reviews:      app.Reviews,
		Runner:       app.Pipeline,
		PollInterval: cfg.WorkerPollInterval,
		Concurrency:  cfg.WorkerConcurrency,
		IdleLogEvery: cfg.WorkerIdleLogEvery,
		StaleAfter:   cfg.StaleRunningAfter,
	}

	log.Printf("worker started poll=%s concurrency=%d stale=%s",
		cfg.WorkerPollInterval, cfg.WorkerConcurrency, cfg.StaleRunningAfter)
	w.Run(ctx)
	log.Printf("worker stopped")
}
