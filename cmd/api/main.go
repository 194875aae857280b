package main

import (
	"log"

	"statuscert-backend/internal/bootstrap"
	"statuscert-backend/internal/server"
	"statuscert-backend/internal/shared/config"
	"statuscert-backend/internal/shared/storage/db"
)

func main() {
	cfg := config.Load()

	app, err := bootstrap.Build(cfg, db.DefaultServerOptions())
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()

	addr := server.Addr(cfg.Port)
	log.Printf("Starting API server on %s (execution=%s, store=%s)", addr, cfg.ExecutionMode, cfg.ObjectStoreType)

	if err := app.Router.Run(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
