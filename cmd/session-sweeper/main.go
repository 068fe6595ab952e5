package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tamosreddi/orders-sub000/internal/config"
	"github.com/tamosreddi/orders-sub000/internal/session"
	"github.com/tamosreddi/orders-sub000/internal/storage"
	"github.com/tamosreddi/orders-sub000/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	must(err)
	must(config.InitLogger(cfg))

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	svc := sweeper.NewService(session.NewManager(db, cfg), cfg)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
