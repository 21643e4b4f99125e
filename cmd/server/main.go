// Package main runs the accrual session engine and its settlement layer.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Meridian-Network/mining_layer/internal/app"
	"github.com/Meridian-Network/mining_layer/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default $CONFIG_PATH or config.yaml)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Shut down even when Run fails, so services and the store close
	// before the process exits.
	runErr := application.Run(ctx)
	if err := application.Shutdown(context.Background()); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if runErr != nil {
		log.Fatalf("run: %v", runErr)
	}
}
