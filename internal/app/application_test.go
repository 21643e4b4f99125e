package app

import (
	"context"
	"testing"

	"github.com/Meridian-Network/mining_layer/internal/config"
)

// Run exits on context cancellation or server failure; either way the
// caller follows up with Shutdown, which must stop services and close
// the store cleanly.
func TestRunThenShutdownStopsServices(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 39321

	application, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := application.Run(ctx); err != nil {
		t.Fatalf("Run with cancelled context: %v", err)
	}
	if err := application.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown after Run: %v", err)
	}
}

func TestShutdownWithoutRun(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 39322

	application, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := application.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown before Run: %v", err)
	}
}
