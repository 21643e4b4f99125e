// Package app wires the engine's dependencies and manages the process
// lifecycle.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/Meridian-Network/mining_layer/internal/config"
	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
	"github.com/Meridian-Network/mining_layer/internal/httpapi"
	"github.com/Meridian-Network/mining_layer/internal/ledger"
	"github.com/Meridian-Network/mining_layer/internal/middleware"
	"github.com/Meridian-Network/mining_layer/internal/mining"
	"github.com/Meridian-Network/mining_layer/internal/settlement"
	"github.com/Meridian-Network/mining_layer/internal/storage"
	"github.com/Meridian-Network/mining_layer/internal/storage/memory"
	"github.com/Meridian-Network/mining_layer/internal/storage/postgres"
	"github.com/Meridian-Network/mining_layer/internal/system"
	"github.com/Meridian-Network/mining_layer/internal/wallet"
	"github.com/Meridian-Network/mining_layer/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server and
// background service lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *http.Server
	services   []system.Service
	db         *sql.DB

	Manager    *mining.Manager
	Accountant *mining.Accountant
	Wallets    *wallet.Service
	Stats      *mining.StatsRefresher
}

// New constructs an application instance with default wiring.
func New(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	store, db, err := buildStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure store: %w", err)
	}

	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	issued := ledger.Asset{Code: cfg.Ledger.AssetCode, Issuer: cfg.Ledger.AssetIssuer}

	var net ledger.API
	var settler *settlement.Client
	if cfg.Ledger.RPCURL != "" {
		client, err := ledger.NewClient(ledger.Config{
			RPCURL:  cfg.Ledger.RPCURL,
			Timeout: cfg.Ledger.CallTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("configure ledger client: %w", err)
		}
		net = client

		reserve, err := asset.Parse(cfg.Ledger.MinimumReserve)
		if err != nil {
			return nil, fmt.Errorf("parse minimum reserve: %w", err)
		}
		settler = settlement.New(store, net, issued, log.WithComponent("settlement"),
			settlement.WithCallTimeout(cfg.Ledger.CallTimeout),
			settlement.WithPropagationDelay(cfg.Ledger.Propagation),
			settlement.WithMinimumReserve(reserve),
		)
	} else {
		log.Warn("no ledger configured; accrual runs without settlement")
	}

	stats := mining.NewStatsRefresher(store, cfg.Mining.StatsSchedule, log.WithComponent("network-stats"))
	progression := mining.NewLevelProgression(store, settlerOrNil(settler), log.WithComponent("progression"))
	guard := mining.NewCooldownGuard(store, cfg.Mining.Cooldown, log.WithComponent("cooldown"))

	manager := mining.NewManager(mining.Config{
		Cooldown:           cfg.Mining.Cooldown,
		CheckpointInterval: cfg.Mining.CheckpointInterval,
		MaxSessionDuration: cfg.Mining.MaxSessionDuration,
	}, store, guard, stats, settlerOrNil(settler), progression, log.WithComponent("sessions"))
	accountant := mining.NewAccountant(manager, settlerOrNil(settler), progression, log.WithComponent("claims"))
	wallets := wallet.New(store, net, issued, cache, log.WithComponent("wallet"))

	services := []system.Service{stats}
	if settler != nil {
		services = append(services, settlement.NewReconciler(store, settler, log.WithComponent("reconciler")))
	}

	router := httpapi.NewRouter(manager, accountant, wallets, stats, log.WithComponent("httpapi"), httpapi.Options{
		RateLimit: middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log.WithComponent("ratelimit")),
		CORS:      middleware.NewCORS([]string{"*"}),
	})

	return &Application{
		cfg: cfg,
		log: log,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		services:   services,
		db:         db,
		Manager:    manager,
		Accountant: accountant,
		Wallets:    wallets,
		Stats:      stats,
	}, nil
}

// Run starts the background services and the HTTP server, blocking until
// the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	for _, svc := range a.services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		a.log.Infof("service %s started", svc.Name())
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server and the background services.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	for i := len(a.services) - 1; i >= 0; i-- {
		svc := a.services[i]
		if err := svc.Stop(shutdownCtx); err != nil {
			a.log.WithError(err).Warnf("error stopping %s", svc.Name())
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func buildStore(cfg *config.Config) (storage.Store, *sql.DB, error) {
	if cfg.Database.Driver == "" {
		return memory.New(), nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return postgres.New(db), db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// settlerOrNil avoids handing a typed-nil *settlement.Client to an
// interface field.
func settlerOrNil(c *settlement.Client) mining.Settler {
	if c == nil {
		return nil
	}
	return c
}
