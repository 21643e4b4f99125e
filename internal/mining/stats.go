package mining

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Meridian-Network/mining_layer/internal/domain/network"
	"github.com/Meridian-Network/mining_layer/internal/storage"
	"github.com/Meridian-Network/mining_layer/internal/system"
	"github.com/Meridian-Network/mining_layer/pkg/logger"
)

// DefaultStatsSchedule recomputes the network aggregate once a minute.
const DefaultStatsSchedule = "@every 1m"

// StatsRefresher recomputes the network-wide aggregate on a fixed schedule
// and on demand. It is an explicitly owned background task started and
// stopped by the application, not a module-level timer.
type StatsRefresher struct {
	store    storage.Store
	schedule string
	log      *logger.Logger

	mu      sync.RWMutex
	current network.Stats

	cron    *cron.Cron
	kick    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*StatsRefresher)(nil)
var _ StatsSource = (*StatsRefresher)(nil)

// NewStatsRefresher creates the refresher. schedule uses cron syntax
// (including "@every" descriptors); empty means DefaultStatsSchedule.
func NewStatsRefresher(store storage.Store, schedule string, log *logger.Logger) *StatsRefresher {
	if schedule == "" {
		schedule = DefaultStatsSchedule
	}
	if log == nil {
		log = logger.NewDefault("network-stats")
	}
	return &StatsRefresher{
		store:    store,
		schedule: schedule,
		log:      log,
		kick:     make(chan struct{}, 1),
	}
}

func (r *StatsRefresher) Name() string { return "network-stats" }

// Start begins periodic recomputation and performs one synchronous refresh
// so the rate model never sees a zero snapshot after boot.
func (r *StatsRefresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, func() { r.Recompute(runCtx) }); err != nil {
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
		cancel()
		return err
	}
	r.mu.Unlock()

	r.Recompute(ctx)
	r.cron.Start()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-r.kick:
				r.Recompute(runCtx)
			}
		}
	}()

	r.log.Infof("network stats refresher started (%s)", r.schedule)
	return nil
}

func (r *StatsRefresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	c := r.cron
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Kick requests an asynchronous refresh. It never blocks; a refresh already
// queued absorbs the request.
func (r *StatsRefresher) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Recompute reads the aggregate from storage and publishes it.
func (r *StatsRefresher) Recompute(ctx context.Context) {
	active, err := r.store.CountActiveSessions(ctx)
	if err != nil {
		r.log.WithError(err).Warn("count active sessions failed")
		return
	}
	settled, err := r.store.SumWalletBalances(ctx)
	if err != nil {
		r.log.WithError(err).Warn("sum wallet balances failed")
		return
	}

	r.mu.Lock()
	r.current = network.Stats{
		ActiveSessions: active,
		TotalSettled:   settled,
		ComputedAt:     time.Now().UTC(),
	}
	r.mu.Unlock()
}

// ActiveCount returns the last computed number of active sessions.
func (r *StatsRefresher) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.ActiveSessions
}

// Current returns the last computed aggregate.
func (r *StatsRefresher) Current() network.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}
