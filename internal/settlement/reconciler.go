package settlement

import (
	"context"
	"sync"
	"time"

	domain "github.com/Meridian-Network/mining_layer/internal/domain/settlement"
	"github.com/Meridian-Network/mining_layer/internal/metrics"
	"github.com/Meridian-Network/mining_layer/internal/storage"
	"github.com/Meridian-Network/mining_layer/internal/system"
	"github.com/Meridian-Network/mining_layer/pkg/logger"
)

// Reconciler watches pending settlement records and drives them to a
// terminal state: records that never reached the network are resubmitted,
// and records with a transaction reference but no claim reference get their
// effect history re-queried until the reference appears.
type Reconciler struct {
	store    storage.SettlementStore
	client   *Client
	interval time.Duration
	backoff  time.Duration
	log      *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

var _ system.Service = (*Reconciler)(nil)

// NewReconciler creates the background reconciliation job.
func NewReconciler(store storage.SettlementStore, client *Client, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDefault("settlement-reconciler")
	}
	return &Reconciler{
		store:       store,
		client:      client,
		interval:    30 * time.Second,
		backoff:     2 * time.Minute,
		log:         log,
		nextAttempt: make(map[string]time.Time),
	}
}

func (r *Reconciler) Name() string { return "settlement-reconciler" }

func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("settlement reconciler started")
	return nil
}

func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

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

func (r *Reconciler) tick(ctx context.Context) {
	pending, err := r.store.ListPendingSettlements(ctx)
	if err != nil {
		r.log.WithError(err).Warn("list pending settlements failed")
		return
	}

	now := time.Now()
	for _, rec := range pending {
		if !r.shouldAttempt(rec.ID, now) {
			continue
		}
		r.resolve(ctx, rec)
	}
}

// resolve advances one pending record. Never-submitted records are pushed
// through the full protocol again; submitted-but-ambiguous records only
// need their claim reference recovered.
func (r *Reconciler) resolve(ctx context.Context, rec domain.Record) {
	if rec.TxRef == "" {
		updated, err := r.client.Submit(ctx, rec)
		if err != nil {
			r.log.WithError(err).WithField("settlement", rec.ID).Warn("resubmission failed")
			r.scheduleNext(rec.ID)
			return
		}
		if updated.Status == domain.StatusCompleted {
			metrics.ReconcilerResolved("resubmitted")
			r.log.WithField("settlement", rec.ID).Info("pending settlement resubmitted and completed")
			r.clearSchedule(rec.ID)
			return
		}
		r.scheduleNext(rec.ID)
		return
	}

	ref, err := r.client.RecoverReference(ctx, rec.TxRef)
	if err != nil {
		r.log.WithError(err).WithField("settlement", rec.ID).Warn("reference recovery failed")
		r.scheduleNext(rec.ID)
		return
	}
	if ref == "" {
		r.scheduleNext(rec.ID)
		return
	}

	rec.ExternalRef = ref
	rec.Status = domain.StatusCompleted
	if _, err := r.store.UpdateSettlement(ctx, rec); err != nil {
		r.log.WithError(err).WithField("settlement", rec.ID).Warn("settlement completion failed")
		r.scheduleNext(rec.ID)
		return
	}
	metrics.ReconcilerResolved("reference_recovered")
	r.log.WithFields(map[string]interface{}{
		"settlement": rec.ID,
		"ref":        ref,
	}).Info("settlement reference recovered")
	r.clearSchedule(rec.ID)
}

func (r *Reconciler) shouldAttempt(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, ok := r.nextAttempt[id]
	return !ok || now.After(next)
}

func (r *Reconciler) scheduleNext(id string) {
	r.mu.Lock()
	r.nextAttempt[id] = time.Now().Add(r.backoff)
	r.mu.Unlock()
}

func (r *Reconciler) clearSchedule(id string) {
	r.mu.Lock()
	delete(r.nextAttempt, id)
	r.mu.Unlock()
}
