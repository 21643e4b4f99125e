package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
	domain "github.com/Meridian-Network/mining_layer/internal/domain/settlement"
	"github.com/Meridian-Network/mining_layer/internal/ledger"
)

func TestReconcilerResubmitsUnsubmittedRecord(t *testing.T) {
	net := &fakeLedger{
		exists:  true,
		account: authorizedAccount(),
		submitResult: ledger.SubmitResult{
			TxRef:   "tx-r1",
			Effects: []ledger.Effect{{Type: ledger.EffectClaimCreated, Ref: "claim-r1"}},
		},
	}
	c, store, userID := newTestClient(t, net)

	rec, err := store.CreateSettlement(context.Background(), domain.Record{
		UserID: userID,
		Amount: asset.FromFloat(1),
		Status: domain.StatusPending,
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}

	r := NewReconciler(store, c, nil)
	r.tick(context.Background())

	got, err := store.GetSettlement(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get settlement: %v", err)
	}
	if got.Status != domain.StatusCompleted || got.ExternalRef != "claim-r1" {
		t.Fatalf("status=%s ref=%q", got.Status, got.ExternalRef)
	}
	if net.submissions != 1 {
		t.Fatalf("submissions = %d, want 1", net.submissions)
	}
}

func TestReconcilerRecoversReferenceOnly(t *testing.T) {
	net := &fakeLedger{
		historyEffects: []ledger.Effect{{Type: ledger.EffectClaimCreated, Ref: "claim-r2"}},
	}
	c, store, userID := newTestClient(t, net)

	rec, err := store.CreateSettlement(context.Background(), domain.Record{
		UserID: userID,
		Amount: asset.FromFloat(1),
		Status: domain.StatusPending,
		TxRef:  "tx-r2",
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}

	r := NewReconciler(store, c, nil)
	r.tick(context.Background())

	got, err := store.GetSettlement(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get settlement: %v", err)
	}
	if got.Status != domain.StatusCompleted || got.ExternalRef != "claim-r2" {
		t.Fatalf("status=%s ref=%q", got.Status, got.ExternalRef)
	}
	if net.submissions != 0 {
		t.Fatal("a submitted record must not be resubmitted")
	}
}

func TestReconcilerBacksOffBetweenAttempts(t *testing.T) {
	net := &fakeLedger{historyErr: context.DeadlineExceeded}
	c, store, userID := newTestClient(t, net)

	if _, err := store.CreateSettlement(context.Background(), domain.Record{
		UserID: userID,
		Amount: asset.FromFloat(1),
		Status: domain.StatusPending,
		TxRef:  "tx-r3",
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	r := NewReconciler(store, c, nil)
	r.tick(context.Background())
	r.tick(context.Background())

	if net.historyQueries != 1 {
		t.Fatalf("history queries = %d, want 1 until the backoff expires", net.historyQueries)
	}
}

func TestReconcilerStartStop(t *testing.T) {
	c, store, _ := newTestClient(t, &fakeLedger{})
	r := NewReconciler(store, c, nil)
	r.interval = 10 * time.Millisecond

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("second start must be a no-op, got %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("second stop must be a no-op, got %v", err)
	}
}
