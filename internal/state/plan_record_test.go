package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"hl-vault-engine/internal/plan"
	"hl-vault-engine/internal/rebalance"

	"github.com/shopspring/decimal"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

func TestSaveAndLoadLastPlan(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	p, err := plan.New("s1", plan.ActionClose, plan.DirectionNone)
	if err != nil {
		t.Fatalf("new plan: %v", err)
	}
	snap := p.Snapshot()
	if err := SavePlan(ctx, store, snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, ok, err := LastPlan(ctx, store, "s1")
	if err != nil || !ok {
		t.Fatalf("expected last plan, got ok=%v err=%v", ok, err)
	}
	if got.ID != snap.ID || got.Action != plan.ActionClose || len(got.Steps) != 6 {
		t.Fatalf("unexpected plan %+v", got)
	}
	if _, ok, _ := LastPlan(ctx, store, "other"); ok {
		t.Fatalf("unexpected plan for unknown strategy")
	}
}

func TestListPlansWithoutHistory(t *testing.T) {
	plans, err := ListPlans(context.Background(), &memoryStore{}, "s1", 10)
	if err != nil || plans != nil {
		t.Fatalf("expected no history, got %v %v", plans, err)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	if err := SavePlan(context.Background(), nil, plan.Snapshot{ID: "x"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, ok, err := LastPlan(context.Background(), nil, "s1"); ok || err != nil {
		t.Fatalf("expected empty result")
	}
}

func TestDecisionRoundTrip(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	at := time.UnixMilli(1700000000000)
	d := rebalance.Decision{NeedsRebalancing: true, Direction: rebalance.DirectionDownside, Magnitude: decimal.RequireFromString("13.4")}
	if err := SaveDecision(ctx, store, "s1", d, at); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	rec, ok, err := LoadDecision(ctx, store, "s1")
	if err != nil || !ok {
		t.Fatalf("expected decision, got ok=%v err=%v", ok, err)
	}
	if rec.Direction != "DOWNSIDE" || rec.Magnitude != "13.4" || !rec.Needs || rec.CheckedAtMS != 1700000000000 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestClearDecision(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	d := rebalance.Decision{NeedsRebalancing: true, Direction: rebalance.DirectionUpside, Magnitude: decimal.RequireFromString("20")}
	if err := SaveDecision(ctx, store, "s1", d, time.Now()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := ClearDecision(ctx, store, "s1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, ok, err := LoadDecision(ctx, store, "s1"); ok || err != nil {
		t.Fatalf("expected no decision after clear, ok=%v err=%v", ok, err)
	}
	if err := ClearDecision(ctx, nil, "s1"); err != nil {
		t.Fatalf("nil store should be a no-op, got %v", err)
	}
}
