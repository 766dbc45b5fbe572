package timescale

import (
	"testing"
	"time"

	"hl-vault-engine/internal/config"
	"hl-vault-engine/internal/plan"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{}, nil)
	if err != nil || w != nil {
		t.Fatalf("expected nil writer, got %v %v", w, err)
	}
	// nil writer accepts every call
	w.EnqueueStep(StepRow{})
	w.EnqueueHedge(HedgeSnapshot{})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, nil); err == nil {
		t.Fatalf("expected dsn error")
	}
}

func TestFinishedStepsOnlyReportsLatestTransition(t *testing.T) {
	start := time.Unix(100, 0)
	done := start.Add(1500 * time.Millisecond)
	snap := plan.Snapshot{
		ID:         "p1",
		StrategyID: "s1",
		Action:     plan.ActionClose,
		UpdatedAt:  done,
		Steps: []plan.Step{
			{ID: 1, Key: plan.StepCloseHedge, Status: plan.StepCompleted, StartedAt: start.Add(-time.Second), FinishedAt: start},
			{ID: 2, Key: plan.StepTransferFromPerp, Status: plan.StepFailed, StartedAt: start, FinishedAt: done, Error: "boom"},
			{ID: 3, Key: plan.StepSwapToRepay, Status: plan.StepPending},
		},
	}
	rows := FinishedSteps(snap)
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if rows[0].StepID != 2 || rows[0].Status != "failed" || rows[0].DurationMS != 1500 || rows[0].Error != "boom" {
		t.Fatalf("unexpected row %+v", rows[0])
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	w := newWriter(nil, "public", 1, nil)
	w.EnqueueStep(StepRow{PlanID: "a"})
	w.EnqueueStep(StepRow{PlanID: "b"})
	if got := w.dropStep.Load(); got != 1 {
		t.Fatalf("expected one dropped row, got %d", got)
	}
	obs := w.PlanObserver()
	obs(plan.Snapshot{})
	if len(w.steps) != 1 {
		t.Fatalf("expected queue to hold one row, got %d", len(w.steps))
	}
}
