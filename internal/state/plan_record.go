package state

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"hl-vault-engine/internal/plan"
	"hl-vault-engine/internal/rebalance"
)

func planKey(id string) string { return "plan:" + id }

func lastPlanKey(strategyID string) string { return "plan:last:" + strategyID }

func historyKey(strategyID string) string { return "plans:" + strategyID }

func decisionKey(strategyID string) string { return "rebalance:last:" + strategyID }

// SavePlan stores the latest snapshot of a plan and marks it as the strategy's
// most recent plan. Terminal plans are also appended to the strategy history
// when the store keeps one.
func SavePlan(ctx context.Context, store Store, snap plan.Snapshot) error {
	if store == nil {
		return nil
	}
	if strings.TrimSpace(snap.ID) == "" {
		return errors.New("plan id is required")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, planKey(snap.ID), string(payload)); err != nil {
		return err
	}
	if err := store.Set(ctx, lastPlanKey(snap.StrategyID), snap.ID); err != nil {
		return err
	}
	if hist, ok := store.(HistoryStore); ok && snap.Status.Terminal() {
		return hist.Append(ctx, historyKey(snap.StrategyID), string(payload), snap.UpdatedAt)
	}
	return nil
}

func LoadPlan(ctx context.Context, store Store, id string) (plan.Snapshot, bool, error) {
	if store == nil {
		return plan.Snapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, planKey(id))
	if err != nil || !ok || strings.TrimSpace(raw) == "" {
		return plan.Snapshot{}, false, err
	}
	var snap plan.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return plan.Snapshot{}, false, err
	}
	return snap, true, nil
}

func LastPlan(ctx context.Context, store Store, strategyID string) (plan.Snapshot, bool, error) {
	if store == nil {
		return plan.Snapshot{}, false, nil
	}
	id, ok, err := store.Get(ctx, lastPlanKey(strategyID))
	if err != nil || !ok {
		return plan.Snapshot{}, false, err
	}
	return LoadPlan(ctx, store, id)
}

// ListPlans returns up to limit terminal plans for a strategy, newest first.
// Stores without history return nothing.
func ListPlans(ctx context.Context, store Store, strategyID string, limit int) ([]plan.Snapshot, error) {
	hist, ok := store.(HistoryStore)
	if !ok {
		return nil, nil
	}
	rows, err := hist.History(ctx, historyKey(strategyID), limit)
	if err != nil {
		return nil, err
	}
	out := make([]plan.Snapshot, 0, len(rows))
	for _, raw := range rows {
		var snap plan.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

type DecisionRecord struct {
	Direction   string `json:"direction"`
	Magnitude   string `json:"magnitude"`
	Needs       bool   `json:"needs_rebalancing"`
	CheckedAtMS int64  `json:"checked_at_ms"`
}

func SaveDecision(ctx context.Context, store Store, strategyID string, d rebalance.Decision, at time.Time) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(DecisionRecord{
		Direction:   string(d.Direction),
		Magnitude:   d.Magnitude.String(),
		Needs:       d.NeedsRebalancing,
		CheckedAtMS: at.UnixMilli(),
	})
	if err != nil {
		return err
	}
	return store.Set(ctx, decisionKey(strategyID), string(payload))
}

// ClearDecision drops the recorded decision once a plan has acted on it.
func ClearDecision(ctx context.Context, store Store, strategyID string) error {
	if store == nil {
		return nil
	}
	return store.Delete(ctx, decisionKey(strategyID))
}

func LoadDecision(ctx context.Context, store Store, strategyID string) (DecisionRecord, bool, error) {
	if store == nil {
		return DecisionRecord{}, false, nil
	}
	raw, ok, err := store.Get(ctx, decisionKey(strategyID))
	if err != nil || !ok {
		return DecisionRecord{}, false, err
	}
	var rec DecisionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return DecisionRecord{}, false, err
	}
	return rec, true, nil
}
