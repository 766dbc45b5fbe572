package app

import (
	"context"
	"fmt"
	"math/big"

	"hl-vault-engine/internal/plan"
	"hl-vault-engine/internal/rebalance"
	"hl-vault-engine/internal/state"
	"hl-vault-engine/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Request struct {
	StrategyID string
	Action     plan.Action
	// Direction is only read for rebalance. Empty means detect it.
	Direction plan.Direction
	// Magnitude overrides the detected rebalance size in USD.
	Magnitude decimal.Decimal
	// Withdraw is the partial close amount in collateral base units.
	Withdraw *big.Int
}

// Execute builds the plan for req and runs it to completion, failure or abort.
// The returned snapshot is the plan's final state; it is valid even when err is set.
func (a *App) Execute(ctx context.Context, req Request) (plan.Snapshot, error) {
	s, err := a.Strategy(req.StrategyID)
	if err != nil {
		return plan.Snapshot{}, err
	}
	adapter, err := strategy.NewAdapter(s.Kind, a.deps)
	if err != nil {
		return plan.Snapshot{}, err
	}
	runner := &stepRunner{app: a, strategy: s, adapter: adapter, action: req.Action, withdraw: req.Withdraw}

	direction := plan.DirectionNone
	switch req.Action {
	case plan.ActionRebalance:
		direction, runner.magnitude, err = a.rebalanceSize(ctx, s, req)
		if err != nil {
			return plan.Snapshot{}, err
		}
	case plan.ActionPartialClose:
		if req.Withdraw == nil || req.Withdraw.Sign() <= 0 {
			return plan.Snapshot{}, fmt.Errorf("partial close needs a positive withdraw amount")
		}
	}

	p, err := plan.New(s.ID, req.Action, direction)
	if err != nil {
		return plan.Snapshot{}, err
	}
	if err := a.acquire(s.ID, p.ID()); err != nil {
		return plan.Snapshot{}, err
	}
	defer a.release(s.ID)

	a.log.Info("executing plan",
		zap.String("plan_id", p.ID()),
		zap.String("strategy", s.ID),
		zap.String("action", string(req.Action)),
		zap.String("direction", string(direction)),
		zap.String("magnitude", runner.magnitude.String()),
	)
	err = a.sequencer.Run(ctx, p, runner)
	if err == nil && (req.Action == plan.ActionRebalance || req.Action == plan.ActionClose) {
		// the recorded signal has been acted on
		if cerr := state.ClearDecision(context.WithoutCancel(ctx), a.store, s.ID); cerr != nil {
			a.log.Warn("decision clear failed", zap.String("strategy", s.ID), zap.Error(cerr))
		}
	}
	return p.Snapshot(), err
}

func (a *App) rebalanceSize(ctx context.Context, s strategy.Strategy, req Request) (plan.Direction, decimal.Decimal, error) {
	if req.Direction != plan.DirectionNone && req.Magnitude.IsPositive() {
		return req.Direction, req.Magnitude, nil
	}
	decision, err := a.Detect(ctx, s.ID)
	if err != nil {
		return "", decimal.Zero, err
	}
	magnitude := decision.Magnitude
	if req.Magnitude.IsPositive() {
		magnitude = req.Magnitude
	}
	direction := req.Direction
	if direction == plan.DirectionNone {
		if !decision.NeedsRebalancing {
			return "", decimal.Zero, fmt.Errorf("%w: pnl below %s", ErrNoRebalanceNeeded, a.detector.Threshold().StringFixed(2))
		}
		direction = directionOf(decision.Direction)
	}
	if !magnitude.IsPositive() {
		return "", decimal.Zero, fmt.Errorf("%w: pnl below %s and no amount given", ErrNoRebalanceNeeded, a.detector.Threshold().StringFixed(2))
	}
	return direction, magnitude, nil
}

func directionOf(d rebalance.Direction) plan.Direction {
	switch d {
	case rebalance.DirectionUpside:
		return plan.DirectionUpside
	case rebalance.DirectionDownside:
		return plan.DirectionDownside
	default:
		return plan.DirectionNone
	}
}
