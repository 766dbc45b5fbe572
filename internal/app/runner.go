package app

import (
	"context"
	"fmt"
	"math/big"

	"hl-vault-engine/internal/account"
	"hl-vault-engine/internal/plan"
	"hl-vault-engine/internal/rebalance"
	"hl-vault-engine/internal/sizing"
	"hl-vault-engine/internal/strategy"

	"github.com/shopspring/decimal"
)

// stepRunner maps plan steps onto adapter and venue calls. Amounts produced by
// one step, such as the sizing of a partial close, are carried to later steps.
type stepRunner struct {
	app       *App
	strategy  strategy.Strategy
	adapter   strategy.Adapter
	action    plan.Action
	magnitude decimal.Decimal
	withdraw  *big.Int
	amounts   *sizing.Amounts
}

func (r *stepRunner) RunStep(ctx context.Context, step plan.Step) (string, error) {
	res, err := r.run(ctx, step.Key)
	if err != nil {
		return "", err
	}
	if res.Amounts != nil {
		r.amounts = res.Amounts
	}
	if res.Skipped {
		return "", nil
	}
	return res.Hash.Hex(), nil
}

func (r *stepRunner) run(ctx context.Context, key plan.StepKey) (strategy.TxResult, error) {
	s := r.strategy
	venue := r.app.venue
	switch key {
	case plan.StepBorrow:
		return r.adapter.Borrow(ctx, s, r.debtUnits())
	case plan.StepTransferToCore:
		return venue.TransferToCore(ctx, s, r.debtUnits())
	case plan.StepSwapToQuote:
		return venue.SwapStable(ctx, s, false, r.magnitude)
	case plan.StepTransferToPerp:
		return venue.TransferUSDClass(ctx, s, r.magnitude, true)
	case plan.StepTransferFromPerp:
		amount, err := r.closeAmount(ctx, r.magnitude, func(b account.Balances) decimal.Decimal { return b.PerpWithdrawable })
		if err != nil {
			return strategy.TxResult{}, err
		}
		return venue.TransferUSDClass(ctx, s, amount, false)
	case plan.StepSwapToRepay:
		amount, err := r.closeAmount(ctx, r.magnitude, func(b account.Balances) decimal.Decimal {
			return b.SpotBalance(r.app.cfg.Venue.QuoteCoin)
		})
		if err != nil {
			return strategy.TxResult{}, err
		}
		return venue.SwapStable(ctx, s, true, amount)
	case plan.StepTransferToEVM:
		amount, err := r.closeAmount(ctx, r.magnitude, func(b account.Balances) decimal.Decimal {
			return b.SpotBalance(r.app.cfg.Venue.StableCoin)
		})
		if err != nil {
			return strategy.TxResult{}, err
		}
		return venue.TransferToEVM(ctx, s, amount)
	case plan.StepRepayDebt:
		return r.adapter.RepayDebt(ctx, s, nil)
	case plan.StepCloseHedge:
		size, err := r.hedgeSize(ctx)
		if err != nil {
			return strategy.TxResult{}, err
		}
		return venue.CloseShort(ctx, s, size)
	case plan.StepFinalizeClose:
		return r.adapter.FullClose(ctx, s)
	case plan.StepOpenPosition:
		return r.adapter.OpenLeveragedPosition(ctx, s)
	case plan.StepOpenHedge:
		bal, err := r.balances(ctx)
		if err != nil {
			return strategy.TxResult{}, err
		}
		return venue.OpenShort(ctx, s, bal.PerpWithdrawable)
	case plan.StepUnwindCollateral:
		return r.adapter.PartialClose(ctx, s, r.withdraw)
	case plan.StepReduceHedge:
		if r.amounts == nil {
			return strategy.TxResult{}, fmt.Errorf("hedge reduction has no sizing from the unwind step")
		}
		return venue.CloseShort(ctx, s, r.amounts.HedgeSizeToRemove)
	default:
		return strategy.TxResult{}, fmt.Errorf("no handler for step %q", key)
	}
}

// debtUnits converts the rebalance magnitude to debt-token base units.
func (r *stepRunner) debtUnits() *big.Int {
	return r.magnitude.Shift(r.app.cfg.Venue.DebtDecimals).Truncate(0).BigInt()
}

// closeAmount reads the live balance during a close and uses the rebalance
// magnitude otherwise.
func (r *stepRunner) closeAmount(ctx context.Context, magnitude decimal.Decimal, pick func(account.Balances) decimal.Decimal) (decimal.Decimal, error) {
	if r.action != plan.ActionClose {
		return magnitude, nil
	}
	bal, err := r.balances(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return pick(bal), nil
}

func (r *stepRunner) balances(ctx context.Context) (account.Balances, error) {
	bal, err := r.app.deps.Exchange.Balances(ctx, r.strategy.Executor.Hex())
	if err != nil {
		return account.Balances{}, fmt.Errorf("read balances: %w", err)
	}
	return bal, nil
}

func (r *stepRunner) hedgeSize(ctx context.Context) (decimal.Decimal, error) {
	positions, err := r.app.deps.Exchange.HedgePositions(ctx, r.strategy.Executor.Hex())
	if err != nil {
		return decimal.Zero, fmt.Errorf("read hedge positions: %w", err)
	}
	hedge, ok := rebalance.PrimaryHedge(positions, r.strategy.HedgeCoin)
	if !ok {
		return decimal.Zero, nil
	}
	return hedge.Size.Abs(), nil
}
