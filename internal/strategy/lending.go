package strategy

import (
	"context"
	"fmt"
	"math/big"

	"hl-vault-engine/internal/chain"
	"hl-vault-engine/internal/sizing"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LendingLoop drives an executor that loops collateral through a lending pool.
// The executor swaps internally, so no aggregator quote is needed.
type LendingLoop struct {
	deps Deps
	log  *zap.Logger
}

func NewLendingLoop(deps Deps) *LendingLoop {
	return &LendingLoop{deps: deps, log: deps.logger().With(zap.String("adapter", string(KindLendingLoop)))}
}

func (l *LendingLoop) Kind() Kind { return KindLendingLoop }

func poolContract(s Strategy) chain.Contract {
	return chain.Contract{Name: "pool", Address: s.Pool, ABI: chain.PoolABI}
}

func (l *LendingLoop) OpenLeveragedPosition(ctx context.Context, s Strategy) (TxResult, error) {
	l.log.Info("opening leveraged position", zap.String("strategy", s.ID))
	return transact(ctx, l.deps.Wallet, s, s.executor(), "executeFullEvmFlow", s.CollateralAsset, new(big.Int), new(big.Int))
}

func (l *LendingLoop) PartialCloseAmounts(ctx context.Context, s Strategy, withdraw *big.Int) (sizing.Amounts, error) {
	var in sizing.Inputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := l.deps.Reader.ReadContract(gctx, poolContract(s), "getUserAccountData", s.Executor)
		if err != nil {
			return fmt.Errorf("read collateral: %w", err)
		}
		// TODO: totalCollateralBase is in pool base currency units while the
		// withdraw request is an 18-decimal token amount; audit the clamp.
		in.Collateral, err = chain.BigOutput(out, 0)
		return err
	})
	g.Go(func() error {
		hedges, err := l.deps.Exchange.HedgePositions(gctx, s.Executor.Hex())
		if err != nil {
			return fmt.Errorf("read hedge positions: %w", err)
		}
		in.Hedges = hedges
		return nil
	})
	if err := g.Wait(); err != nil {
		return sizing.Amounts{}, err
	}
	in.Requested = withdraw
	in.HedgeCoin = s.HedgeCoin
	return l.deps.Sizer.LendingLoop(in)
}

func (l *LendingLoop) PartialClose(ctx context.Context, s Strategy, withdraw *big.Int) (TxResult, error) {
	const op = "partialClosePosition"
	amounts, err := l.PartialCloseAmounts(ctx, s, withdraw)
	if err != nil {
		return TxResult{}, stepErr(s, op, err)
	}
	l.log.Info("partial close",
		zap.String("strategy", s.ID),
		zap.String("withdraw", amounts.LendingPositionToRemove.String()),
		zap.String("hedge", amounts.HedgeSizeToRemove.String()),
	)
	res, err := transact(ctx, l.deps.Wallet, s, s.executor(), op, s.CollateralAsset, amounts.LendingPositionToRemove)
	if err != nil {
		return TxResult{}, err
	}
	res.Amounts = &amounts
	return res, nil
}

func (l *LendingLoop) FullClose(ctx context.Context, s Strategy) (TxResult, error) {
	return transact(ctx, l.deps.Wallet, s, s.executor(), "closeLeveragePosition", s.CollateralAsset, new(big.Int), new(big.Int), []byte{})
}

func (l *LendingLoop) Borrow(ctx context.Context, s Strategy, amount *big.Int) (TxResult, error) {
	const op = "borrowStable"
	if !nonZero(amount) {
		return skipped(op), nil
	}
	res, err := transact(ctx, l.deps.Wallet, s, s.executor(), op, amount)
	if err != nil {
		return TxResult{}, err
	}
	res.Amount = new(big.Int).Set(amount)
	return res, nil
}

func (l *LendingLoop) RepayDebt(ctx context.Context, s Strategy, amount *big.Int) (TxResult, error) {
	const op = "repayStable"
	if amount == nil {
		held, err := l.deps.Reader.TokenBalance(ctx, s.DebtAsset, s.Executor)
		if err != nil {
			return TxResult{}, stepErr(s, op, fmt.Errorf("read executor debt balance: %w", err))
		}
		amount = held
	}
	if !nonZero(amount) {
		return skipped(op), nil
	}
	res, err := transact(ctx, l.deps.Wallet, s, s.executor(), op, amount)
	if err != nil {
		return TxResult{}, err
	}
	res.Amount = new(big.Int).Set(amount)
	return res, nil
}
