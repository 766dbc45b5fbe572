package strategy

import (
	"context"
	"fmt"
	"math/big"

	"hl-vault-engine/internal/account"
	"hl-vault-engine/internal/chain"
	"hl-vault-engine/internal/price"
	"hl-vault-engine/internal/quote"
	"hl-vault-engine/internal/sizing"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MarginHedge drives an executor that holds collateral in a margin account,
// borrows the debt stable against it and swaps through the aggregator.
type MarginHedge struct {
	deps Deps
	log  *zap.Logger
}

func NewMarginHedge(deps Deps) *MarginHedge {
	return &MarginHedge{deps: deps, log: deps.logger().With(zap.String("adapter", string(KindMarginHedge)))}
}

func (m *MarginHedge) Kind() Kind { return KindMarginHedge }

func vaultContract(s Strategy) chain.Contract {
	return chain.Contract{Name: "vault", Address: s.Vault, ABI: chain.VaultABI}
}

func lensContract(s Strategy) chain.Contract {
	return chain.Contract{Name: "lens", Address: s.Lens, ABI: chain.LensABI}
}

// OpenLeveragedPosition buys the collateral needed to lever the vault funds up
// to the target leverage and opens the position in one executor call.
func (m *MarginHedge) OpenLeveragedPosition(ctx context.Context, s Strategy) (TxResult, error) {
	const op = "executeFullEvmFlow"
	funds, err := m.deps.Reader.ReadBig(ctx, vaultContract(s), "fundsForExecutor", s.CollateralAsset)
	if err != nil {
		return TxResult{}, stepErr(s, op, fmt.Errorf("read vault funds: %w", err))
	}
	if funds.Sign() <= 0 {
		return TxResult{}, stepErr(s, op, fmt.Errorf("vault holds no funds for executor"))
	}
	px, err := m.deps.Prices.Price(ctx, s.CollateralAsset.Hex())
	if err != nil {
		return TxResult{}, stepErr(s, op, fmt.Errorf("collateral price: %w", err))
	}
	exposure := price.ExtraExposure(funds, m.deps.CollateralDecimals, px, m.deps.Sizer.LeverageBps)

	levered := new(big.Int).Mul(funds, big.NewInt(m.deps.Sizer.LeverageBps))
	levered.Quo(levered, big.NewInt(10000))
	need := new(big.Int).Sub(levered, funds)
	q, err := m.deps.Quotes.ResolveQuote(ctx, quote.Request{
		InputToken:  s.DebtAsset.Hex(),
		OutputToken: s.CollateralAsset.Hex(),
		OrderType:   quote.OrderBuy,
		Amount:      need,
		UserAddress: s.Position.Hex(),
	})
	if err != nil {
		return TxResult{}, stepErr(s, op, fmt.Errorf("open quote: %w", err))
	}
	m.log.Info("opening leveraged position",
		zap.String("strategy", s.ID),
		zap.String("funds", funds.String()),
		zap.String("collateral_needed", need.String()),
		zap.String("extra_exposure_usd", exposure.StringFixed(2)),
		zap.String("effective_input", q.EffectiveInputAmount.String()),
	)
	res, err := transact(ctx, m.deps.Wallet, s, s.executor(), op, q.EffectiveInputAmount, q.Calldata)
	if err != nil {
		return TxResult{}, err
	}
	res.Quote = &q
	return res, nil
}

// PartialCloseAmounts sizes an unwind from live lens and venue reads.
func (m *MarginHedge) PartialCloseAmounts(ctx context.Context, s Strategy, withdraw *big.Int) (sizing.Amounts, error) {
	var (
		collateral, debt *big.Int
		hedges           []account.HedgePosition
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := m.deps.Reader.ReadContract(gctx, lensContract(s), "getAssetData", s.Position)
		if err != nil {
			return fmt.Errorf("read collateral: %w", err)
		}
		collateral, err = chain.FirstAmount(out)
		return err
	})
	g.Go(func() error {
		var err error
		debt, err = m.readDebt(gctx, s)
		return err
	})
	g.Go(func() error {
		var err error
		hedges, err = m.deps.Exchange.HedgePositions(gctx, s.Executor.Hex())
		if err != nil {
			return fmt.Errorf("read hedge positions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return sizing.Amounts{}, err
	}
	return m.deps.Sizer.MarginHedge(sizing.Inputs{
		Requested:  withdraw,
		Collateral: collateral,
		Debt:       debt,
		Hedges:     hedges,
		HedgeCoin:  s.HedgeCoin,
	})
}

// PartialClose repays a proportional debt share and withdraws collateral. The
// part of the debt share not already held by the executor is bought with
// collateral through the aggregator.
func (m *MarginHedge) PartialClose(ctx context.Context, s Strategy, withdraw *big.Int) (TxResult, error) {
	const op = "partialClosePosition"
	amounts, err := m.PartialCloseAmounts(ctx, s, withdraw)
	if err != nil {
		return TxResult{}, stepErr(s, op, err)
	}
	held, err := m.deps.Reader.TokenBalance(ctx, s.DebtAsset, s.Executor)
	if err != nil {
		return TxResult{}, stepErr(s, op, fmt.Errorf("read executor debt balance: %w", err))
	}
	// TODO: the executor balance is in debt-token units and subtracted as is;
	// the vault UI scaled it by 1e18 first. Audit which scale DebtToRepay uses.
	uncovered := new(big.Int).Sub(amounts.DebtToRepay, held)
	calldata := []byte{}
	var q *quote.Quote
	if uncovered.Sign() > 0 {
		resolved, err := m.deps.Quotes.ResolveQuote(ctx, quote.Request{
			InputToken:  s.CollateralAsset.Hex(),
			OutputToken: s.DebtAsset.Hex(),
			OrderType:   quote.OrderBuy,
			Amount:      new(big.Int).Add(uncovered, m.buffer()),
			UserAddress: s.Position.Hex(),
		})
		if err != nil {
			return TxResult{}, stepErr(s, op, fmt.Errorf("repay quote: %w", err))
		}
		calldata = resolved.Calldata
		q = &resolved
	}
	m.log.Info("partial close",
		zap.String("strategy", s.ID),
		zap.String("withdraw", amounts.LendingPositionToRemove.String()),
		zap.String("debt", amounts.DebtToRepay.String()),
		zap.String("hedge", amounts.HedgeSizeToRemove.String()),
	)
	res, err := transact(ctx, m.deps.Wallet, s, s.executor(), op, amounts.DebtToRepay, amounts.LendingPositionToRemove, calldata)
	if err != nil {
		return TxResult{}, err
	}
	res.Amounts = &amounts
	res.Quote = q
	return res, nil
}

// FullClose waits for a quote that covers the live debt, then unwinds.
func (m *MarginHedge) FullClose(ctx context.Context, s Strategy) (TxResult, error) {
	const op = "closeLeveragePosition"
	q, err := m.deps.Quotes.ResolveSufficientQuote(ctx, quote.Request{
		InputToken:  s.CollateralAsset.Hex(),
		OutputToken: s.DebtAsset.Hex(),
		OrderType:   quote.OrderBuy,
		UserAddress: s.Position.Hex(),
	}, func(ctx context.Context) (*big.Int, error) {
		return m.readDebt(ctx, s)
	})
	if err != nil {
		return TxResult{}, stepErr(s, op, err)
	}
	res, err := transact(ctx, m.deps.Wallet, s, s.executor(), op, s.CollateralAsset, new(big.Int), new(big.Int), q.Calldata)
	if err != nil {
		return TxResult{}, err
	}
	res.Quote = &q
	return res, nil
}

func (m *MarginHedge) Borrow(ctx context.Context, s Strategy, amount *big.Int) (TxResult, error) {
	const op = "borrowUSDT"
	if !nonZero(amount) {
		return skipped(op), nil
	}
	res, err := transact(ctx, m.deps.Wallet, s, s.executor(), op, amount)
	if err != nil {
		return TxResult{}, err
	}
	res.Amount = new(big.Int).Set(amount)
	return res, nil
}

// RepayDebt repays through partialClosePosition without withdrawing collateral.
func (m *MarginHedge) RepayDebt(ctx context.Context, s Strategy, amount *big.Int) (TxResult, error) {
	const op = "partialClosePosition"
	if amount == nil {
		held, err := m.deps.Reader.TokenBalance(ctx, s.DebtAsset, s.Executor)
		if err != nil {
			return TxResult{}, stepErr(s, op, fmt.Errorf("read executor debt balance: %w", err))
		}
		amount = held
	}
	if !nonZero(amount) {
		return skipped(op), nil
	}
	res, err := transact(ctx, m.deps.Wallet, s, s.executor(), op, amount, new(big.Int), []byte{})
	if err != nil {
		return TxResult{}, err
	}
	res.Amount = new(big.Int).Set(amount)
	return res, nil
}

func (m *MarginHedge) readDebt(ctx context.Context, s Strategy) (*big.Int, error) {
	out, err := m.deps.Reader.ReadContract(ctx, lensContract(s), "getDebtData", s.Position)
	if err != nil {
		return nil, fmt.Errorf("read debt: %w", err)
	}
	return chain.FirstAmount(out)
}

func (m *MarginHedge) buffer() *big.Int {
	if m.deps.DebtBuffer == nil {
		return new(big.Int)
	}
	return m.deps.DebtBuffer
}
