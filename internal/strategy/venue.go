package strategy

import (
	"context"
	"fmt"
	"math/big"

	"hl-vault-engine/internal/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Venue prices are truncated to cents and sizes to two decimals before they are
// scaled to the executor's fixed-point arguments.
const venueDisplayDecimals = 2

// perpUSDDecimals is the scale of USD class transfers.
const perpUSDDecimals = 6

// Venue moves funds between the EVM executor, spot and perp on the hedge venue.
// All calls go through the executor contract.
type Venue struct {
	deps Deps
	cfg  config.VenueConfig
	log  *zap.Logger
}

func NewVenue(deps Deps, cfg config.VenueConfig) *Venue {
	return &Venue{deps: deps, cfg: cfg, log: deps.logger().With(zap.String("component", "venue"))}
}

// TransferToCore bridges debt stable from the executor to the venue. A nil
// amount moves the executor's whole balance.
func (v *Venue) TransferToCore(ctx context.Context, s Strategy, amount *big.Int) (TxResult, error) {
	if amount == nil {
		return transact(ctx, v.deps.Wallet, s, s.executor(), "transferUSDT2Core")
	}
	if amount.Sign() <= 0 {
		return skipped("transferUSDT2Core"), nil
	}
	res, err := transact(ctx, v.deps.Wallet, s, s.executor(), "transferUSDT2Core0", amount)
	if err != nil {
		return TxResult{}, err
	}
	res.Amount = new(big.Int).Set(amount)
	return res, nil
}

// SwapStable trades size units on the stable pair. buyDebtStable buys the debt
// stable with the quote coin; otherwise the debt stable is sold.
func (v *Venue) SwapStable(ctx context.Context, s Strategy, buyDebtStable bool, size decimal.Decimal) (TxResult, error) {
	const op = "swapUSDT2USDC"
	size = size.Truncate(venueDisplayDecimals)
	if !size.IsPositive() {
		return skipped(op), nil
	}
	mid, err := v.deps.Exchange.Mid(ctx, v.cfg.StableMidKey)
	if err != nil {
		return TxResult{}, stepErr(s, op, fmt.Errorf("stable mid: %w", err))
	}
	px, sz, err := v.corePriceSize(v.withSlippage(mid, buyDebtStable), size)
	if err != nil {
		return TxResult{}, stepErr(s, op, err)
	}
	return transact(ctx, v.deps.Wallet, s, s.executor(), op, buyDebtStable, px, sz)
}

// TransferUSDClass moves USD between spot and perp.
func (v *Venue) TransferUSDClass(ctx context.Context, s Strategy, amount decimal.Decimal, toPerp bool) (TxResult, error) {
	const op = "transferUSDCFromSpotToPerp"
	amount = amount.Truncate(venueDisplayDecimals)
	if !amount.IsPositive() {
		return skipped(op), nil
	}
	ntl, err := toUint64(amount, perpUSDDecimals)
	if err != nil {
		return TxResult{}, stepErr(s, op, err)
	}
	return transact(ctx, v.deps.Wallet, s, s.executor(), op, ntl, toPerp)
}

// OpenShort shorts the hedge coin with margin USD at the configured leverage.
func (v *Venue) OpenShort(ctx context.Context, s Strategy, margin decimal.Decimal) (TxResult, error) {
	const op = "openHypeShort"
	if !margin.IsPositive() {
		return skipped(op), nil
	}
	mid, err := v.deps.Exchange.Mid(ctx, s.HedgeCoin)
	if err != nil {
		return TxResult{}, stepErr(s, op, fmt.Errorf("hedge mid: %w", err))
	}
	leverage := v.cfg.HedgeLeverage
	if leverage <= 0 {
		leverage = 1
	}
	size := margin.Mul(decimal.NewFromInt(leverage)).Div(mid).Truncate(venueDisplayDecimals)
	if !size.IsPositive() {
		return skipped(op), nil
	}
	px, sz, err := v.corePriceSize(v.withSlippage(mid, false), size)
	if err != nil {
		return TxResult{}, stepErr(s, op, err)
	}
	v.log.Info("opening hedge", zap.String("strategy", s.ID), zap.String("size", size.String()), zap.String("mid", mid.String()))
	return transact(ctx, v.deps.Wallet, s, s.executor(), op, false, px, sz)
}

// CloseShort buys back size units of the hedge. The sign of size is ignored.
func (v *Venue) CloseShort(ctx context.Context, s Strategy, size decimal.Decimal) (TxResult, error) {
	const op = "closeHypeShort"
	size = size.Abs().Truncate(venueDisplayDecimals)
	if !size.IsPositive() {
		return skipped(op), nil
	}
	mid, err := v.deps.Exchange.Mid(ctx, s.HedgeCoin)
	if err != nil {
		return TxResult{}, stepErr(s, op, fmt.Errorf("hedge mid: %w", err))
	}
	px, sz, err := v.corePriceSize(v.withSlippage(mid, true), size)
	if err != nil {
		return TxResult{}, stepErr(s, op, err)
	}
	v.log.Info("closing hedge", zap.String("strategy", s.ID), zap.String("size", size.String()))
	return transact(ctx, v.deps.Wallet, s, s.executor(), op, px, sz)
}

// TransferToEVM bridges amount of debt stable from spot back to the executor.
func (v *Venue) TransferToEVM(ctx context.Context, s Strategy, amount decimal.Decimal) (TxResult, error) {
	const op = "transferUSDT2Core0"
	amount = amount.Truncate(venueDisplayDecimals)
	if !amount.IsPositive() {
		return skipped(op), nil
	}
	wei := amount.Shift(v.cfg.CoreDecimals).Truncate(0).BigInt()
	res, err := transact(ctx, v.deps.Wallet, s, s.executor(), op, wei)
	if err != nil {
		return TxResult{}, err
	}
	res.Amount = wei
	return res, nil
}

func (v *Venue) withSlippage(mid decimal.Decimal, isBuy bool) decimal.Decimal {
	slip := decimal.NewFromInt(v.cfg.SlippageBps).Div(decimal.NewFromInt(10000))
	if isBuy {
		return mid.Mul(decimal.NewFromInt(1).Add(slip)).Truncate(venueDisplayDecimals)
	}
	return mid.Mul(decimal.NewFromInt(1).Sub(slip)).Truncate(venueDisplayDecimals)
}

func (v *Venue) corePriceSize(px, size decimal.Decimal) (uint64, uint64, error) {
	if !px.IsPositive() {
		return 0, 0, fmt.Errorf("limit price %s is not positive", px)
	}
	p, err := toUint64(px, v.cfg.CoreDecimals)
	if err != nil {
		return 0, 0, err
	}
	sz, err := toUint64(size, v.cfg.CoreDecimals)
	if err != nil {
		return 0, 0, err
	}
	return p, sz, nil
}

func toUint64(d decimal.Decimal, decimals int32) (uint64, error) {
	scaled := d.Shift(decimals).Truncate(0).BigInt()
	if scaled.Sign() < 0 || !scaled.IsUint64() {
		return 0, fmt.Errorf("amount %s does not fit a uint64 at %d decimals", d, decimals)
	}
	return scaled.Uint64(), nil
}
