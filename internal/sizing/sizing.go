// Package sizing computes proportional partial-close amounts for leveraged
// positions.
package sizing

import (
	"fmt"
	"math/big"

	"hl-vault-engine/internal/account"
	"hl-vault-engine/internal/failure"

	"github.com/shopspring/decimal"
)

const bpsDenominator = 10000

// Inputs are the current on-chain and venue balances plus the requested unwind,
// all in base units of the collateral and debt assets.
type Inputs struct {
	Requested  *big.Int
	Collateral *big.Int
	Debt       *big.Int
	Hedges     []account.HedgePosition
	HedgeCoin  string
}

type Amounts struct {
	HedgeSizeToRemove       decimal.Decimal
	LendingPositionToRemove *big.Int
	DebtToRepay             *big.Int
}

type Calculator struct {
	LeverageBps        int64
	HedgeDivisor       int64
	CollateralDecimals int32
	HedgeSizeDecimals  int32
}

func NewCalculator(leverageBps, hedgeDivisor int64, collateralDecimals, hedgeSizeDecimals int32) Calculator {
	return Calculator{
		LeverageBps:        leverageBps,
		HedgeDivisor:       hedgeDivisor,
		CollateralDecimals: collateralDecimals,
		HedgeSizeDecimals:  hedgeSizeDecimals,
	}
}

// LendingLoop sizes a lending-loop unwind. The lending protocol repays debt on
// its own, so DebtToRepay is always zero.
func (c Calculator) LendingLoop(in Inputs) (Amounts, error) {
	lending, hedge, err := c.common(in)
	if err != nil {
		return Amounts{}, err
	}
	return Amounts{
		HedgeSizeToRemove:       hedge,
		LendingPositionToRemove: lending,
		DebtToRepay:             new(big.Int),
	}, nil
}

// MarginHedge sizes a margin-account unwind with a proportional debt share.
func (c Calculator) MarginHedge(in Inputs) (Amounts, error) {
	if in.Debt == nil || in.Debt.Sign() < 0 {
		return Amounts{}, fmt.Errorf("%w: debt balance missing", failure.ErrInsufficientData)
	}
	lending, hedge, err := c.common(in)
	if err != nil {
		return Amounts{}, err
	}
	debt := new(big.Int).Mul(lending, in.Debt)
	debt.Quo(debt, in.Collateral)
	return Amounts{
		HedgeSizeToRemove:       hedge,
		LendingPositionToRemove: lending,
		DebtToRepay:             minBig(debt, in.Debt),
	}, nil
}

func (c Calculator) common(in Inputs) (*big.Int, decimal.Decimal, error) {
	if in.Collateral == nil || in.Collateral.Sign() <= 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: no collateral supplied", failure.ErrInsufficientData)
	}
	if len(in.Hedges) == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: no open hedge position", failure.ErrInsufficientData)
	}
	if in.Requested == nil || in.Requested.Sign() <= 0 {
		return nil, decimal.Zero, fmt.Errorf("requested amount must be positive")
	}
	if c.LeverageBps < bpsDenominator || c.HedgeDivisor <= 0 {
		return nil, decimal.Zero, failure.Configf("leverage %d bps with hedge divisor %d", c.LeverageBps, c.HedgeDivisor)
	}

	lending := new(big.Int).Mul(in.Requested, big.NewInt(c.LeverageBps))
	lending.Quo(lending, big.NewInt(bpsDenominator))
	lending = minBig(lending, in.Collateral)

	current := currentHedge(in.Hedges, in.HedgeCoin)
	hedge := decimal.NewFromBigInt(lending, -c.CollateralDecimals).
		Div(decimal.NewFromInt(c.HedgeDivisor)).
		Truncate(c.HedgeSizeDecimals)
	if hedge.GreaterThan(current) {
		hedge = current
	}
	return lending, hedge, nil
}

func currentHedge(hedges []account.HedgePosition, coin string) decimal.Decimal {
	for _, h := range hedges {
		if h.Coin == coin {
			return h.Size.Abs()
		}
	}
	return hedges[0].Size.Abs()
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) > 0 {
		return new(big.Int).Set(b)
	}
	return new(big.Int).Set(a)
}
