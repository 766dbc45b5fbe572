// Package price reads USD token prices from Pyth Hermes or the GlueX
// exchange-rate service.
package price

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// Oracle returns the USD price of one whole token.
type Oracle interface {
	Price(ctx context.Context, token string) (decimal.Decimal, error)
}

// USDValue converts a base-unit amount with the given decimals into USD.
func USDValue(amount *big.Int, decimals int32, px decimal.Decimal) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals).Mul(px)
}

// ExtraExposure is the additional USD notional a position takes on when its
// collateral value is levered by leverageBps.
func ExtraExposure(collateral *big.Int, decimals int32, px decimal.Decimal, leverageBps int64) decimal.Decimal {
	value := USDValue(collateral, decimals, px)
	levered := value.Mul(decimal.NewFromInt(leverageBps)).Div(decimal.NewFromInt(10000))
	return levered.Sub(value)
}
