// Package quote fetches swap routes from the aggregator and resolves quotes
// that cover a moving debt target.
package quote

import (
	"context"
	"math/big"
	"time"
)

type OrderType string

const (
	OrderBuy  OrderType = "BUY"
	OrderSell OrderType = "SELL"
)

// Request asks for a route. Amount is the output amount for BUY orders and the
// input amount for SELL orders, in base units.
type Request struct {
	InputToken  string
	OutputToken string
	OrderType   OrderType
	Amount      *big.Int
	UserAddress string
}

type Quote struct {
	InputToken            string
	OutputToken           string
	OrderType             OrderType
	RequestedAmount       *big.Int
	Calldata              []byte
	EffectiveInputAmount  *big.Int
	EffectiveOutputAmount *big.Int
	OutputAmount          *big.Int
	MinOutputAmount       *big.Int
	FetchedAt             time.Time
}

type Provider interface {
	Quote(ctx context.Context, req Request) (Quote, error)
}
