// Package strategy executes leveraged-position operations for lending-loop and
// margin-hedge executors and the hedge-venue primitives both share.
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

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Adapter is implemented once per strategy kind. Every operation submits at
// most one transaction and returns after its receipt.
type Adapter interface {
	Kind() Kind
	OpenLeveragedPosition(ctx context.Context, s Strategy) (TxResult, error)
	PartialClose(ctx context.Context, s Strategy, withdraw *big.Int) (TxResult, error)
	FullClose(ctx context.Context, s Strategy) (TxResult, error)
	Borrow(ctx context.Context, s Strategy, amount *big.Int) (TxResult, error)
	// RepayDebt repays amount, or the executor's whole debt-token balance when nil.
	RepayDebt(ctx context.Context, s Strategy, amount *big.Int) (TxResult, error)
}

type Reader interface {
	ReadContract(ctx context.Context, contract chain.Contract, method string, args ...any) ([]any, error)
	ReadBig(ctx context.Context, contract chain.Contract, method string, args ...any) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

type Transactor interface {
	Transact(ctx context.Context, contract chain.Contract, method string, args ...any) (chain.Receipt, error)
}

type Exchange interface {
	HedgePositions(ctx context.Context, user string) ([]account.HedgePosition, error)
	Balances(ctx context.Context, user string) (account.Balances, error)
	Mid(ctx context.Context, coin string) (decimal.Decimal, error)
}

type QuoteResolver interface {
	ResolveQuote(ctx context.Context, req quote.Request) (quote.Quote, error)
	ResolveSufficientQuote(ctx context.Context, req quote.Request, debt quote.DebtSource) (quote.Quote, error)
}

// Deps are the collaborators shared by the adapters and the venue.
type Deps struct {
	Reader             Reader
	Wallet             Transactor
	Exchange           Exchange
	Quotes             QuoteResolver
	Prices             price.Oracle
	Sizer              sizing.Calculator
	DebtBuffer         *big.Int
	CollateralDecimals int32
	Log                *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// NewAdapter returns the adapter for kind.
func NewAdapter(kind Kind, deps Deps) (Adapter, error) {
	switch kind {
	case KindLendingLoop:
		return NewLendingLoop(deps), nil
	case KindMarginHedge:
		return NewMarginHedge(deps), nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
}

func transact(ctx context.Context, wallet Transactor, s Strategy, contract chain.Contract, method string, args ...any) (TxResult, error) {
	receipt, err := wallet.Transact(ctx, contract, method, args...)
	if err != nil {
		return TxResult{}, stepErr(s, method, err)
	}
	return fromReceipt(method, receipt), nil
}

func nonZero(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
