// Package account reads the executor's hedge-venue state: perp positions,
// spot and perp balances, and mid prices.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hl-vault-engine/internal/hl/rest"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HedgePosition is one perp position. Size is signed; shorts are negative.
type HedgePosition struct {
	Coin             string
	Size             decimal.Decimal
	EntryPrice       decimal.Decimal
	LiquidationPrice decimal.Decimal
	UnrealizedPnl    decimal.Decimal
}

// Balances is the executor's view across spot and perp sub-accounts.
type Balances struct {
	Spot             map[string]decimal.Decimal
	PerpWithdrawable decimal.Decimal
	AccountValue     decimal.Decimal
}

// SpotBalance returns the total spot balance of coin, zero when absent.
func (b Balances) SpotBalance(coin string) decimal.Decimal {
	if b.Spot == nil {
		return decimal.Zero
	}
	return b.Spot[coin]
}

type Client struct {
	rest *rest.Client
	log  *zap.Logger
}

func New(restClient *rest.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{rest: restClient, log: log}
}

func (c *Client) HedgePositions(ctx context.Context, user string) ([]HedgePosition, error) {
	if c.rest == nil {
		return nil, errors.New("rest client is required")
	}
	perp, err := c.rest.Info(ctx, rest.InfoRequest{Type: "clearinghouseState", User: normalizeAddr(user)})
	if err != nil {
		return nil, err
	}
	return parsePositions(perp), nil
}

func (c *Client) Balances(ctx context.Context, user string) (Balances, error) {
	if c.rest == nil {
		return Balances{}, errors.New("rest client is required")
	}
	user = normalizeAddr(user)
	spot, err := c.rest.Info(ctx, rest.InfoRequest{Type: "spotClearinghouseState", User: user})
	if err != nil {
		return Balances{}, err
	}
	perp, err := c.rest.Info(ctx, rest.InfoRequest{Type: "clearinghouseState", User: user})
	if err != nil {
		return Balances{}, err
	}
	return Balances{
		Spot:             parseBalances(spot),
		PerpWithdrawable: decimalOrZero(perp.Get("withdrawable")),
		AccountValue:     decimalOrZero(perp.Get("marginSummary.accountValue")),
	}, nil
}

// Mid returns the exchange mid for coin. Spot pairs use their "@index" key.
func (c *Client) Mid(ctx context.Context, coin string) (decimal.Decimal, error) {
	if c.rest == nil {
		return decimal.Zero, errors.New("rest client is required")
	}
	mids, err := c.rest.Info(ctx, rest.InfoRequest{Type: "allMids"})
	if err != nil {
		return decimal.Zero, err
	}
	raw, ok := mids.Map()[coin]
	if !ok {
		return decimal.Zero, fmt.Errorf("no mid for %s", coin)
	}
	mid, err := decimal.NewFromString(strings.TrimSpace(raw.String()))
	if err != nil {
		return decimal.Zero, fmt.Errorf("mid for %s: %w", coin, err)
	}
	if !mid.IsPositive() {
		return decimal.Zero, fmt.Errorf("mid for %s is not positive: %s", coin, mid)
	}
	return mid, nil
}

func normalizeAddr(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
