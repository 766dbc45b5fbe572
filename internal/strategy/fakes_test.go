package strategy

import (
	"context"
	"errors"
	"math/big"

	"hl-vault-engine/internal/account"
	"hl-vault-engine/internal/chain"
	"hl-vault-engine/internal/config"
	"hl-vault-engine/internal/quote"
	"hl-vault-engine/internal/sizing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type lensEntry struct {
	Asset      common.Address
	Amount     *big.Int
	ValueInEth *big.Int
}

type fakeReader struct {
	outputs map[string][]any
	bigs    map[string]*big.Int
	balance *big.Int
	err     error
}

func (f *fakeReader) ReadContract(ctx context.Context, c chain.Contract, method string, args ...any) ([]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	out, ok := f.outputs[method]
	if !ok {
		return nil, errors.New("unexpected read " + method)
	}
	return out, nil
}

func (f *fakeReader) ReadBig(ctx context.Context, c chain.Contract, method string, args ...any) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.bigs[method]
	if !ok {
		return nil, errors.New("unexpected read " + method)
	}
	return v, nil
}

func (f *fakeReader) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if f.balance == nil {
		return new(big.Int), nil
	}
	return f.balance, nil
}

type call struct {
	contract chain.Contract
	method   string
	args     []any
}

type fakeWallet struct {
	calls []call
	err   error
}

func (f *fakeWallet) Transact(ctx context.Context, c chain.Contract, method string, args ...any) (chain.Receipt, error) {
	f.calls = append(f.calls, call{contract: c, method: method, args: args})
	if f.err != nil {
		return chain.Receipt{}, f.err
	}
	return chain.Receipt{Hash: common.HexToHash("0xabc"), Block: 42}, nil
}

type fakeExchange struct {
	hedges []account.HedgePosition
	mids   map[string]decimal.Decimal
}

func (f *fakeExchange) HedgePositions(ctx context.Context, user string) ([]account.HedgePosition, error) {
	return f.hedges, nil
}

func (f *fakeExchange) Balances(ctx context.Context, user string) (account.Balances, error) {
	return account.Balances{}, nil
}

func (f *fakeExchange) Mid(ctx context.Context, coin string) (decimal.Decimal, error) {
	mid, ok := f.mids[coin]
	if !ok {
		return decimal.Zero, errors.New("no mid for " + coin)
	}
	return mid, nil
}

type fakeQuotes struct {
	quote      quote.Quote
	err        error
	requests   []quote.Request
	sufficient int
	debt       *big.Int
}

func (f *fakeQuotes) ResolveQuote(ctx context.Context, req quote.Request) (quote.Quote, error) {
	f.requests = append(f.requests, req)
	return f.quote, f.err
}

func (f *fakeQuotes) ResolveSufficientQuote(ctx context.Context, req quote.Request, debt quote.DebtSource) (quote.Quote, error) {
	f.sufficient++
	d, err := debt(ctx)
	if err != nil {
		return quote.Quote{}, err
	}
	f.debt = d
	req.Amount = d
	f.requests = append(f.requests, req)
	return f.quote, f.err
}

type fakeOracle struct {
	px decimal.Decimal
}

func (f fakeOracle) Price(ctx context.Context, token string) (decimal.Decimal, error) {
	return f.px, nil
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func testStrategy(kind Kind) Strategy {
	return Strategy{
		ID:              "s1",
		Kind:            kind,
		Executor:        common.HexToAddress("0x1000000000000000000000000000000000000001"),
		Position:        common.HexToAddress("0x2000000000000000000000000000000000000002"),
		Lens:            common.HexToAddress("0x3000000000000000000000000000000000000003"),
		Pool:            common.HexToAddress("0x4000000000000000000000000000000000000004"),
		Vault:           common.HexToAddress("0x5000000000000000000000000000000000000005"),
		CollateralAsset: common.HexToAddress("0x6000000000000000000000000000000000000006"),
		DebtAsset:       common.HexToAddress("0x7000000000000000000000000000000000000007"),
		HedgeCoin:       "HYPE",
	}
}

type fixture struct {
	reader   *fakeReader
	wallet   *fakeWallet
	exchange *fakeExchange
	quotes   *fakeQuotes
	deps     Deps
}

func newFixture() *fixture {
	f := &fixture{
		reader: &fakeReader{outputs: map[string][]any{}, bigs: map[string]*big.Int{}},
		wallet: &fakeWallet{},
		exchange: &fakeExchange{
			hedges: []account.HedgePosition{{Coin: "HYPE", Size: decimal.NewFromInt(-50)}},
			mids:   map[string]decimal.Decimal{"HYPE": decimal.NewFromInt(25), "@166": decimal.RequireFromString("1.0005")},
		},
		quotes: &fakeQuotes{quote: quote.Quote{
			EffectiveInputAmount: big.NewInt(500),
			Calldata:             []byte{0xde, 0xad},
		}},
	}
	f.deps = Deps{
		Reader:             f.reader,
		Wallet:             f.wallet,
		Exchange:           f.exchange,
		Quotes:             f.quotes,
		Prices:             fakeOracle{px: decimal.NewFromInt(40)},
		Sizer:              sizing.NewCalculator(15000, 3, 18, 2),
		DebtBuffer:         big.NewInt(5),
		CollateralDecimals: 18,
	}
	return f
}

func testVenueConfig() config.VenueConfig {
	return config.VenueConfig{
		SlippageBps:   100,
		HedgeLeverage: 4,
		StableMidKey:  "@166",
		DebtDecimals:  6,
		CoreDecimals:  8,
	}
}
