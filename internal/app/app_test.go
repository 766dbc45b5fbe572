package app

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"hl-vault-engine/internal/account"
	"hl-vault-engine/internal/chain"
	"hl-vault-engine/internal/config"
	"hl-vault-engine/internal/failure"
	"hl-vault-engine/internal/plan"
	"hl-vault-engine/internal/quote"
	"hl-vault-engine/internal/state/sqlite"
	"hl-vault-engine/internal/strategy"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const testConfig = `
metrics:
  enabled: false
strategies:
  - id: margin
    kind: margin_hedge
    executor: "0x1000000000000000000000000000000000000001"
    position: "0x2000000000000000000000000000000000000002"
    lens: "0x3000000000000000000000000000000000000003"
    vault: "0x5000000000000000000000000000000000000005"
    collateral_asset: "0x6000000000000000000000000000000000000006"
    debt_asset: "0x7000000000000000000000000000000000000007"
  - id: lending
    kind: lending_loop
    executor: "0x1100000000000000000000000000000000000011"
    pool: "0x4000000000000000000000000000000000000004"
    collateral_asset: "0x6000000000000000000000000000000000000006"
    debt_asset: "0x7000000000000000000000000000000000000007"
`

type lensEntry struct {
	Asset      common.Address
	Amount     *big.Int
	ValueInEth *big.Int
}

type fakeExchange struct {
	mu       sync.Mutex
	hedges   []account.HedgePosition
	balances account.Balances
	mids     map[string]decimal.Decimal
}

func (f *fakeExchange) HedgePositions(ctx context.Context, user string) ([]account.HedgePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hedges, nil
}

func (f *fakeExchange) Balances(ctx context.Context, user string) (account.Balances, error) {
	return f.balances, nil
}

func (f *fakeExchange) Mid(ctx context.Context, coin string) (decimal.Decimal, error) {
	mid, ok := f.mids[coin]
	if !ok {
		return decimal.Zero, errors.New("no mid for " + coin)
	}
	return mid, nil
}

type fakeReader struct {
	outputs map[string][]any
	balance *big.Int
}

func (f *fakeReader) ReadContract(ctx context.Context, c chain.Contract, method string, args ...any) ([]any, error) {
	out, ok := f.outputs[method]
	if !ok {
		return nil, errors.New("unexpected read " + method)
	}
	return out, nil
}

func (f *fakeReader) ReadBig(ctx context.Context, c chain.Contract, method string, args ...any) (*big.Int, error) {
	return nil, errors.New("unexpected read " + method)
}

func (f *fakeReader) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if f.balance == nil {
		return new(big.Int), nil
	}
	return f.balance, nil
}

type sentTx struct {
	method string
	args   []any
}

type fakeWallet struct {
	mu      sync.Mutex
	sent    []sentTx
	failOn  map[string]error
	entered chan struct{}
	release chan struct{}
}

func (f *fakeWallet) Transact(ctx context.Context, c chain.Contract, method string, args ...any) (chain.Receipt, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentTx{method: method, args: args})
	if err := f.failOn[method]; err != nil {
		return chain.Receipt{}, err
	}
	return chain.Receipt{Hash: common.BigToHash(big.NewInt(int64(len(f.sent)))), Block: uint64(len(f.sent))}, nil
}

func (f *fakeWallet) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, tx := range f.sent {
		out[i] = tx.method
	}
	return out
}

type fakeQuotes struct{}

func (fakeQuotes) ResolveQuote(ctx context.Context, req quote.Request) (quote.Quote, error) {
	return quote.Quote{EffectiveInputAmount: req.Amount, Calldata: []byte{0x01}}, nil
}

func (fakeQuotes) ResolveSufficientQuote(ctx context.Context, req quote.Request, debt quote.DebtSource) (quote.Quote, error) {
	d, err := debt(ctx)
	if err != nil {
		return quote.Quote{}, err
	}
	return quote.Quote{EffectiveInputAmount: d, Calldata: []byte{0x02}}, nil
}

type recordingSender struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingSender) Send(ctx context.Context, message string) error {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()
	return nil
}

type harness struct {
	app      *App
	exchange *fakeExchange
	reader   *fakeReader
	wallet   *fakeWallet
	alerts   *recordingSender
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		exchange: &fakeExchange{
			hedges: []account.HedgePosition{{Coin: "HYPE", Size: decimal.NewFromInt(-50), UnrealizedPnl: decimal.RequireFromString("12.5")}},
			mids:   map[string]decimal.Decimal{"HYPE": decimal.NewFromInt(25), "@166": decimal.RequireFromString("1.0005")},
		},
		reader: &fakeReader{outputs: map[string][]any{}},
		wallet: &fakeWallet{failOn: map[string]error{}},
		alerts: &recordingSender{},
	}
	h.app = Assemble(cfg, zap.NewNop(), Components{
		Exchange: h.exchange,
		Reader:   h.reader,
		Wallet:   h.wallet,
		Quotes:   fakeQuotes{},
		Store:    store,
		Alerts:   h.alerts,
	})
	return h
}

func assertMethods(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRebalanceUpsideFromDetectedSignal(t *testing.T) {
	h := newHarness(t)
	snap, err := h.app.Execute(context.Background(), Request{StrategyID: "margin", Action: plan.ActionRebalance})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != plan.StatusCompleted || snap.Direction != plan.DirectionUpside {
		t.Fatalf("unexpected plan %s %s", snap.Status, snap.Direction)
	}
	assertMethods(t, h.wallet.methods(), "borrowUSDT", "transferUSDT2Core0", "swapUSDT2USDC", "transferUSDCFromSpotToPerp")

	sent := h.wallet.sent
	if got := sent[0].args[0].(*big.Int); got.Cmp(big.NewInt(12500000)) != 0 {
		t.Fatalf("expected borrow 12.5 in debt units, got %s", got)
	}
	if sent[2].args[0] != false || sent[2].args[1].(uint64) != 99000000 || sent[2].args[2].(uint64) != 1250000000 {
		t.Fatalf("unexpected swap args %v", sent[2].args)
	}
	if sent[3].args[0].(uint64) != 12500000 || sent[3].args[1] != true {
		t.Fatalf("unexpected usd class args %v", sent[3].args)
	}

	last, ok, err := h.app.LastPlan(context.Background(), "margin")
	if err != nil || !ok || last.ID != snap.ID || last.Status != plan.StatusCompleted {
		t.Fatalf("expected completed plan in store, got %+v ok=%v err=%v", last, ok, err)
	}
	if len(h.alerts.messages) != 2 {
		t.Fatalf("expected signal and plan alerts, got %v", h.alerts.messages)
	}
}

func TestCompletedRebalanceClearsDecisionAndLandsInHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.app.Detect(ctx, "margin"); err != nil {
		t.Fatalf("detect: %v", err)
	}
	rec, ok, err := h.app.LastDecision(ctx, "margin")
	if err != nil || !ok || !rec.Needs || rec.Direction != "UPSIDE" {
		t.Fatalf("expected recorded upside decision, got %+v ok=%v err=%v", rec, ok, err)
	}

	snap, err := h.app.Execute(ctx, Request{StrategyID: "margin", Action: plan.ActionRebalance})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, err := h.app.LastDecision(ctx, "margin"); ok || err != nil {
		t.Fatalf("expected decision cleared after rebalance, ok=%v err=%v", ok, err)
	}
	plans, err := h.app.History(ctx, "margin", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(plans) != 1 || plans[0].ID != snap.ID || plans[0].Status != plan.StatusCompleted {
		t.Fatalf("expected completed plan in history, got %+v", plans)
	}
}

func TestRebalanceWithoutSignal(t *testing.T) {
	h := newHarness(t)
	h.exchange.hedges[0].UnrealizedPnl = decimal.RequireFromString("11.99")

	_, err := h.app.Execute(context.Background(), Request{StrategyID: "margin", Action: plan.ActionRebalance})
	if !errors.Is(err, ErrNoRebalanceNeeded) {
		t.Fatalf("expected no rebalance, got %v", err)
	}
	if len(h.wallet.methods()) != 0 {
		t.Fatalf("expected no transactions")
	}
}

func TestRebalanceWithDirectionBelowThreshold(t *testing.T) {
	h := newHarness(t)
	h.exchange.hedges[0].UnrealizedPnl = decimal.RequireFromString("-4")

	_, err := h.app.Execute(context.Background(), Request{StrategyID: "margin", Action: plan.ActionRebalance, Direction: plan.DirectionDownside})
	if !errors.Is(err, ErrNoRebalanceNeeded) {
		t.Fatalf("expected no rebalance without an explicit amount, got %v", err)
	}
	if len(h.wallet.methods()) != 0 {
		t.Fatalf("expected no transactions, got %v", h.wallet.methods())
	}
}

func TestRebalanceDownsideHaltsOnFailedSwap(t *testing.T) {
	h := newHarness(t)
	h.wallet.failOn["swapUSDT2USDC"] = failure.ErrTransactionFailed

	snap, err := h.app.Execute(context.Background(), Request{
		StrategyID: "margin",
		Action:     plan.ActionRebalance,
		Direction:  plan.DirectionDownside,
		Magnitude:  decimal.NewFromInt(20),
	})
	if !errors.Is(err, strategy.ErrStepFailed) || !errors.Is(err, failure.ErrTransactionFailed) {
		t.Fatalf("expected failed swap step, got %v", err)
	}
	if snap.Status != plan.StatusFailed {
		t.Fatalf("expected failed plan, got %s", snap.Status)
	}
	want := []plan.StepStatus{plan.StepCompleted, plan.StepFailed, plan.StepPending, plan.StepPending}
	for i, step := range snap.Steps {
		if step.Status != want[i] {
			t.Fatalf("step %d: expected %s, got %s", step.ID, want[i], step.Status)
		}
	}
	assertMethods(t, h.wallet.methods(), "transferUSDCFromSpotToPerp", "swapUSDT2USDC")
}

func TestCloseUsesLiveBalances(t *testing.T) {
	h := newHarness(t)
	h.exchange.balances = account.Balances{
		PerpWithdrawable: decimal.NewFromInt(40),
		Spot: map[string]decimal.Decimal{
			"USDC":  decimal.RequireFromString("39.5"),
			"USDT0": decimal.RequireFromString("39.1"),
		},
	}
	h.reader.balance = big.NewInt(39100000)
	h.reader.outputs["getDebtData"] = []any{[]lensEntry{{Amount: big.NewInt(1000)}}}

	snap, err := h.app.Execute(context.Background(), Request{StrategyID: "margin", Action: plan.ActionClose})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != plan.StatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	assertMethods(t, h.wallet.methods(),
		"closeHypeShort", "transferUSDCFromSpotToPerp", "swapUSDT2USDC", "transferUSDT2Core0", "partialClosePosition", "closeLeveragePosition")

	sent := h.wallet.sent
	if sent[0].args[1].(uint64) != 5000000000 {
		t.Fatalf("expected full hedge close of 50, got %v", sent[0].args[1])
	}
	if sent[1].args[0].(uint64) != 40000000 || sent[1].args[1] != false {
		t.Fatalf("unexpected perp withdrawal %v", sent[1].args)
	}
	if sent[2].args[2].(uint64) != 3950000000 {
		t.Fatalf("expected swap of the spot usdc balance, got %v", sent[2].args[2])
	}
	if got := sent[3].args[0].(*big.Int); got.Cmp(big.NewInt(3910000000)) != 0 {
		t.Fatalf("expected bridge of 39.1 at core decimals, got %s", got)
	}
}

func TestPartialCloseCarriesHedgeSize(t *testing.T) {
	h := newHarness(t)
	ether := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	collateral := new(big.Int).Mul(big.NewInt(100), ether)
	h.reader.outputs["getUserAccountData"] = []any{collateral, big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0)}

	withdraw := new(big.Int).Mul(big.NewInt(20), ether)
	snap, err := h.app.Execute(context.Background(), Request{StrategyID: "lending", Action: plan.ActionPartialClose, Withdraw: withdraw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != plan.StatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	assertMethods(t, h.wallet.methods(), "partialClosePosition", "closeHypeShort")
	if sz := h.wallet.sent[1].args[1].(uint64); sz != 1000000000 {
		t.Fatalf("expected hedge reduction of 10, got %d", sz)
	}
}

func TestPartialCloseNeedsAmount(t *testing.T) {
	h := newHarness(t)
	if _, err := h.app.Execute(context.Background(), Request{StrategyID: "lending", Action: plan.ActionPartialClose}); err == nil {
		t.Fatalf("expected error without withdraw amount")
	}
}

func TestSecondPlanRejectedWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.wallet.entered = make(chan struct{})
	h.wallet.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.app.Execute(context.Background(), Request{StrategyID: "lending", Action: plan.ActionOpen})
		done <- err
	}()
	<-h.wallet.entered

	if _, err := h.app.Execute(context.Background(), Request{StrategyID: "lending", Action: plan.ActionOpen}); !errors.Is(err, ErrPlanInFlight) {
		t.Fatalf("expected in-flight rejection, got %v", err)
	}
	// open-hedge has no perp balance and skips its transaction
	close(h.wallet.release)
	if err := <-done; err != nil {
		t.Fatalf("first plan failed: %v", err)
	}

	h.wallet.entered = nil
	if _, err := h.app.Execute(context.Background(), Request{StrategyID: "lending", Action: plan.ActionOpen}); err != nil {
		t.Fatalf("expected guard released, got %v", err)
	}
}

func TestUnknownStrategy(t *testing.T) {
	h := newHarness(t)
	if _, err := h.app.Execute(context.Background(), Request{StrategyID: "nope", Action: plan.ActionClose}); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected unknown strategy, got %v", err)
	}
	if _, err := h.app.Detect(context.Background(), "nope"); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected unknown strategy, got %v", err)
	}
}

func TestDetectWithoutHedgeIsNone(t *testing.T) {
	h := newHarness(t)
	h.exchange.hedges = nil
	d, err := h.app.Detect(context.Background(), "margin")
	if err != nil || d.NeedsRebalancing {
		t.Fatalf("expected no rebalance, got %+v %v", d, err)
	}
}

func TestHedgeUpdatesAlertOnDirectionChange(t *testing.T) {
	h := newHarness(t)
	tracker := newSignalTracker()
	update := func(pnl string) {
		h.app.onHedgeUpdate(context.Background(), "margin", "HYPE", []account.HedgePosition{
			{Coin: "HYPE", Size: decimal.NewFromInt(-50), UnrealizedPnl: decimal.RequireFromString(pnl)},
		}, tracker)
	}
	update("13")
	update("14")
	update("1")
	update("-13")
	if len(h.alerts.messages) != 2 {
		t.Fatalf("expected two alerts, got %v", h.alerts.messages)
	}
}
