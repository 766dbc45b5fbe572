// Package app wires the engine's components and exposes the operations the CLI runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hl-vault-engine/internal/account"
	"hl-vault-engine/internal/alerts"
	"hl-vault-engine/internal/chain"
	"hl-vault-engine/internal/config"
	"hl-vault-engine/internal/failure"
	"hl-vault-engine/internal/hl/rest"
	"hl-vault-engine/internal/hl/ws"
	"hl-vault-engine/internal/metrics"
	"hl-vault-engine/internal/plan"
	"hl-vault-engine/internal/price"
	"hl-vault-engine/internal/quote"
	"hl-vault-engine/internal/rebalance"
	"hl-vault-engine/internal/retry"
	"hl-vault-engine/internal/sizing"
	"hl-vault-engine/internal/state"
	"hl-vault-engine/internal/state/sqlite"
	"hl-vault-engine/internal/strategy"
	"hl-vault-engine/internal/timescale"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrPlanInFlight rejects a second plan for a strategy that is already executing one.
	ErrPlanInFlight = errors.New("plan already in flight for strategy")
	// ErrNoRebalanceNeeded is returned by a rebalance request when the hedge P&L is
	// inside the threshold and no explicit magnitude was given.
	ErrNoRebalanceNeeded = errors.New("no rebalance needed")
	ErrUnknownStrategy   = errors.New("unknown strategy")
)

// Components are the collaborators an App runs against. New builds the live
// set; tests assemble fakes.
type Components struct {
	Exchange  strategy.Exchange
	Reader    strategy.Reader
	Wallet    strategy.Transactor
	Quotes    strategy.QuoteResolver
	Prices    price.Oracle
	Store     state.Store
	Alerts    alerts.Sender
	Timescale *timescale.Writer
	Metrics   *metrics.Metrics
	WS        *ws.Client
}

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	deps      strategy.Deps
	venue     *strategy.Venue
	detector  *rebalance.Detector
	sequencer *plan.Sequencer
	store     state.Store
	notifier  *alerts.Notifier
	timescale *timescale.Writer
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	ws        *ws.Client
	closers   []func() error

	mu       sync.Mutex
	inFlight map[string]string
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	closers := []func() error{store.Close}

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	eth, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	closers = append(closers, func() error { eth.Close(); return nil })

	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, log)
	gluex := quote.NewGlueX(quote.GlueXConfig{
		BaseURL:   cfg.Quote.BaseURL,
		ChainName: cfg.Quote.ChainName,
		APIKey:    config.Secret(cfg.Quote.APIKeyEnv),
		PID:       config.Secret(cfg.Quote.PIDEnv),
		Timeout:   cfg.Quote.Timeout,
	}, log)
	resolver := quote.NewResolver(gluex, quote.ResolverConfig{
		MaxAttempts:           cfg.Quote.MaxAttempts,
		RetryBackoff:          cfg.Quote.RetryBackoff,
		SufficientMaxAttempts: cfg.Quote.SufficientMaxAttempts,
		SufficientBackoff:     cfg.Quote.SufficientBackoff,
		DebtBuffer:            big.NewInt(cfg.Quote.DebtBuffer),
	}, m, log)

	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		log.Warn("timescale disabled", zap.Error(err))
		writer = nil
	}
	if writer != nil {
		writer.Start(ctx)
		closers = append(closers, writer.Close)
	}

	telegramCfg := cfg.Telegram
	if telegramCfg.Token == "" {
		telegramCfg.Token = config.Secret("TELEGRAM_BOT_TOKEN")
	}

	a := Assemble(cfg, log, Components{
		Exchange:  account.New(restClient, log),
		Reader:    chain.NewClient(eth, log),
		Wallet:    newWallet(eth, cfg, m, log),
		Quotes:    resolver,
		Prices:    newOracle(cfg, log),
		Store:     store,
		Alerts:    alerts.NewTelegram(telegramCfg, log),
		Timescale: writer,
		Metrics:   m,
		WS:        ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log),
	})
	a.prom = prom
	a.closers = closers
	return a, nil
}

// Assemble builds an App over the given components.
func Assemble(cfg *config.Config, log *zap.Logger, c Components) *App {
	if log == nil {
		log = zap.NewNop()
	}
	m := metrics.OrNoop(c.Metrics)
	deps := strategy.Deps{
		Reader:             c.Reader,
		Wallet:             c.Wallet,
		Exchange:           c.Exchange,
		Quotes:             c.Quotes,
		Prices:             c.Prices,
		Sizer:              sizing.NewCalculator(cfg.Sizing.LeverageBps, cfg.Sizing.HedgeDivisor, cfg.Sizing.CollateralDecimals, cfg.Sizing.HedgeSizeDecimals),
		DebtBuffer:         big.NewInt(cfg.Quote.DebtBuffer),
		CollateralDecimals: cfg.Sizing.CollateralDecimals,
		Log:                log,
	}
	a := &App{
		cfg:       cfg,
		log:       log,
		deps:      deps,
		venue:     strategy.NewVenue(deps, cfg.Venue),
		detector:  rebalance.NewDetector(c.Exchange, decimal.NewFromFloat(cfg.Rebalance.ThresholdValue()), log),
		store:     c.Store,
		notifier:  alerts.NewNotifier(c.Alerts, log),
		timescale: c.Timescale,
		metrics:   m,
		ws:        c.WS,
		inFlight:  make(map[string]string),
	}
	a.sequencer = plan.NewSequencer(log, m, a.savePlan, a.notifier.PlanObserver())
	if c.Timescale != nil {
		a.sequencer.Subscribe(c.Timescale.PlanObserver())
	}
	return a
}

// Subscribe registers an observer for every plan this App runs.
func (a *App) Subscribe(obs plan.Observer) {
	a.sequencer.Subscribe(obs)
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) Strategy(id string) (strategy.Strategy, error) {
	cfg, ok := a.cfg.Strategy(id)
	if !ok {
		return strategy.Strategy{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	return strategy.FromConfig(cfg), nil
}

// Detect classifies the strategy's primary hedge. A strategy without an open
// hedge reports no rebalance.
func (a *App) Detect(ctx context.Context, strategyID string) (rebalance.Decision, error) {
	s, err := a.Strategy(strategyID)
	if err != nil {
		return rebalance.Decision{}, err
	}
	decision, err := a.detector.DetectOrNone(ctx, s.Executor.Hex(), s.HedgeCoin)
	if err != nil {
		return rebalance.Decision{}, err
	}
	a.recordDecision(ctx, s.ID, decision)
	return decision, nil
}

func (a *App) recordDecision(ctx context.Context, strategyID string, d rebalance.Decision) {
	if d.NeedsRebalancing {
		a.metrics.RebalanceSignals.Inc()
		a.notifier.Rebalance(strategyID, d)
	}
	if err := state.SaveDecision(ctx, a.store, strategyID, d, time.Now().UTC()); err != nil {
		a.log.Warn("decision save failed", zap.String("strategy", strategyID), zap.Error(err))
	}
}

// LastPlan returns the most recent plan recorded for a strategy.
func (a *App) LastPlan(ctx context.Context, strategyID string) (plan.Snapshot, bool, error) {
	return state.LastPlan(ctx, a.store, strategyID)
}

// LastDecision returns the rebalance decision recorded by the latest check,
// unless a plan has acted on it since.
func (a *App) LastDecision(ctx context.Context, strategyID string) (state.DecisionRecord, bool, error) {
	return state.LoadDecision(ctx, a.store, strategyID)
}

// History lists finished plans for a strategy, newest first.
func (a *App) History(ctx context.Context, strategyID string, limit int) ([]plan.Snapshot, error) {
	return state.ListPlans(ctx, a.store, strategyID, limit)
}

func (a *App) savePlan(s plan.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := state.SavePlan(ctx, a.store, s); err != nil {
		a.log.Warn("plan save failed", zap.String("plan_id", s.ID), zap.Error(err))
	}
}

func (a *App) acquire(strategyID, planID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if running, ok := a.inFlight[strategyID]; ok {
		return fmt.Errorf("%w: %s is running %s", ErrPlanInFlight, strategyID, running)
	}
	a.inFlight[strategyID] = planID
	return nil
}

func (a *App) release(strategyID string) {
	a.mu.Lock()
	delete(a.inFlight, strategyID)
	a.mu.Unlock()
}

type missingWallet struct {
	env string
}

func (m missingWallet) Transact(ctx context.Context, contract chain.Contract, method string, args ...any) (chain.Receipt, error) {
	return chain.Receipt{}, failure.Configf("%s is not set; cannot send %s", m.env, method)
}

func newWallet(eth *ethclient.Client, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) strategy.Transactor {
	key := config.Secret(cfg.Chain.PrivateKeyEnv)
	if key == "" {
		log.Warn("no signing key; transactions disabled", zap.String("env", cfg.Chain.PrivateKeyEnv))
		return missingWallet{env: cfg.Chain.PrivateKeyEnv}
	}
	wallet, err := chain.NewWallet(eth, key, cfg.Chain.ChainID, cfg.Chain.ConfirmTimeout, m, log)
	if err != nil {
		log.Warn("signing key rejected; transactions disabled", zap.Error(err))
		return missingWallet{env: cfg.Chain.PrivateKeyEnv}
	}
	log.Info("wallet ready", zap.String("address", wallet.Address().Hex()))
	return wallet
}

func newOracle(cfg *config.Config, log *zap.Logger) price.Oracle {
	policy := retry.Policy{MaxAttempts: cfg.Price.MaxAttempts, Backoff: cfg.Price.RetryBackoff}
	if strings.EqualFold(cfg.Price.Source, config.PriceSourceHermes) {
		return price.NewHermes(cfg.Price.HermesURL, cfg.Price.Feeds, cfg.Price.Timeout, policy, log)
	}
	return price.NewExchangeRates(price.RatesConfig{
		BaseURL:       cfg.Price.RatesURL,
		Chain:         cfg.Quote.ChainName,
		QuoteToken:    cfg.Price.QuoteToken,
		QuoteDecimals: cfg.Price.QuoteDecimals,
		Decimals:      cfg.Price.Decimals,
		Timeout:       cfg.Price.Timeout,
	}, policy, log)
}
