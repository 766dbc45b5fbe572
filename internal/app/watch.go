package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"hl-vault-engine/internal/account"
	"hl-vault-engine/internal/rebalance"
	"hl-vault-engine/internal/timescale"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Watch streams the strategy's hedge state and raises an alert each time the
// rebalance direction changes into a signal. It blocks until ctx is done.
func (a *App) Watch(ctx context.Context, strategyID string) error {
	s, err := a.Strategy(strategyID)
	if err != nil {
		return err
	}
	if a.ws == nil {
		return errors.New("websocket client is required for watch")
	}
	defer a.ws.Close()

	// Seed from REST so a quiet stream still starts from a known state.
	if _, err := a.Detect(ctx, s.ID); err != nil {
		a.log.Warn("initial rebalance check failed", zap.Error(err))
	}

	watcher := account.NewWatcher(a.ws, s.Executor.Hex(), a.log)
	tracker := newSignalTracker()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx, func(positions []account.HedgePosition) {
			a.onHedgeUpdate(gctx, s.ID, s.HedgeCoin, positions, tracker)
		})
	})
	g.Go(func() error {
		return a.ServeMetrics(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) onHedgeUpdate(ctx context.Context, strategyID, coin string, positions []account.HedgePosition, tracker *signalTracker) {
	hedge, ok := rebalance.PrimaryHedge(positions, coin)
	if !ok {
		tracker.reset()
		return
	}
	decision := rebalance.Evaluate(hedge, a.detector.Threshold())
	a.timescale.EnqueueHedge(timescale.HedgeSnapshot{
		Time:             time.Now().UTC(),
		StrategyID:       strategyID,
		Coin:             hedge.Coin,
		Size:             hedge.Size.InexactFloat64(),
		EntryPrice:       hedge.EntryPrice.InexactFloat64(),
		LiquidationPrice: hedge.LiquidationPrice.InexactFloat64(),
		UnrealizedPnl:    hedge.UnrealizedPnl.InexactFloat64(),
		Direction:        string(decision.Direction),
	})
	if tracker.changed(decision.Direction) {
		a.recordDecision(ctx, strategyID, decision)
	}
}

// signalTracker remembers the last direction so a persisting signal alerts once.
type signalTracker struct {
	mu   sync.Mutex
	last rebalance.Direction
}

func newSignalTracker() *signalTracker {
	return &signalTracker{last: rebalance.DirectionNone}
}

func (t *signalTracker) changed(d rebalance.Direction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d == t.last {
		return false
	}
	t.last = d
	return true
}

func (t *signalTracker) reset() {
	t.mu.Lock()
	t.last = rebalance.DirectionNone
	t.mu.Unlock()
}

// ServeMetrics exposes /metrics until ctx is done. It returns immediately when
// metrics are disabled.
func (a *App) ServeMetrics(ctx context.Context) error {
	if a.prom == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("metrics listening", zap.String("addr", a.cfg.Metrics.Addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
