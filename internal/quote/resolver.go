package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"hl-vault-engine/internal/failure"
	"hl-vault-engine/internal/metrics"
	"hl-vault-engine/internal/retry"

	"go.uber.org/zap"
)

// DebtSource reads the current outstanding debt in base units of the repay token.
type DebtSource func(ctx context.Context) (*big.Int, error)

type ResolverConfig struct {
	MaxAttempts           int
	RetryBackoff          time.Duration
	SufficientMaxAttempts int
	SufficientBackoff     time.Duration
	DebtBuffer            *big.Int
}

type Resolver struct {
	provider   Provider
	plain      retry.Policy
	sufficient retry.Policy
	buffer     *big.Int
	metrics    *metrics.Metrics
	log        *zap.Logger
}

var errQuoteShort = errors.New("quote does not cover debt")

func NewResolver(provider Provider, cfg ResolverConfig, m *metrics.Metrics, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	buffer := cfg.DebtBuffer
	if buffer == nil {
		buffer = new(big.Int)
	}
	return &Resolver{
		provider: provider,
		plain: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     cfg.RetryBackoff,
		},
		sufficient: retry.Policy{
			MaxAttempts: cfg.SufficientMaxAttempts,
			Backoff:     cfg.SufficientBackoff,
			Retryable: func(err error) bool {
				return errors.Is(err, errQuoteShort) || errors.Is(err, failure.ErrNetworkTimeout)
			},
		},
		buffer:  new(big.Int).Set(buffer),
		metrics: metrics.OrNoop(m),
		log:     log,
	}
}

// ResolveQuote fetches a quote, retrying every failure up to the plain budget.
func (r *Resolver) ResolveQuote(ctx context.Context, req Request) (Quote, error) {
	var out Quote
	_, err := r.plain.Do(ctx, func(ctx context.Context, attempt int) error {
		r.metrics.QuoteAttempts.Inc()
		q, err := r.provider.Quote(ctx, req)
		if err != nil {
			r.log.Warn("quote attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		out = q
		return nil
	})
	if err != nil {
		return Quote{}, err
	}
	return out, nil
}

// ResolveSufficientQuote re-reads debt on every attempt, asks for debt plus the
// buffer and accepts the first quote whose effective input covers the fresh debt.
// Exhaustion yields failure.ErrQuoteInsufficient.
func (r *Resolver) ResolveSufficientQuote(ctx context.Context, req Request, debt DebtSource) (Quote, error) {
	var out Quote
	attempts, err := r.sufficient.Do(ctx, func(ctx context.Context, attempt int) error {
		current, err := debt(ctx)
		if err != nil {
			return fmt.Errorf("read debt: %w", err)
		}
		req.Amount = new(big.Int).Add(current, r.buffer)
		r.metrics.QuoteAttempts.Inc()
		q, err := r.provider.Quote(ctx, req)
		if err != nil {
			r.log.Warn("sufficient quote attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		// TODO: effective input is denominated in the input token while debt is in
		// the repay token; confirm the aggregator returns both at the debt scale.
		if q.EffectiveInputAmount.Cmp(current) < 0 {
			r.log.Info("quote below debt",
				zap.Int("attempt", attempt),
				zap.String("effective_input", q.EffectiveInputAmount.String()),
				zap.String("debt", current.String()),
			)
			return errQuoteShort
		}
		out = q
		return nil
	})
	if err == nil {
		return out, nil
	}
	if errors.Is(err, retry.ErrExhausted) {
		r.metrics.QuoteInsufficient.Inc()
		return Quote{}, fmt.Errorf("%w after %d attempts: %w", failure.ErrQuoteInsufficient, attempts, err)
	}
	return Quote{}, err
}
