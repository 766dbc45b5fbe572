package price

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hl-vault-engine/internal/failure"
	"hl-vault-engine/internal/retry"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const defaultTokenDecimals = 18

type RatesConfig struct {
	BaseURL       string
	Chain         string
	QuoteToken    string
	QuoteDecimals int32
	// Decimals overrides the 18 decimal default per token address.
	Decimals map[string]int32
	Timeout  time.Duration
}

// ExchangeRates prices tokens against a quote stable on the GlueX rates service.
// The service quotes base units against base units, so the rate is rescaled by
// the decimal gap between token and quote stable.
type ExchangeRates struct {
	cfg    RatesConfig
	http   *http.Client
	policy retry.Policy
	log    *zap.Logger
}

func NewExchangeRates(cfg RatesConfig, policy retry.Policy, log *zap.Logger) *ExchangeRates {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	decimals := make(map[string]int32, len(cfg.Decimals))
	for token, d := range cfg.Decimals {
		decimals[strings.ToLower(strings.TrimSpace(token))] = d
	}
	cfg.Decimals = decimals
	return &ExchangeRates{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		policy: policy,
		log:    log,
	}
}

func (e *ExchangeRates) tokenDecimals(token string) int32 {
	if d, ok := e.cfg.Decimals[strings.ToLower(token)]; ok {
		return d
	}
	return defaultTokenDecimals
}

type rateRequest struct {
	ForeignToken       string `json:"foreign_token"`
	DomesticBlockchain string `json:"domestic_blockchain"`
	DomesticToken      string `json:"domestic_token"`
	ForeignBlockchain  string `json:"foreign_blockchain"`
}

func (e *ExchangeRates) Price(ctx context.Context, token string) (decimal.Decimal, error) {
	if strings.TrimSpace(token) == "" {
		return decimal.Zero, failure.Configf("price token is empty")
	}
	var px decimal.Decimal
	_, err := e.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		got, err := e.fetch(ctx, token)
		if err != nil {
			e.log.Warn("exchange rate attempt failed", zap.String("token", token), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		px = got
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("exchange rate %s: %w", token, err)
	}
	return px, nil
}

func (e *ExchangeRates) fetch(ctx context.Context, token string) (decimal.Decimal, error) {
	payload, err := json.Marshal([]rateRequest{{
		ForeignToken:       e.cfg.QuoteToken,
		DomesticBlockchain: e.cfg.Chain,
		DomesticToken:      token,
		ForeignBlockchain:  e.cfg.Chain,
	}})
	if err != nil {
		return decimal.Zero, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/", bytes.NewReader(payload))
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.http.Do(req)
	if err != nil {
		return decimal.Zero, failure.Classify(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, failure.Classify(err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("http %d", resp.StatusCode)
	}
	raw := strings.TrimSpace(gjson.GetBytes(body, "0.price").String())
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: invalid exchange rate response", failure.ErrDataUnavailable)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("exchange rate %q: %w", raw, err)
	}
	return rate.Shift(e.tokenDecimals(token) - e.cfg.QuoteDecimals), nil
}
