package price

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hl-vault-engine/internal/failure"
	"hl-vault-engine/internal/retry"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Hermes reads Pyth prices. Feeds maps lowercased token addresses to feed ids.
type Hermes struct {
	baseURL string
	feeds   map[string]string
	http    *http.Client
	policy  retry.Policy
	log     *zap.Logger
}

func NewHermes(baseURL string, feeds map[string]string, timeout time.Duration, policy retry.Policy, log *zap.Logger) *Hermes {
	if log == nil {
		log = zap.NewNop()
	}
	normalized := make(map[string]string, len(feeds))
	for token, feed := range feeds {
		normalized[strings.ToLower(strings.TrimSpace(token))] = strings.TrimSpace(feed)
	}
	return &Hermes{
		baseURL: strings.TrimRight(baseURL, "/"),
		feeds:   normalized,
		http:    &http.Client{Timeout: timeout},
		policy:  policy,
		log:     log,
	}
}

func (h *Hermes) Price(ctx context.Context, token string) (decimal.Decimal, error) {
	feed, ok := h.feeds[strings.ToLower(strings.TrimSpace(token))]
	if !ok || feed == "" {
		return decimal.Zero, failure.Configf("no price feed for token %s", token)
	}
	var px decimal.Decimal
	_, err := h.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		got, err := h.fetch(ctx, feed)
		if err != nil {
			h.log.Warn("hermes price attempt failed", zap.String("feed", feed), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		px = got
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("hermes price %s: %w", token, err)
	}
	return px, nil
}

func (h *Hermes) fetch(ctx context.Context, feed string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Add("ids[]", feed)
	query.Set("parsed", "true")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v2/updates/price/latest?"+query.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := h.http.Do(req)
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
	parsed := gjson.GetBytes(body, "parsed.0.price")
	raw := parsed.Get("price").String()
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty hermes response", failure.ErrDataUnavailable)
	}
	mantissa, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("hermes price %q: %w", raw, err)
	}
	return mantissa.Shift(int32(parsed.Get("expo").Int())), nil
}
