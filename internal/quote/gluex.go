package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"hl-vault-engine/internal/failure"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

type GlueXConfig struct {
	BaseURL   string
	ChainName string
	APIKey    string
	PID       string
	Timeout   time.Duration
}

// GlueX is the router aggregator client.
type GlueX struct {
	cfg  GlueXConfig
	http *http.Client
	log  *zap.Logger
}

func NewGlueX(cfg GlueXConfig, log *zap.Logger) *GlueX {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &GlueX{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

type quoteRequest struct {
	ChainID        string `json:"chainID"`
	InputToken     string `json:"inputToken"`
	OutputToken    string `json:"outputToken"`
	InputAmount    string `json:"inputAmount,omitempty"`
	OutputAmount   string `json:"outputAmount,omitempty"`
	OrderType      string `json:"orderType"`
	UserAddress    string `json:"userAddress"`
	OutputReceiver string `json:"outputReceiver"`
	UniquePID      string `json:"uniquePID"`
}

func (g *GlueX) Quote(ctx context.Context, req Request) (Quote, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return Quote{}, fmt.Errorf("quote amount must be positive")
	}
	body := quoteRequest{
		ChainID:        g.cfg.ChainName,
		InputToken:     req.InputToken,
		OutputToken:    req.OutputToken,
		OrderType:      string(req.OrderType),
		UserAddress:    req.UserAddress,
		OutputReceiver: req.UserAddress,
		UniquePID:      g.cfg.PID,
	}
	if req.OrderType == OrderBuy {
		body.OutputAmount = req.Amount.String()
	} else {
		body.InputAmount = req.Amount.String()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Quote{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/quote", bytes.NewReader(payload))
	if err != nil {
		return Quote{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", g.cfg.APIKey)
	// correlates our logs with aggregator support tickets
	requestID := uuid.NewString()
	httpReq.Header.Set("x-request-id", requestID)

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return Quote{}, fmt.Errorf("gluex quote: %w", failure.Classify(err))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Quote{}, fmt.Errorf("gluex quote: %w", failure.Classify(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Quote{}, fmt.Errorf("gluex quote: http %d: %s", resp.StatusCode, truncate(raw, 512))
	}
	q, err := parseQuote(raw, req)
	if err != nil {
		return Quote{}, err
	}
	g.log.Debug("gluex quote",
		zap.String("request_id", requestID),
		zap.String("order", string(req.OrderType)),
		zap.String("amount", req.Amount.String()),
		zap.String("effective_input", q.EffectiveInputAmount.String()),
		zap.String("effective_output", q.EffectiveOutputAmount.String()),
	)
	return q, nil
}

func parseQuote(raw []byte, req Request) (Quote, error) {
	if !gjson.ValidBytes(raw) {
		return Quote{}, fmt.Errorf("gluex quote: invalid json response")
	}
	root := gjson.ParseBytes(raw)
	status := root.Get("statusCode").Int()
	revert := root.Get("result.revert").Bool()
	if status != http.StatusOK || revert {
		return Quote{}, fmt.Errorf("gluex quote: status %d, revert %t", status, revert)
	}
	result := root.Get("result")
	calldata, err := hexutil.Decode(result.Get("calldata").String())
	if err != nil {
		return Quote{}, fmt.Errorf("gluex quote: calldata: %w", err)
	}
	return Quote{
		InputToken:            req.InputToken,
		OutputToken:           req.OutputToken,
		OrderType:             req.OrderType,
		RequestedAmount:       new(big.Int).Set(req.Amount),
		Calldata:              calldata,
		EffectiveInputAmount:  bigOrZero(result.Get("effectiveInputAmount")),
		EffectiveOutputAmount: bigOrZero(result.Get("effectiveOutputAmount")),
		OutputAmount:          bigOrZero(result.Get("outputAmount")),
		MinOutputAmount:       bigOrZero(result.Get("minOutputAmount")),
		FetchedAt:             time.Now().UTC(),
	}, nil
}

func bigOrZero(v gjson.Result) *big.Int {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v.String()), 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
