package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"hl-vault-engine/internal/failure"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Client talks to the exchange /info endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type InfoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

// Info posts req to /info and returns the parsed body.
func (c *Client) Info(ctx context.Context, req InfoRequest) (gjson.Result, error) {
	body, err := c.post(ctx, "/info", req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("info %s: %w", req.Type, err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("info %s: invalid json response", req.Type)
	}
	return gjson.ParseBytes(body), nil
}

func (c *Client) post(ctx context.Context, path string, req any) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, failure.Classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.log.Debug("info request rejected", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Classify(err)
	}
	return body, nil
}
