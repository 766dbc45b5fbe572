package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hl-vault-engine/internal/hl/rest"
	"hl-vault-engine/internal/hl/ws"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const clearinghouseBody = `{
  "assetPositions": [
    {"type": "oneWay", "position": {"coin": "BTC", "szi": "0.01", "entryPx": "60000", "liquidationPx": null, "unrealizedPnl": "1.5"}},
    {"type": "oneWay", "position": {"coin": "HYPE", "szi": "-12.34", "entryPx": "41.2", "liquidationPx": "55.01", "unrealizedPnl": "-12.009"}}
  ],
  "withdrawable": "250.75",
  "marginSummary": {"accountValue": "310.5"}
}`

func infoServer(t *testing.T, bodies map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rest.InfoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body, ok := bodies[req.Type]
		if !ok {
			http.Error(w, "unknown type", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
}

func TestParsePositionsExact(t *testing.T) {
	positions := parsePositions(gjson.Parse(clearinghouseBody))
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	hype := positions[1]
	if hype.Coin != "HYPE" {
		t.Fatalf("unexpected coin %q", hype.Coin)
	}
	if !hype.Size.Equal(decimal.RequireFromString("-12.34")) {
		t.Fatalf("unexpected size %s", hype.Size)
	}
	if !hype.UnrealizedPnl.Equal(decimal.RequireFromString("-12.009")) {
		t.Fatalf("unexpected pnl %s", hype.UnrealizedPnl)
	}
	if !positions[0].LiquidationPrice.IsZero() {
		t.Fatalf("null liquidation price should be zero, got %s", positions[0].LiquidationPrice)
	}
}

func TestParsePositionsFlatAndNested(t *testing.T) {
	flat := gjson.Parse(`{"assetPositions":[{"coin":"ETH","size":0.5}]}`)
	positions := parsePositions(flat)
	if len(positions) != 1 || !positions[0].Size.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("unexpected flat positions %+v", positions)
	}
	nested := gjson.Parse(`{"user":"0xabc","clearinghouseState":{"assetPositions":[{"position":{"coin":"HYPE","szi":"-1"}}]}}`)
	positions = parsePositions(nested)
	if len(positions) != 1 || positions[0].Coin != "HYPE" {
		t.Fatalf("unexpected nested positions %+v", positions)
	}
}

func TestParsePositionsEmpty(t *testing.T) {
	if positions := parsePositions(gjson.Parse(`{"assetPositions":[]}`)); len(positions) != 0 {
		t.Fatalf("expected no positions, got %d", len(positions))
	}
}

func TestHedgePositions(t *testing.T) {
	srv := infoServer(t, map[string]string{"clearinghouseState": clearinghouseBody})
	defer srv.Close()

	client := New(rest.New(srv.URL, time.Second, nil), nil)
	positions, err := client.HedgePositions(context.Background(), "0xABC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
}

func TestBalances(t *testing.T) {
	srv := infoServer(t, map[string]string{
		"clearinghouseState":     clearinghouseBody,
		"spotClearinghouseState": `{"balances":[{"coin":"USDC","total":"100.5","hold":"0"},{"coin":"USDT0","total":"7.25"}]}`,
	})
	defer srv.Close()

	client := New(rest.New(srv.URL, time.Second, nil), nil)
	balances, err := client.Balances(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !balances.SpotBalance("USDC").Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("unexpected USDC %s", balances.SpotBalance("USDC"))
	}
	if !balances.SpotBalance("USDT0").Equal(decimal.RequireFromString("7.25")) {
		t.Fatalf("unexpected USDT0 %s", balances.SpotBalance("USDT0"))
	}
	if !balances.SpotBalance("BTC").IsZero() {
		t.Fatalf("missing coin should be zero")
	}
	if !balances.PerpWithdrawable.Equal(decimal.RequireFromString("250.75")) {
		t.Fatalf("unexpected withdrawable %s", balances.PerpWithdrawable)
	}
	if !balances.AccountValue.Equal(decimal.RequireFromString("310.5")) {
		t.Fatalf("unexpected account value %s", balances.AccountValue)
	}
}

func TestMid(t *testing.T) {
	srv := infoServer(t, map[string]string{"allMids": `{"HYPE":"41.25","@166":"0.9998","DEAD":"0"}`})
	defer srv.Close()

	client := New(rest.New(srv.URL, time.Second, nil), nil)
	mid, err := client.Mid(context.Background(), "@166")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mid.Equal(decimal.RequireFromString("0.9998")) {
		t.Fatalf("unexpected mid %s", mid)
	}
	if _, err := client.Mid(context.Background(), "BTC"); err == nil {
		t.Fatalf("expected missing mid error")
	}
	if _, err := client.Mid(context.Background(), "DEAD"); err == nil {
		t.Fatalf("expected non-positive mid error")
	}
}

func TestWatcherApply(t *testing.T) {
	w := NewWatcher(nil, "0xABC", nil)
	if _, ok := w.apply(ws.Message{Channel: "userFills", Data: gjson.Parse(`{}`)}); ok {
		t.Fatalf("other channels should be ignored")
	}
	if _, ok := w.apply(ws.Message{Channel: "clearinghouseState", Data: gjson.Parse(`{"user":"0xdef","clearinghouseState":{"assetPositions":[]}}`)}); ok {
		t.Fatalf("other users should be ignored")
	}
	data := gjson.Parse(`{"user":"0xabc","clearinghouseState":{"assetPositions":[{"position":{"coin":"HYPE","szi":"-3","unrealizedPnl":"14.2"}}]}}`)
	positions, ok := w.apply(ws.Message{Channel: "clearinghouseState", Data: data})
	if !ok || len(positions) != 1 || !positions[0].UnrealizedPnl.Equal(decimal.RequireFromString("14.2")) {
		t.Fatalf("expected one position, got %+v", positions)
	}
}
