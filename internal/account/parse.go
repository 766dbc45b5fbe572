package account

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

func parsePositions(payload gjson.Result) []HedgePosition {
	raw := payload.Get("assetPositions")
	if !raw.Exists() {
		raw = payload.Get("clearinghouseState.assetPositions")
	}
	var positions []HedgePosition
	raw.ForEach(func(_, entry gjson.Result) bool {
		pos := entry
		if nested := entry.Get("position"); nested.IsObject() {
			pos = nested
		}
		coin := strings.TrimSpace(pos.Get("coin").String())
		if coin == "" {
			return true
		}
		size := pos.Get("szi")
		if !size.Exists() {
			size = pos.Get("size")
		}
		positions = append(positions, HedgePosition{
			Coin:             coin,
			Size:             decimalOrZero(size),
			EntryPrice:       decimalOrZero(pos.Get("entryPx")),
			LiquidationPrice: decimalOrZero(pos.Get("liquidationPx")),
			UnrealizedPnl:    decimalOrZero(pos.Get("unrealizedPnl")),
		})
		return true
	})
	return positions
}

func parseBalances(payload gjson.Result) map[string]decimal.Decimal {
	balances := make(map[string]decimal.Decimal)
	payload.Get("balances").ForEach(func(_, entry gjson.Result) bool {
		coin := strings.TrimSpace(entry.Get("coin").String())
		if coin == "" {
			return true
		}
		total := entry.Get("total")
		if !total.Exists() {
			total = entry.Get("available")
		}
		balances[coin] = decimalOrZero(total)
		return true
	})
	return balances
}

// decimalOrZero parses exchange decimal strings exactly. Nulls and junk are zero.
func decimalOrZero(v gjson.Result) decimal.Decimal {
	if !v.Exists() || v.Type == gjson.Null {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v.String()))
	if err != nil {
		return decimal.Zero
	}
	return d
}
