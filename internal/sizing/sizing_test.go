package sizing

import (
	"errors"
	"math/big"
	"testing"

	"hl-vault-engine/internal/account"
	"hl-vault-engine/internal/failure"

	"github.com/shopspring/decimal"
)

func defaultCalculator() Calculator {
	return NewCalculator(15000, 3, 18, 2)
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func hedges(size string) []account.HedgePosition {
	return []account.HedgePosition{{Coin: "HYPE", Size: decimal.RequireFromString(size)}}
}

func TestMarginHedgeEndToEnd(t *testing.T) {
	out, err := defaultCalculator().MarginHedge(Inputs{
		Requested:  ether(20),
		Collateral: ether(100),
		Debt:       big.NewInt(60),
		Hedges:     hedges("-50"),
		HedgeCoin:  "HYPE",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.LendingPositionToRemove.Cmp(ether(30)) != 0 {
		t.Fatalf("expected lending 30e18, got %s", out.LendingPositionToRemove)
	}
	if out.DebtToRepay.Cmp(big.NewInt(18)) != 0 {
		t.Fatalf("expected debt 18, got %s", out.DebtToRepay)
	}
	if !out.HedgeSizeToRemove.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected hedge 10, got %s", out.HedgeSizeToRemove)
	}
}

func TestHedgeClampedToCurrentSize(t *testing.T) {
	out, err := defaultCalculator().MarginHedge(Inputs{
		Requested:  ether(20),
		Collateral: ether(100),
		Debt:       big.NewInt(60),
		Hedges:     hedges("-4.5"),
		HedgeCoin:  "HYPE",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.HedgeSizeToRemove.Equal(decimal.RequireFromString("4.5")) {
		t.Fatalf("expected hedge clamped to 4.5, got %s", out.HedgeSizeToRemove)
	}
}

func TestLendingClampedToCollateral(t *testing.T) {
	out, err := defaultCalculator().MarginHedge(Inputs{
		Requested:  ether(100),
		Collateral: ether(120),
		Debt:       big.NewInt(1000),
		Hedges:     hedges("-100"),
		HedgeCoin:  "HYPE",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.LendingPositionToRemove.Cmp(ether(120)) != 0 {
		t.Fatalf("expected lending clamped to collateral, got %s", out.LendingPositionToRemove)
	}
	if out.DebtToRepay.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected full debt at full unwind, got %s", out.DebtToRepay)
	}
	if !out.HedgeSizeToRemove.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected hedge 40, got %s", out.HedgeSizeToRemove)
	}
}

func TestRatioLaw(t *testing.T) {
	in := Inputs{
		Requested:  big.NewInt(7_000_000),
		Collateral: big.NewInt(33_000_000),
		Debt:       big.NewInt(19_000_000),
		Hedges:     hedges("-1000"),
		HedgeCoin:  "HYPE",
	}
	out, err := defaultCalculator().MarginHedge(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// debt/lending must match currentDebt/currentCollateral within one base unit
	lhs := new(big.Int).Mul(out.DebtToRepay, in.Collateral)
	rhs := new(big.Int).Mul(out.LendingPositionToRemove, in.Debt)
	diff := new(big.Int).Sub(rhs, lhs)
	if diff.Sign() < 0 || diff.Cmp(in.Collateral) >= 0 {
		t.Fatalf("ratio not preserved: debt=%s lending=%s", out.DebtToRepay, out.LendingPositionToRemove)
	}
	if out.DebtToRepay.Cmp(in.Debt) > 0 || out.LendingPositionToRemove.Cmp(in.Collateral) > 0 {
		t.Fatalf("amounts exceed balances: %+v", out)
	}
}

func TestHedgeTruncatesToTwoDecimals(t *testing.T) {
	out, err := defaultCalculator().LendingLoop(Inputs{
		Requested:  ether(1),
		Collateral: ether(100),
		Hedges:     hedges("-100"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1.5 / 3 = 0.5
	if !out.HedgeSizeToRemove.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected 0.5, got %s", out.HedgeSizeToRemove)
	}
	out, err = defaultCalculator().LendingLoop(Inputs{
		Requested:  big.NewInt(1_000_000_000_000_000),
		Collateral: ether(100),
		Hedges:     hedges("-100"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 0.0015 / 3 = 0.0005 -> 0.00
	if !out.HedgeSizeToRemove.IsZero() {
		t.Fatalf("expected truncation to zero, got %s", out.HedgeSizeToRemove)
	}
	if out.DebtToRepay.Sign() != 0 {
		t.Fatalf("lending loop should not size debt, got %s", out.DebtToRepay)
	}
}

func TestInsufficientData(t *testing.T) {
	calc := defaultCalculator()
	if _, err := calc.MarginHedge(Inputs{Requested: ether(1), Collateral: ether(10), Debt: big.NewInt(1)}); !errors.Is(err, failure.ErrInsufficientData) {
		t.Fatalf("expected insufficient data without hedges, got %v", err)
	}
	if _, err := calc.LendingLoop(Inputs{Requested: ether(1), Hedges: hedges("-1")}); !errors.Is(err, failure.ErrInsufficientData) {
		t.Fatalf("expected insufficient data without collateral, got %v", err)
	}
	if _, err := calc.MarginHedge(Inputs{Requested: ether(1), Collateral: ether(10), Hedges: hedges("-1")}); !errors.Is(err, failure.ErrInsufficientData) {
		t.Fatalf("expected insufficient data without debt, got %v", err)
	}
}

func TestRejectsBadInputs(t *testing.T) {
	if _, err := defaultCalculator().LendingLoop(Inputs{Requested: big.NewInt(0), Collateral: ether(1), Hedges: hedges("-1")}); err == nil {
		t.Fatalf("expected error for zero request")
	}
	bad := NewCalculator(9000, 3, 18, 2)
	if _, err := bad.LendingLoop(Inputs{Requested: ether(1), Collateral: ether(1), Hedges: hedges("-1")}); !errors.Is(err, failure.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestZeroCollateral(t *testing.T) {
	calc := defaultCalculator()
	in := Inputs{
		Requested:  ether(1),
		Collateral: big.NewInt(0),
		Debt:       big.NewInt(5),
		Hedges:     hedges("-1"),
	}
	if _, err := calc.MarginHedge(in); !errors.Is(err, failure.ErrInsufficientData) {
		t.Fatalf("expected insufficient data for empty collateral, got %v", err)
	}
	if _, err := calc.LendingLoop(in); !errors.Is(err, failure.ErrInsufficientData) {
		t.Fatalf("expected insufficient data for empty collateral, got %v", err)
	}
}
