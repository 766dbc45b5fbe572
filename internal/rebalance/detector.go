// Package rebalance classifies the hedge P&L of a strategy into a rebalance
// direction.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hl-vault-engine/internal/account"
	"hl-vault-engine/internal/failure"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Direction string

const (
	DirectionUpside   Direction = "UPSIDE"
	DirectionDownside Direction = "DOWNSIDE"
	DirectionNone     Direction = "NONE"
)

// DefaultThreshold is the absolute P&L in USD at which a rebalance is needed.
var DefaultThreshold = decimal.NewFromInt(12)

type Decision struct {
	NeedsRebalancing bool
	Direction        Direction
	Magnitude        decimal.Decimal
}

// PositionSource lists the perp positions of an account.
type PositionSource interface {
	HedgePositions(ctx context.Context, user string) ([]account.HedgePosition, error)
}

type Detector struct {
	positions PositionSource
	threshold decimal.Decimal
	log       *zap.Logger
}

func NewDetector(positions PositionSource, threshold decimal.Decimal, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	if threshold.IsNegative() {
		threshold = DefaultThreshold
	}
	return &Detector{positions: positions, threshold: threshold, log: log}
}

func (d *Detector) Threshold() decimal.Decimal {
	return d.threshold
}

// Detect reads the hedge positions of the executor and classifies the primary one.
// An account without positions yields failure.ErrDataUnavailable.
func (d *Detector) Detect(ctx context.Context, executor, hedgeCoin string) (Decision, error) {
	positions, err := d.positions.HedgePositions(ctx, executor)
	if err != nil {
		return Decision{}, fmt.Errorf("read hedge positions: %w", err)
	}
	primary, ok := PrimaryHedge(positions, hedgeCoin)
	if !ok {
		return Decision{}, fmt.Errorf("%w: no hedge positions for %s", failure.ErrDataUnavailable, executor)
	}
	decision := Evaluate(primary, d.threshold)
	d.log.Info("rebalance check",
		zap.String("executor", executor),
		zap.String("coin", primary.Coin),
		zap.String("pnl", primary.UnrealizedPnl.String()),
		zap.String("direction", string(decision.Direction)),
	)
	return decision, nil
}

// DetectOrNone is Detect with a missing hedge reported as no rebalance.
func (d *Detector) DetectOrNone(ctx context.Context, executor, hedgeCoin string) (Decision, error) {
	decision, err := d.Detect(ctx, executor, hedgeCoin)
	if errors.Is(err, failure.ErrDataUnavailable) {
		return Decision{Direction: DirectionNone}, nil
	}
	return decision, err
}

// Evaluate floors the P&L to cents and compares its magnitude to threshold.
// Below threshold the decision carries no magnitude.
func Evaluate(position account.HedgePosition, threshold decimal.Decimal) Decision {
	pnl := position.UnrealizedPnl.RoundFloor(2)
	magnitude := pnl.Abs()
	if magnitude.LessThan(threshold) {
		return Decision{Direction: DirectionNone, Magnitude: decimal.Zero}
	}
	direction := DirectionDownside
	if pnl.IsPositive() {
		direction = DirectionUpside
	}
	return Decision{NeedsRebalancing: true, Direction: direction, Magnitude: magnitude}
}

// PrimaryHedge picks the position on coin, falling back to the first one.
func PrimaryHedge(positions []account.HedgePosition, coin string) (account.HedgePosition, bool) {
	if len(positions) == 0 {
		return account.HedgePosition{}, false
	}
	for _, pos := range positions {
		if strings.EqualFold(pos.Coin, coin) {
			return pos, true
		}
	}
	return positions[0], true
}
