package plan

import "fmt"

// StepKey names the operation a step performs. Runners dispatch on it.
type StepKey string

const (
	StepBorrow           StepKey = "borrow"
	StepTransferToCore   StepKey = "transfer-to-execution-venue"
	StepSwapToQuote      StepKey = "swap-to-quote-currency"
	StepTransferToPerp   StepKey = "transfer-to-hedge-venue"
	StepTransferFromPerp StepKey = "transfer-from-hedge-venue"
	StepSwapToRepay      StepKey = "swap-to-repay-currency"
	StepTransferToEVM    StepKey = "transfer-to-source-chain"
	StepRepayDebt        StepKey = "repay-debt"
	StepCloseHedge       StepKey = "close-hedge"
	StepFinalizeClose    StepKey = "finalize-close"
	StepOpenPosition     StepKey = "open-leveraged-position"
	StepOpenHedge        StepKey = "open-hedge"
	StepUnwindCollateral StepKey = "unwind-collateral"
	StepReduceHedge      StepKey = "reduce-hedge"
)

type StepDef struct {
	Key   StepKey
	Label string
}

var (
	upsideSteps = []StepDef{
		{StepBorrow, "borrow from lending market"},
		{StepTransferToCore, "transfer to core"},
		{StepSwapToQuote, "swap to usdc"},
		{StepTransferToPerp, "transfer to perps"},
	}
	downsideSteps = []StepDef{
		{StepTransferFromPerp, "transfer usdc to spot"},
		{StepSwapToRepay, "swap to usdt"},
		{StepTransferToEVM, "transfer to evm"},
		{StepRepayDebt, "repay usdt"},
	}
	closeSteps = []StepDef{
		{StepCloseHedge, "close hedge short"},
		{StepTransferFromPerp, "transfer usdc to spot"},
		{StepSwapToRepay, "swap to usdt"},
		{StepTransferToEVM, "transfer to evm"},
		{StepRepayDebt, "repay usdt"},
		{StepFinalizeClose, "close strategy"},
	}
	openSteps = []StepDef{
		{StepOpenPosition, "open leveraged position"},
		{StepOpenHedge, "open hedge short"},
	}
	partialCloseSteps = []StepDef{
		{StepUnwindCollateral, "unwind collateral"},
		{StepReduceHedge, "reduce hedge short"},
	}
)

// Template returns a copy of the step definitions for action and direction.
// Only rebalance takes a direction.
func Template(action Action, direction Direction) ([]StepDef, error) {
	var steps []StepDef
	switch action {
	case ActionRebalance:
		switch direction {
		case DirectionUpside:
			steps = upsideSteps
		case DirectionDownside:
			steps = downsideSteps
		default:
			return nil, fmt.Errorf("rebalance needs a direction, got %q", direction)
		}
	case ActionClose:
		steps = closeSteps
	case ActionOpen:
		steps = openSteps
	case ActionPartialClose:
		steps = partialCloseSteps
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
	if action != ActionRebalance && direction != DirectionNone {
		return nil, fmt.Errorf("action %s takes no direction", action)
	}
	return append([]StepDef(nil), steps...), nil
}

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionRebalance, ActionClose, ActionOpen, ActionPartialClose:
		return Action(s), nil
	case "partial-close":
		return ActionPartialClose, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionNone, DirectionUpside, DirectionDownside:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}
