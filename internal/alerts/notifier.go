package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hl-vault-engine/internal/plan"
	"hl-vault-engine/internal/rebalance"

	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

type Sender interface {
	Send(ctx context.Context, message string) error
}

// Notifier turns plan outcomes and rebalance signals into operator messages.
// Send failures are logged and never propagate into plan execution.
type Notifier struct {
	sender Sender
	log    *zap.Logger
}

func NewNotifier(sender Sender, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{sender: sender, log: log}
}

// PlanObserver reports terminal plans. Completed plans are reported too so an
// operator sees every plan that touched funds.
func (n *Notifier) PlanObserver() plan.Observer {
	return func(s plan.Snapshot) {
		if !s.Status.Terminal() {
			return
		}
		n.send(FormatPlan(s))
	}
}

func (n *Notifier) Rebalance(strategyID string, d rebalance.Decision) {
	if !d.NeedsRebalancing {
		return
	}
	n.send(FormatRebalance(strategyID, d))
}

func (n *Notifier) send(msg string) {
	if n == nil || n.sender == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := n.sender.Send(ctx, msg); err != nil {
		n.log.Warn("alert send failed", zap.Error(err))
	}
}

func FormatPlan(s plan.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", s.StrategyID, s.Action)
	if s.Direction != plan.DirectionNone {
		fmt.Fprintf(&b, " %s", s.Direction)
	}
	fmt.Fprintf(&b, " %s (plan %s)", s.Status, s.ID)
	for _, step := range s.Steps {
		fmt.Fprintf(&b, "\n%d. %s: %s", step.ID, step.Label, step.Status)
		if step.TxHash != "" {
			fmt.Fprintf(&b, " %s", step.TxHash)
		}
		if step.Error != "" {
			fmt.Fprintf(&b, " (%s)", step.Error)
		}
	}
	return b.String()
}

func FormatRebalance(strategyID string, d rebalance.Decision) string {
	return fmt.Sprintf("[%s] rebalance needed: %s, pnl magnitude %s USD", strategyID, strings.ToLower(string(d.Direction)), d.Magnitude.StringFixed(2))
}
