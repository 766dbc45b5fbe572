package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	PlansStarted      Counter
	PlansCompleted    Counter
	PlansFailed       Counter
	PlansAborted      Counter
	StepsFailed       Counter
	TxSubmitted       Counter
	TxFailed          Counter
	QuoteAttempts     Counter
	QuoteInsufficient Counter
	RebalanceSignals  Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		PlansStarted:      n,
		PlansCompleted:    n,
		PlansFailed:       n,
		PlansAborted:      n,
		StepsFailed:       n,
		TxSubmitted:       n,
		TxFailed:          n,
		QuoteAttempts:     n,
		QuoteInsufficient: n,
		RebalanceSignals:  n,
	}
}

// OrNoop lets callers hold a nil *Metrics.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return NewNoop()
	}
	return m
}
