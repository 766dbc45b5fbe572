package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hl_vault_engine"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry          *prometheus.Registry
	plansStarted      prometheus.Counter
	plansCompleted    prometheus.Counter
	plansFailed       prometheus.Counter
	plansAborted      prometheus.Counter
	stepsFailed       prometheus.Counter
	txSubmitted       prometheus.Counter
	txFailed          prometheus.Counter
	quoteAttempts     prometheus.Counter
	quoteInsufficient prometheus.Counter
	rebalanceSignals  prometheus.Counter
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry:          prometheus.NewRegistry(),
		plansStarted:      newCounter("plans_started_total", "Total number of execution plans started."),
		plansCompleted:    newCounter("plans_completed_total", "Total number of execution plans completed."),
		plansFailed:       newCounter("plans_failed_total", "Total number of execution plans halted by a failed step."),
		plansAborted:      newCounter("plans_aborted_total", "Total number of execution plans aborted by cancellation."),
		stepsFailed:       newCounter("steps_failed_total", "Total number of failed plan steps."),
		txSubmitted:       newCounter("tx_submitted_total", "Total number of transactions submitted."),
		txFailed:          newCounter("tx_failed_total", "Total number of transactions that failed or reverted."),
		quoteAttempts:     newCounter("quote_attempts_total", "Total number of swap quote requests."),
		quoteInsufficient: newCounter("quote_insufficient_total", "Total number of quote loops exhausted without covering debt."),
		rebalanceSignals:  newCounter("rebalance_signals_total", "Total number of checks that found a rebalance needed."),
	}
	p.registry.MustRegister(
		p.plansStarted, p.plansCompleted, p.plansFailed, p.plansAborted, p.stepsFailed,
		p.txSubmitted, p.txFailed, p.quoteAttempts, p.quoteInsufficient, p.rebalanceSignals,
	)
	p.Metrics = &Metrics{
		PlansStarted:      promCounter{p.plansStarted},
		PlansCompleted:    promCounter{p.plansCompleted},
		PlansFailed:       promCounter{p.plansFailed},
		PlansAborted:      promCounter{p.plansAborted},
		StepsFailed:       promCounter{p.stepsFailed},
		TxSubmitted:       promCounter{p.txSubmitted},
		TxFailed:          promCounter{p.txFailed},
		QuoteAttempts:     promCounter{p.quoteAttempts},
		QuoteInsufficient: promCounter{p.quoteInsufficient},
		RebalanceSignals:  promCounter{p.rebalanceSignals},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
