package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hl-vault-engine/internal/metrics"

	"go.uber.org/zap"
)

var (
	ErrAborted    = errors.New("plan aborted")
	ErrNotPending = errors.New("plan is not pending")
)

// Runner performs one step and returns its transaction hash, empty when no
// transaction was needed.
type Runner interface {
	RunStep(ctx context.Context, step Step) (string, error)
}

type RunnerFunc func(ctx context.Context, step Step) (string, error)

func (f RunnerFunc) RunStep(ctx context.Context, step Step) (string, error) {
	return f(ctx, step)
}

// Observer receives a snapshot after every plan or step transition.
type Observer func(Snapshot)

// StepFailure is returned by Run when a step fails and halts the plan.
type StepFailure struct {
	PlanID string
	Step   Step
	Err    error
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("plan %s step %d (%s): %v", e.PlanID, e.Step.ID, e.Step.Key, e.Err)
}

func (e *StepFailure) Unwrap() error {
	return e.Err
}

// Sequencer runs plan steps strictly in order. It never retries a step.
type Sequencer struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.RWMutex
	observers []Observer
}

func NewSequencer(log *zap.Logger, m *metrics.Metrics, observers ...Observer) *Sequencer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sequencer{
		log:       log,
		metrics:   metrics.OrNoop(m),
		now:       func() time.Time { return time.Now().UTC() },
		observers: observers,
	}
}

func (s *Sequencer) Subscribe(obs Observer) {
	if obs == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, obs)
	s.mu.Unlock()
}

// Run executes the pending plan p. The first failing step halts the plan and
// leaves later steps pending. Cancellation aborts the plan without failing a
// step: a step already running keeps its own outcome, then the plan stops.
func (s *Sequencer) Run(ctx context.Context, p *Plan, r Runner) error {
	if p == nil || r == nil {
		return fmt.Errorf("plan and runner are required")
	}
	if _, ok := p.applyStatus(EventStart, s.now()); !ok {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, p.ID(), p.Status())
	}
	snap := p.Snapshot()
	log := s.log.With(
		zap.String("plan_id", snap.ID),
		zap.String("strategy", snap.StrategyID),
		zap.String("action", string(snap.Action)),
		zap.String("direction", string(snap.Direction)),
	)
	s.metrics.PlansStarted.Inc()
	log.Info("plan started", zap.Int("steps", len(snap.Steps)))
	s.notify(p)

	for i, step := range snap.Steps {
		if err := ctx.Err(); err != nil {
			s.abort(p, log, step)
			return fmt.Errorf("%w before step %d (%s): %w", ErrAborted, step.ID, step.Key, err)
		}

		p.applyStep(i, EventStart, s.now(), "", "")
		s.notify(p)
		log.Info("step started", zap.Int("step", step.ID), zap.String("key", string(step.Key)))

		hash, err := r.RunStep(ctx, step)
		if cancelled := ctx.Err(); cancelled != nil && (err == nil || errors.Is(err, cancelled)) {
			// A step interrupted before it submitted anything stays processing.
			if err == nil {
				p.applyStep(i, EventSucceed, s.now(), hash, "")
				log.Info("step completed", zap.Int("step", step.ID), zap.String("tx", hash))
				s.notify(p)
			}
			s.abort(p, log, step)
			return fmt.Errorf("%w during step %d (%s): %w", ErrAborted, step.ID, step.Key, cancelled)
		}
		if err != nil {
			p.applyStep(i, EventFail, s.now(), hash, err.Error())
			s.notify(p)
			p.applyStatus(EventFail, s.now())
			s.metrics.StepsFailed.Inc()
			s.metrics.PlansFailed.Inc()
			log.Error("step failed", zap.Int("step", step.ID), zap.String("key", string(step.Key)), zap.Error(err))
			s.notify(p)
			failed := p.Snapshot().Steps[i]
			return &StepFailure{PlanID: snap.ID, Step: failed, Err: err}
		}

		p.applyStep(i, EventSucceed, s.now(), hash, "")
		log.Info("step completed", zap.Int("step", step.ID), zap.String("tx", hash))
		s.notify(p)
	}

	p.applyStatus(EventComplete, s.now())
	s.metrics.PlansCompleted.Inc()
	log.Info("plan completed")
	s.notify(p)
	return nil
}

func (s *Sequencer) abort(p *Plan, log *zap.Logger, at Step) {
	p.applyStatus(EventAbort, s.now())
	s.metrics.PlansAborted.Inc()
	log.Warn("plan aborted", zap.Int("step", at.ID), zap.String("key", string(at.Key)))
	s.notify(p)
}

func (s *Sequencer) notify(p *Plan) {
	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()
	if len(observers) == 0 {
		return
	}
	snap := p.Snapshot()
	for _, obs := range observers {
		obs(snap)
	}
}
