// Package plan models execution plans and runs their steps in order.
package plan

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionRebalance    Action = "rebalance"
	ActionClose        Action = "close"
	ActionOpen         Action = "open"
	ActionPartialClose Action = "partial_close"
)

type Direction string

const (
	DirectionNone     Direction = ""
	DirectionUpside   Direction = "upside"
	DirectionDownside Direction = "downside"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

type Step struct {
	ID         int        `json:"id"`
	Key        StepKey    `json:"key"`
	Label      string     `json:"label"`
	Status     StepStatus `json:"status"`
	TxHash     string     `json:"tx_hash,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
}

// Snapshot is an immutable copy of a plan handed to observers.
type Snapshot struct {
	ID         string    `json:"id"`
	StrategyID string    `json:"strategy_id"`
	Action     Action    `json:"action"`
	Direction  Direction `json:"direction,omitempty"`
	Status     Status    `json:"status"`
	Steps      []Step    `json:"steps"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Current returns the first step that has not completed, if any.
func (s Snapshot) Current() (Step, bool) {
	for _, step := range s.Steps {
		if step.Status != StepCompleted {
			return step, true
		}
	}
	return Step{}, false
}

// Plan is one execution of a step template for a strategy. It is safe to
// snapshot from other goroutines while a Sequencer runs it.
type Plan struct {
	mu   sync.Mutex
	snap Snapshot
}

// New builds a pending plan from the template for action and direction.
func New(strategyID string, action Action, direction Direction) (*Plan, error) {
	tmpl, err := Template(action, direction)
	if err != nil {
		return nil, err
	}
	if strategyID == "" {
		return nil, fmt.Errorf("strategy id is required")
	}
	steps := make([]Step, len(tmpl))
	for i, def := range tmpl {
		steps[i] = Step{ID: i + 1, Key: def.Key, Label: def.Label, Status: StepPending}
	}
	now := time.Now().UTC()
	return &Plan{snap: Snapshot{
		ID:         uuid.NewString(),
		StrategyID: strategyID,
		Action:     action,
		Direction:  direction,
		Status:     StatusPending,
		Steps:      steps,
		CreatedAt:  now,
		UpdatedAt:  now,
	}}, nil
}

func (p *Plan) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap.ID
}

func (p *Plan) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap.Status
}

func (p *Plan) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.snap
	out.Steps = append([]Step(nil), p.snap.Steps...)
	return out
}

func (p *Plan) applyStatus(event Event, now time.Time) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := nextStatus(p.snap.Status, event)
	if next == p.snap.Status {
		return next, false
	}
	p.snap.Status = next
	p.snap.UpdatedAt = now
	return next, true
}

func (p *Plan) applyStep(idx int, event Event, now time.Time, txHash, errMsg string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	step := &p.snap.Steps[idx]
	next := nextStepStatus(step.Status, event)
	if next == step.Status {
		return false
	}
	step.Status = next
	switch next {
	case StepProcessing:
		step.StartedAt = now
	case StepCompleted, StepFailed:
		step.FinishedAt = now
		step.TxHash = txHash
		step.Error = errMsg
	}
	p.snap.UpdatedAt = now
	return true
}
