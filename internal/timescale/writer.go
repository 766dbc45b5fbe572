// Package timescale streams plan steps and hedge snapshots into TimescaleDB.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hl-vault-engine/internal/config"
	"hl-vault-engine/internal/plan"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type StepRow struct {
	Time       time.Time
	PlanID     string
	StrategyID string
	Action     string
	Direction  string
	StepID     int
	StepKey    string
	Status     string
	TxHash     string
	Error      string
	DurationMS int64
}

// HedgeSnapshot is a display row; values are floats and never feed a transaction.
type HedgeSnapshot struct {
	Time             time.Time
	StrategyID       string
	Coin             string
	Size             float64
	EntryPrice       float64
	LiquidationPrice float64
	UnrealizedPnl    float64
	Direction        string
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	steps     chan StepRow
	hedges    chan HedgeSnapshot
	started   atomic.Bool
	dropStep  atomic.Uint64
	dropHedge atomic.Uint64
}

// New returns a nil writer when timescale is disabled. All methods accept a nil receiver.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		steps:  make(chan StepRow, queueSize),
		hedges: make(chan HedgeSnapshot, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueStep(row StepRow) {
	if w == nil {
		return
	}
	select {
	case w.steps <- row:
	default:
		if w.dropStep.Add(1) == 1 {
			w.log.Warn("timescale step queue full")
		}
	}
}

func (w *Writer) EnqueueHedge(snap HedgeSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.hedges <- snap:
	default:
		if w.dropHedge.Add(1) == 1 {
			w.log.Warn("timescale hedge queue full")
		}
	}
}

// PlanObserver enqueues a row for each step as it finishes.
func (w *Writer) PlanObserver() plan.Observer {
	return func(s plan.Snapshot) {
		for _, row := range FinishedSteps(s) {
			w.EnqueueStep(row)
		}
	}
}

// FinishedSteps returns rows for steps that finished in the transition that
// produced s.
func FinishedSteps(s plan.Snapshot) []StepRow {
	var rows []StepRow
	for _, step := range s.Steps {
		if step.FinishedAt.IsZero() || !step.FinishedAt.Equal(s.UpdatedAt) {
			continue
		}
		if step.Status != plan.StepCompleted && step.Status != plan.StepFailed {
			continue
		}
		rows = append(rows, StepRow{
			Time:       step.FinishedAt,
			PlanID:     s.ID,
			StrategyID: s.StrategyID,
			Action:     string(s.Action),
			Direction:  string(s.Direction),
			StepID:     step.ID,
			StepKey:    string(step.Key),
			Status:     string(step.Status),
			TxHash:     step.TxHash,
			Error:      step.Error,
			DurationMS: step.FinishedAt.Sub(step.StartedAt).Milliseconds(),
		})
	}
	return rows
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.steps:
			w.writeStep(ctx, row)
		case snap := <-w.hedges:
			w.writeHedge(ctx, snap)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		plan_id TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		action TEXT NOT NULL,
		direction TEXT NOT NULL,
		step_id INTEGER NOT NULL,
		step_key TEXT NOT NULL,
		status TEXT NOT NULL,
		tx_hash TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL DEFAULT 0
	)`, w.table("plan_steps"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		strategy_id TEXT NOT NULL,
		coin TEXT NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		liquidation_price DOUBLE PRECISION NOT NULL,
		unrealized_pnl DOUBLE PRECISION NOT NULL,
		direction TEXT NOT NULL
	)`, w.table("hedge_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"plan_steps", "hedge_snapshots"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeStep(ctx context.Context, row StepRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, plan_id, strategy_id, action, direction, step_id, step_key, status, tx_hash, error, duration_ms
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, w.table("plan_steps"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.PlanID,
		row.StrategyID,
		row.Action,
		row.Direction,
		row.StepID,
		row.StepKey,
		row.Status,
		row.TxHash,
		row.Error,
		row.DurationMS,
	); err != nil {
		w.log.Warn("timescale step insert failed", zap.Error(err))
	}
}

func (w *Writer) writeHedge(ctx context.Context, snap HedgeSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, strategy_id, coin, size, entry_price, liquidation_price, unrealized_pnl, direction
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, w.table("hedge_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.StrategyID,
		snap.Coin,
		snap.Size,
		snap.EntryPrice,
		snap.LiquidationPrice,
		snap.UnrealizedPnl,
		snap.Direction,
	); err != nil {
		w.log.Warn("timescale hedge insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
