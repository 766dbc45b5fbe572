package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hl-vault-engine/internal/app"
	"hl-vault-engine/internal/config"
	"hl-vault-engine/internal/logging"
	"hl-vault-engine/internal/plan"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	strategyID := flag.String("strategy", "", "strategy id from the catalog")
	action := flag.String("action", "detect", "detect | open | partial-close | rebalance | close | watch | status | history")
	amount := flag.String("amount", "", "rebalance size in USD, or partial-close withdraw in collateral tokens")
	direction := flag.String("direction", "", "rebalance direction: upside | downside (detected when empty)")
	envFile := flag.String("env", ".env", "dotenv file with secrets")
	limit := flag.Int("limit", 20, "number of finished plans listed by history")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *strategyID == "" {
		if len(cfg.Strategies) != 1 {
			fmt.Fprintln(os.Stderr, "-strategy is required when the catalog has more than one strategy")
			os.Exit(2)
		}
		*strategyID = cfg.Strategies[0].ID
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("config loaded", zap.String("path", *configPath), zap.String("strategy", *strategyID), zap.String("action", *action))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	defer application.Close()

	if err := run(ctx, application, cfg, *strategyID, *action, *amount, *direction, *limit); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("interrupted")
		} else {
			log.Error("action failed", zap.Error(err))
		}
		_ = application.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, cfg *config.Config, strategyID, action, amount, direction string, limit int) error {
	switch action {
	case "detect":
		decision, err := a.Detect(ctx, strategyID)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"strategy":          strategyID,
			"needs_rebalancing": decision.NeedsRebalancing,
			"direction":         decision.Direction,
			"magnitude":         decision.Magnitude.StringFixed(2),
		})
	case "watch":
		return a.Watch(ctx, strategyID)
	case "status":
		snap, hasPlan, err := a.LastPlan(ctx, strategyID)
		if err != nil {
			return err
		}
		decision, hasDecision, err := a.LastDecision(ctx, strategyID)
		if err != nil {
			return err
		}
		if !hasPlan && !hasDecision {
			return fmt.Errorf("nothing recorded for %s", strategyID)
		}
		out := map[string]any{"strategy": strategyID, "plan": nil, "decision": nil}
		if hasPlan {
			out["plan"] = snap
		}
		if hasDecision {
			out["decision"] = decision
		}
		return printJSON(out)
	case "history":
		plans, err := a.History(ctx, strategyID, limit)
		if err != nil {
			return err
		}
		return printJSON(plans)
	}

	act, err := plan.ParseAction(action)
	if err != nil {
		return err
	}
	dir, err := plan.ParseDirection(direction)
	if err != nil {
		return err
	}
	req := app.Request{StrategyID: strategyID, Action: act, Direction: dir}
	if amount != "" {
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		switch act {
		case plan.ActionRebalance:
			req.Magnitude = value
		case plan.ActionPartialClose:
			req.Withdraw = value.Shift(cfg.Sizing.CollateralDecimals).Truncate(0).BigInt()
		}
	}
	a.Subscribe(func(s plan.Snapshot) {
		if step, ok := s.Current(); ok && step.Status == plan.StepProcessing {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", step.ID, len(s.Steps), step.Label)
		}
	})
	snap, err := a.Execute(ctx, req)
	if snap.ID != "" {
		if perr := printJSON(snap); perr != nil {
			return perr
		}
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
