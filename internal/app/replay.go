package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pick-policy/internal/backtest"
	"pick-policy/internal/engine"
	"pick-policy/internal/monitor"
	"pick-policy/internal/policy"
	"pick-policy/internal/risk"
	"pick-policy/internal/store"
)

// Replay 在独立的内存状态上以给定策略回放样本，不会修改线上的熔断状态与决策记录。
func Replay(ctx context.Context, cfg policy.Config, samples []backtest.Sample, btCfg backtest.Config, logger *zap.Logger) (backtest.Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	holder, err := policy.NewHolder(cfg)
	if err != nil {
		return backtest.Result{}, err
	}

	start := time.Now().UTC()
	for _, s := range samples {
		if !s.At.IsZero() {
			start = s.At
			break
		}
	}
	clock := backtest.NewClock(start)

	st := store.NewMemoryStore()
	defer st.Close()

	tracker, err := risk.NewTracker(st, holder, logger, risk.WithClock(clock.Now))
	if err != nil {
		return backtest.Result{}, err
	}
	eng, err := engine.New(holder, logger, engine.WithClock(clock.Now))
	if err != nil {
		return backtest.Result{}, err
	}
	journal, err := monitor.NewService(st, logger)
	if err != nil {
		return backtest.Result{}, err
	}

	runner, err := backtest.NewRunner(btCfg, backtest.NewSliceSampleProvider(samples), eng, tracker, logger,
		backtest.WithClock(clock), backtest.WithJournal(journal))
	if err != nil {
		return backtest.Result{}, err
	}
	return runner.Run(ctx)
}
