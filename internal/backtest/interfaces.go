package backtest

import (
	"context"
	"time"

	"pick-policy/internal/engine"
	"pick-policy/internal/risk"
)

// Sample 为一条带结算结果的历史预测。
type Sample struct {
	Prediction engine.PredictionInput `json:"prediction"`
	Outcome    risk.Outcome           `json:"outcome"`
	Stake      float64                `json:"stake,omitempty"`
	Odds       float64                `json:"odds"`
	At         time.Time              `json:"at"`
}

// SampleProvider 按时间顺序提供样本。
type SampleProvider interface {
	Next(ctx context.Context) (Sample, bool, error)
}

// Evaluator 为被回放的策略引擎。
type Evaluator interface {
	Evaluate(ctx context.Context, in engine.PredictionInput, run engine.RunContext) (engine.EvaluationResult, error)
}
