// Package backtest 以历史预测与结算结果回放策略，验证阈值与熔断设置。
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pick-policy/internal/engine"
	"pick-policy/internal/errkind"
	"pick-policy/internal/monitor"
	"pick-policy/internal/risk"
)

// Result 汇总回放结果。
type Result struct {
	Metrics           Metrics   `json:"metrics"`
	BankrollCurve     []float64 `json:"bankrollCurve"`
	Samples           int       `json:"samples"`
	Picks             int       `json:"picks"`
	NoBets            int       `json:"noBets"`
	HardStops         int       `json:"hardStops"`
	Errors            int       `json:"errors"`
	Settled           int       `json:"settled"`
	FinalBankroll     float64   `json:"finalBankroll"`
	HardStopTriggered bool      `json:"hardStopTriggered"`
}

// Clock 为回放时钟，按样本时间推进，供熔断跟踪器判断日切。
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 只向前推进时钟。
func (c *Clock) Advance(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t.UTC()
	}
}

// Runner 串联样本、策略引擎、熔断跟踪与模拟结算。
type Runner struct {
	cfg       Config
	provider  SampleProvider
	engine    Evaluator
	tracker   *risk.Tracker
	clock     *Clock
	journal   *monitor.Service
	simulator *Simulator
	logger    *zap.Logger
}

// RunnerOption 调整回放行为。
type RunnerOption func(*Runner)

// WithClock 让样本时间驱动跟踪器的时钟。
func WithClock(c *Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithJournal 持久化回放中的决策与异常。
func WithJournal(j *monitor.Service) RunnerOption {
	return func(r *Runner) { r.journal = j }
}

// NewRunner 构建回放器。
func NewRunner(cfg Config, provider SampleProvider, eval Evaluator, tracker *risk.Tracker, logger *zap.Logger, opts ...RunnerOption) (*Runner, error) {
	if provider == nil {
		return nil, fmt.Errorf("backtest: provider 不能为空")
	}
	if eval == nil {
		return nil, fmt.Errorf("backtest: evaluator 不能为空")
	}
	if tracker == nil {
		return nil, fmt.Errorf("backtest: tracker 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = cfg.normalize()
	r := &Runner{
		cfg:       cfg,
		provider:  provider,
		engine:    eval,
		tracker:   tracker,
		simulator: NewSimulator(cfg.InitialBankroll),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run 执行完整回放。评估失败的样本计入 Errors 并跳过，不影响后续样本。
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if err := r.tracker.EnsureBankroll(ctx, r.cfg.InitialBankroll); err != nil {
		return Result{}, err
	}

	var res Result
	for {
		sample, ok, err := r.provider.Next(ctx)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			break
		}
		res.Samples++

		if r.clock != nil && !sample.At.IsZero() {
			r.clock.Advance(sample.At)
		}

		run, err := r.tracker.RunContext(ctx, fmt.Sprintf("replay-%d", res.Samples))
		if err != nil {
			return Result{}, err
		}

		decision, err := r.engine.Evaluate(ctx, sample.Prediction, run)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return Result{}, err
			}
			res.Errors++
			r.logger.Warn("回放评估失败", zap.String("prediction_id", sample.Prediction.ID), zap.Error(err))
			if r.journal != nil {
				r.journal.RecordError(ctx, sample.Prediction, string(errkind.Of(err)), run.TraceID, err)
			}
			continue
		}
		if r.journal != nil {
			r.journal.RecordDecision(ctx, sample.Prediction, decision)
		}

		switch decision.Status {
		case engine.StatusPick:
			res.Picks++
		case engine.StatusNoBet:
			res.NoBets++
			continue
		case engine.StatusHardStop:
			res.HardStops++
			if r.cfg.StopOnHardStop {
				res.HardStopTriggered = true
				return r.finish(res), nil
			}
			continue
		}

		if err := r.settle(ctx, sample, decision); err != nil {
			return Result{}, err
		}
	}

	active, err := r.tracker.IsActive(ctx)
	if err != nil {
		return Result{}, err
	}
	res.HardStopTriggered = active || res.HardStops > 0
	return r.finish(res), nil
}

func (r *Runner) settle(ctx context.Context, sample Sample, decision engine.EvaluationResult) error {
	if sample.Outcome == risk.OutcomeNone {
		return nil
	}
	stake := sample.Stake
	if stake <= 0 {
		stake = r.simulator.Bankroll() * r.cfg.StakeFraction
	}

	pnl := r.simulator.Settle(stake, sample.Odds, sample.Outcome)
	var loss float64
	if pnl < 0 {
		loss = -pnl
	}
	if _, err := r.tracker.RecordOutcome(ctx, decision.Status, sample.Outcome, loss); err != nil {
		return fmt.Errorf("backtest: 记录结算结果失败: %w", err)
	}
	return nil
}

func (r *Runner) finish(res Result) Result {
	res.Metrics = calculateMetrics(r.simulator)
	res.BankrollCurve = r.simulator.BankrollHistory()
	res.Settled = r.simulator.Settled()
	res.FinalBankroll = r.simulator.Bankroll()
	return res
}
