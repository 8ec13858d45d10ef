// Package engine 串联各个 gate，先评估熔断，再并行评估次级 gate，
// 外层包裹超时与熔断器，输出唯一的可审计决策。
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pick-policy/internal/gate"
	"pick-policy/internal/policy"
)

const (
	DefaultTimeout          = 5 * time.Second
	DefaultFailureThreshold = 5
	DefaultCooldown         = 60 * time.Second
)

// ConfigSource 提供当前生效的策略配置。
type ConfigSource interface {
	Current() policy.Config
}

// HardStopChecker 是带诊断信息的熔断 gate。
type HardStopChecker interface {
	gate.Gate
	Reason(in gate.Input) string
	RecommendedAction(in gate.Input) string
}

// GateSet 为一次评估使用的全部 gate。
type GateSet struct {
	HardStop   HardStopChecker
	Confidence gate.Gate
	Edge       gate.Gate
	Drift      gate.Gate
}

// GateFactory 根据配置构造 gate。
type GateFactory func(cfg policy.Config) GateSet

// DefaultGates 使用标准 gate 实现。
func DefaultGates(cfg policy.Config) GateSet {
	return GateSet{
		HardStop:   gate.NewHardStopGate(cfg.HardStops),
		Confidence: gate.NewConfidenceGate(cfg.Confidence),
		Edge:       gate.NewEdgeGate(cfg.Edge),
		Drift:      gate.NewDriftGate(cfg.Drift),
	}
}

// Engine 为策略引擎。熔断器计数为进程内共享状态，由 gobreaker 内部互斥保护。
type Engine struct {
	config  ConfigSource
	gates   GateFactory
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

type options struct {
	timeout          time.Duration
	failureThreshold uint32
	cooldown         time.Duration
	halfOpenRequests uint32
	gates            GateFactory
	metrics          *Metrics
	now              func() time.Time
	newID            func() string
}

// Option 调整引擎参数。
type Option func(*options)

// WithTimeout 设置单次评估的截止时间。
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithBreaker 设置连续失败阈值与熔断冷却时间。
func WithBreaker(failureThreshold int, cooldown time.Duration) Option {
	return func(o *options) {
		if failureThreshold > 0 {
			o.failureThreshold = uint32(failureThreshold)
		}
		o.cooldown = cooldown
	}
}

// WithHalfOpenRequests 设置半开状态下允许通过的探测请求数。
func WithHalfOpenRequests(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.halfOpenRequests = uint32(n)
		}
	}
}

// WithGateFactory 替换 gate 构造方式。
func WithGateFactory(f GateFactory) Option {
	return func(o *options) { o.gates = f }
}

// WithMetrics 指定指标实例。
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock 指定时钟。
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator 指定决策 ID 生成方式。
func WithIDGenerator(f func() string) Option {
	return func(o *options) { o.newID = f }
}

// New 创建引擎。
func New(cfg ConfigSource, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: config source 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := options{
		timeout:          DefaultTimeout,
		failureThreshold: DefaultFailureThreshold,
		cooldown:         DefaultCooldown,
		halfOpenRequests: 1,
		gates:            DefaultGates,
		now:              time.Now,
		newID:            uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.cooldown <= 0 {
		o.cooldown = DefaultCooldown
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}

	e := &Engine{
		config:  cfg,
		gates:   o.gates,
		timeout: o.timeout,
		metrics: o.metrics,
		logger:  logger,
		now:     o.now,
		newID:   o.newID,
	}

	threshold := o.failureThreshold
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "policy-evaluation",
		MaxRequests: o.halfOpenRequests,
		Timeout:     o.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// 调用方主动取消不是评估故障。
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.metrics.observeTransition(from, to)
			e.logger.Warn("评估熔断器状态变化",
				zap.String("breaker", name),
				zap.String("from", breakerStateName(from)),
				zap.String("to", breakerStateName(to)),
			)
		},
	})

	return e, nil
}

// BreakerState 返回熔断器状态：CLOSED、HALF_OPEN 或 OPEN。
func (e *Engine) BreakerState() string {
	return breakerStateName(e.breaker.State())
}

// Evaluate 执行一次完整评估。返回错误时不会产生任何决策记录；
// HARD_STOP 与 NO_BET 都是正常结果，不计入熔断失败。
func (e *Engine) Evaluate(ctx context.Context, in PredictionInput, run RunContext) (EvaluationResult, error) {
	start := time.Now()

	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.evaluateWithDeadline(ctx, in, run)
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = ErrCircuitOpen
		}
		e.metrics.observeError(errorLabel(err), elapsed)
		e.logger.Warn("策略评估失败",
			zap.String("prediction_id", in.ID),
			zap.String("trace_id", run.TraceID),
			zap.String("kind", errorLabel(err)),
			zap.Error(err),
		)
		return EvaluationResult{}, err
	}

	result := out.(EvaluationResult)
	e.metrics.observeDecision(result.Status, elapsed)
	e.logger.Info("策略评估完成",
		zap.String("decision_id", result.DecisionID),
		zap.String("prediction_id", result.PredictionID),
		zap.String("status", string(result.Status)),
		zap.String("trace_id", result.TraceID),
	)

	return result, nil
}

type evaluation struct {
	result EvaluationResult
	err    error
}

// evaluateWithDeadline 让评估与截止时间赛跑，超时后放弃评估结果。
func (e *Engine) evaluateWithDeadline(ctx context.Context, in PredictionInput, run RunContext) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan evaluation, 1)
	go func() {
		res, err := e.evaluate(ctx, in, run)
		done <- evaluation{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		return out.result, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: exceeded %s", ErrEvaluationTimeout, e.timeout)
		}
		return nil, fmt.Errorf("engine: evaluation cancelled: %w", ctx.Err())
	}
}

func (e *Engine) evaluate(ctx context.Context, in PredictionInput, run RunContext) (EvaluationResult, error) {
	if err := validate(in); err != nil {
		return EvaluationResult{}, err
	}
	if err := validateRun(run); err != nil {
		return EvaluationResult{}, err
	}

	gates := e.gates(e.config.Current())
	gin := buildGateInput(in, run)

	executedAt := run.ExecutedAt
	if executedAt.IsZero() {
		executedAt = e.now()
	}

	result := EvaluationResult{
		DecisionID:   e.newID(),
		PredictionID: in.ID,
		MatchID:      in.MatchID,
		RunID:        in.RunID,
		UserID:       in.UserID,
		ModelVersion: in.ModelVersion,
		TraceID:      run.TraceID,
		ExecutedAt:   executedAt.UTC(),
		GateOutcomes: make(map[string]GateOutcome, 4),
	}

	// 熔断 gate 必须先完成并检查，通过后才会调用其它 gate。
	hardStop := gates.HardStop.Evaluate(gin)
	result.HardStopGate = hardStop.Passed
	result.GateOutcomes[gate.NameHardStop] = outcomeOf(hardStop)

	if !hardStop.Passed {
		reason := gates.HardStop.Reason(gin)
		result.Status = StatusHardStop
		result.HardStopReason = &reason
		result.RecommendedAction = gates.HardStop.RecommendedAction(gin)
		result.Rationale = "Hard stop triggered: " + reason
		// 未评估的 gate 仅为结构完整报告为 true。
		result.ConfidenceGate = true
		result.EdgeGate = true
		result.DriftGate = true
		return result, nil
	}

	var confidence, edge, drift gate.Result
	var group errgroup.Group
	group.Go(func() error {
		confidence = gates.Confidence.Evaluate(gin)
		return nil
	})
	group.Go(func() error {
		edge = gates.Edge.Evaluate(gin)
		return nil
	})
	group.Go(func() error {
		drift = gates.Drift.Evaluate(gin)
		return nil
	})
	if err := group.Wait(); err != nil {
		return EvaluationResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return EvaluationResult{}, err
	}

	result.ConfidenceGate = confidence.Passed
	result.EdgeGate = edge.Passed
	result.DriftGate = drift.Passed
	result.GateOutcomes[gate.NameConfidence] = outcomeOf(confidence)
	result.GateOutcomes[gate.NameEdge] = outcomeOf(edge)
	result.GateOutcomes[gate.NameDrift] = outcomeOf(drift)

	result.Status, result.Rationale = determineDecision(confidence, edge, drift)
	if result.Status == StatusPick {
		result.RecommendedAction = actionPick
	} else {
		result.RecommendedAction = actionNoBet
	}

	return result, nil
}
