package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"pick-policy/internal/engine"
	"pick-policy/internal/gate"
	"pick-policy/internal/store"
)

// ErrInvalidArgument 表示调用参数非法，状态不会变化。
var ErrInvalidArgument = errors.New("risk: invalid argument")

const activeWithoutBreach = "Halt all betting activity. An administrator must reset the hard stop before betting resumes."

// Tracker 维护跨调用的熔断状态，是唯一修改持久化风控状态的组件。
// 所有写操作都在存储层的串行事务内完成读改写。
type Tracker struct {
	store   store.HardStopStore
	limits  engine.ConfigSource
	cache   StatusCache
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// Option 配置 Tracker。
type Option func(*Tracker)

// WithClock 注入时钟。
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithCache 设置状态快照缓存。
func WithCache(c StatusCache) Option {
	return func(t *Tracker) {
		if c != nil {
			t.cache = c
		}
	}
}

// WithMetrics 设置指标。
func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) {
		if m != nil {
			t.metrics = m
		}
	}
}

// NewTracker 创建熔断状态跟踪器。
func NewTracker(st store.HardStopStore, limits engine.ConfigSource, logger *zap.Logger, opts ...Option) (*Tracker, error) {
	if st == nil {
		return nil, errors.New("risk: store 不能为空")
	}
	if limits == nil {
		return nil, errors.New("risk: 配置来源不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Tracker{
		store:   st,
		limits:  limits,
		cache:   NopCache{},
		metrics: NewMetrics(nil),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// State 读取当前状态，读取前执行日切检查。
func (t *Tracker) State(ctx context.Context) (store.HardStopState, error) {
	now := t.now().UTC()
	state, err := t.store.LoadHardStopState(ctx, now)
	if err != nil {
		return store.HardStopState{}, err
	}
	if !needsDailyReset(state, now) {
		return state, nil
	}
	return t.CheckDailyReset(ctx)
}

// CheckDailyReset 在跨越 UTC 零点时清零当日亏损与资金占比。
// 熔断标志与连续亏损不随日切清除；同一天内重复调用不产生写入。
func (t *Tracker) CheckDailyReset(ctx context.Context) (store.HardStopState, error) {
	now := t.now().UTC()
	state, err := t.store.LoadHardStopState(ctx, now)
	if err != nil {
		return store.HardStopState{}, err
	}
	if !needsDailyReset(state, now) {
		return state, nil
	}

	rolled := false
	state, err = t.mutate(ctx, now, func(st *store.HardStopState) ([]store.AuditEntry, error) {
		entries := t.rollover(st, now)
		rolled = len(entries) > 0
		return entries, nil
	})
	if err != nil {
		return store.HardStopState{}, err
	}
	if rolled {
		t.logger.Info("熔断计数日切", zap.Time("last_reset_at", state.LastResetAt), zap.Bool("is_active", state.IsActive))
	}
	return state, nil
}

// UpdateDailyLoss 累加当日亏损并检查熔断条件。已熔断时不做任何修改。
func (t *Tracker) UpdateDailyLoss(ctx context.Context, amount float64) (store.HardStopState, error) {
	if err := validAmount(amount); err != nil {
		return store.HardStopState{}, err
	}
	now := t.now().UTC()
	return t.mutate(ctx, now, func(st *store.HardStopState) ([]store.AuditEntry, error) {
		entries := t.rollover(st, now)
		if st.IsActive {
			return entries, nil
		}
		st.DailyLoss += amount
		st.BankrollPercent = bankrollPercent(st.DailyLoss, st.Bankroll)
		return append(entries, t.checkBreaches(st, now)...), nil
	})
}

// UpdateAfterDecision 根据已结算结果更新连续亏损并检查熔断条件。已熔断时不做任何修改。
// status 仅用于审计上下文；LOSS 递增、WIN 清零、PUSH 或未结算不改变计数。
func (t *Tracker) UpdateAfterDecision(ctx context.Context, status engine.Status, outcome Outcome) (store.HardStopState, error) {
	return t.RecordOutcome(ctx, status, outcome, 0)
}

// RecordOutcome 在同一事务内结算一笔投注：LOSS 同时累加亏损金额与连续亏损。
func (t *Tracker) RecordOutcome(ctx context.Context, status engine.Status, outcome Outcome, lossAmount float64) (store.HardStopState, error) {
	if !status.Valid() {
		return store.HardStopState{}, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
	}
	parsed, err := ParseOutcome(string(outcome))
	if err != nil {
		return store.HardStopState{}, err
	}
	if err := validAmount(lossAmount); err != nil {
		return store.HardStopState{}, err
	}

	now := t.now().UTC()
	return t.mutate(ctx, now, func(st *store.HardStopState) ([]store.AuditEntry, error) {
		entries := t.rollover(st, now)
		if st.IsActive {
			return entries, nil
		}
		switch parsed {
		case OutcomeLoss:
			st.ConsecutiveLosses++
			if lossAmount > 0 {
				st.DailyLoss += lossAmount
				st.BankrollPercent = bankrollPercent(st.DailyLoss, st.Bankroll)
			}
		case OutcomeWin:
			st.ConsecutiveLosses = 0
		}
		return append(entries, t.checkBreaches(st, now)...), nil
	})
}

// SetBankroll 更新用于计算资金占比的本金，并重新检查熔断条件。
func (t *Tracker) SetBankroll(ctx context.Context, amount float64, actorID string) (store.HardStopState, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return store.HardStopState{}, fmt.Errorf("%w: bankroll must be positive", ErrInvalidArgument)
	}
	if actorID == "" {
		actorID = SystemActor
	}

	now := t.now().UTC()
	return t.mutate(ctx, now, func(st *store.HardStopState) ([]store.AuditEntry, error) {
		entries := t.rollover(st, now)
		prev := *st
		st.Bankroll = amount
		if !st.IsActive {
			st.BankrollPercent = bankrollPercent(st.DailyLoss, st.Bankroll)
		}
		entries = append(entries, auditEntry(now, EventBankroll, actorID, fmt.Sprintf("bankroll set to %.2f", amount), prev, *st))
		if st.IsActive {
			return entries, nil
		}
		return append(entries, t.checkBreaches(st, now)...), nil
	})
}

// EnsureBankroll 仅在尚未记录本金时设置初始值。
func (t *Tracker) EnsureBankroll(ctx context.Context, amount float64) error {
	if amount <= 0 {
		return nil
	}
	state, err := t.State(ctx)
	if err != nil {
		return err
	}
	if state.Bankroll > 0 {
		return nil
	}
	_, err = t.SetBankroll(ctx, amount, SystemActor)
	return err
}

// Reset 由管理员解除熔断：清零全部计数并记录重置前的状态。任何状态下都允许执行。
func (t *Tracker) Reset(ctx context.Context, reason, actorID string) (store.HardStopState, error) {
	if reason == "" {
		return store.HardStopState{}, fmt.Errorf("%w: reset reason is required", ErrInvalidArgument)
	}
	if actorID == "" {
		return store.HardStopState{}, fmt.Errorf("%w: actor id is required", ErrInvalidArgument)
	}

	now := t.now().UTC()
	var wasActive bool
	state, err := t.mutate(ctx, now, func(st *store.HardStopState) ([]store.AuditEntry, error) {
		prev := *st
		wasActive = prev.IsActive

		st.IsActive = false
		st.DailyLoss = 0
		st.ConsecutiveLosses = 0
		st.BankrollPercent = 0
		st.TriggeredAt = nil
		st.TriggerReason = nil
		st.LastResetAt = now

		return []store.AuditEntry{auditEntry(now, EventReset, actorID, reason, prev, *st)}, nil
	})
	if err != nil {
		return store.HardStopState{}, err
	}

	t.logger.Info("熔断已人工重置",
		zap.String("actor_id", actorID),
		zap.String("reason", reason),
		zap.Bool("was_active", wasActive),
	)
	return state, nil
}

// Status 返回状态视图。缓存快照仅在同一 UTC 日内有效，不可用于判断是否解除熔断。
func (t *Tracker) Status(ctx context.Context) (Status, error) {
	now := t.now().UTC()
	if cached, ok, err := t.cache.Get(ctx); err != nil {
		t.logger.Warn("读取熔断状态缓存失败", zap.Error(err))
	} else if ok && sameUTCDay(cached.AsOf, now) {
		return cached, nil
	}

	state, err := t.State(ctx)
	if err != nil {
		return Status{}, err
	}
	status := t.view(state, now)
	t.storeCache(ctx, status)
	return status, nil
}

// IsActive 直接读取存储中的熔断标志。
func (t *Tracker) IsActive(ctx context.Context) (bool, error) {
	state, err := t.State(ctx)
	if err != nil {
		return false, err
	}
	return state.IsActive, nil
}

// RunContext 以当前状态构造一次评估所需的风控上下文。
func (t *Tracker) RunContext(ctx context.Context, traceID string) (engine.RunContext, error) {
	state, err := t.State(ctx)
	if err != nil {
		return engine.RunContext{}, err
	}
	run := engine.RunContext{
		DailyLoss:         state.DailyLoss,
		ConsecutiveLosses: state.ConsecutiveLosses,
		CurrentBankroll:   state.Bankroll,
		TraceID:           traceID,
		ExecutedAt:        t.now().UTC(),
		HardStopActive:    state.IsActive,
	}
	if state.TriggerReason != nil {
		run.HardStopReason = *state.TriggerReason
	}
	return run, nil
}

// AuditLog 返回最近的审计记录，按时间倒序。
func (t *Tracker) AuditLog(ctx context.Context, limit int) ([]store.AuditEntry, error) {
	return t.store.ListAudit(ctx, limit)
}

func (t *Tracker) mutate(ctx context.Context, now time.Time, fn store.HardStopMutation) (store.HardStopState, error) {
	wasActive := false
	state, err := t.store.MutateHardStopState(ctx, now, func(st *store.HardStopState) ([]store.AuditEntry, error) {
		wasActive = st.IsActive
		return fn(st)
	})
	if err != nil {
		return store.HardStopState{}, err
	}

	t.metrics.active.Set(boolGauge(state.IsActive))
	if state.IsActive && !wasActive {
		t.metrics.triggers.Inc()
		reason := ""
		if state.TriggerReason != nil {
			reason = *state.TriggerReason
		}
		t.logger.Warn("触发熔断",
			zap.String("reason", reason),
			zap.Float64("daily_loss", state.DailyLoss),
			zap.Int("consecutive_losses", state.ConsecutiveLosses),
			zap.Float64("bankroll_percent", state.BankrollPercent),
		)
	}

	t.storeCache(ctx, t.view(state, now))
	return state, nil
}

// rollover 在事务内执行日切，返回需要写入的审计记录。
func (t *Tracker) rollover(st *store.HardStopState, now time.Time) []store.AuditEntry {
	if !needsDailyReset(*st, now) {
		return nil
	}
	prev := *st
	st.DailyLoss = 0
	st.BankrollPercent = 0
	st.LastResetAt = now
	return []store.AuditEntry{auditEntry(now, EventDailyRollover, SystemActor, "UTC day rollover", prev, *st)}
}

func (t *Tracker) checkBreaches(st *store.HardStopState, now time.Time) []store.AuditEntry {
	limits := t.limits.Current().HardStops
	breaches := gate.CheckBreaches(limits, st.DailyLoss, st.ConsecutiveLosses, st.BankrollPercent)
	if len(breaches) == 0 {
		return nil
	}

	prev := *st
	reason := gate.JoinBreaches(breaches)
	triggeredAt := now
	st.IsActive = true
	st.TriggeredAt = &triggeredAt
	st.TriggerReason = &reason
	return []store.AuditEntry{auditEntry(now, EventTriggered, SystemActor, reason, prev, *st)}
}

func (t *Tracker) view(state store.HardStopState, now time.Time) Status {
	limits := t.limits.Current().HardStops
	action := gate.RecommendedAction(gate.CheckBreaches(limits, state.DailyLoss, state.ConsecutiveLosses, state.BankrollPercent))
	if state.IsActive {
		breaches := gate.CheckBreaches(limits, state.DailyLoss, state.ConsecutiveLosses, state.BankrollPercent)
		if len(breaches) == 0 {
			action = activeWithoutBreach
		}
	}
	return Status{
		IsActive:      state.IsActive,
		TriggeredAt:   state.TriggeredAt,
		TriggerReason: state.TriggerReason,
		CurrentState: Counters{
			DailyLoss:         state.DailyLoss,
			ConsecutiveLosses: state.ConsecutiveLosses,
			BankrollPercent:   state.BankrollPercent,
			Bankroll:          state.Bankroll,
			LastResetAt:       state.LastResetAt,
		},
		Limits:            limits,
		RecommendedAction: action,
		AsOf:              now,
	}
}

func (t *Tracker) storeCache(ctx context.Context, status Status) {
	if err := t.cache.Set(ctx, status); err != nil {
		t.logger.Warn("写入熔断状态缓存失败", zap.Error(err))
	}
}

func auditEntry(now time.Time, eventType, actorID, reason string, prev, curr store.HardStopState) store.AuditEntry {
	return store.AuditEntry{
		OccurredAt:    now,
		EventType:     eventType,
		ActorID:       actorID,
		Reason:        reason,
		PreviousState: snapshotJSON(prev),
		CurrentState:  snapshotJSON(curr),
	}
}

func snapshotJSON(s store.HardStopState) string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func needsDailyReset(s store.HardStopState, now time.Time) bool {
	return !sameUTCDay(s.LastResetAt, now) && now.After(s.LastResetAt)
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func bankrollPercent(dailyLoss, bankroll float64) float64 {
	if bankroll <= 0 {
		return 0
	}
	return dailyLoss / bankroll
}

func validAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return fmt.Errorf("%w: amount must be a non-negative number", ErrInvalidArgument)
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
