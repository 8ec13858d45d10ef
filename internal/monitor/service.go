// Package monitor 持久化决策记录与评估异常，并提供查询。
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pick-policy/internal/engine"
	"pick-policy/internal/store"
)

// ErrInvalidFilter 表示决策查询条件非法。
var ErrInvalidFilter = errors.New("monitor: invalid decision filter")

// Journal 所需的存储端口。
type Journal interface {
	store.DecisionStore
	store.EventStore
}

// Service 负责持久化决策与审计事件。写入失败只记录日志，不影响评估结果。
type Service struct {
	store  Journal
	logger *zap.Logger
	now    func() time.Time
}

// NewService 初始化监控服务。
func NewService(st Journal, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	if err := s.store.AppendEvent(ctx, store.EventRecord{
		EventType: string(event.Type),
		Payload:   string(payload),
		CreatedAt: event.Timestamp.UTC(),
	}); err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}
	return nil
}

// RecordDecision 持久化决策记录并写入审计事件。
func (s *Service) RecordDecision(ctx context.Context, input engine.PredictionInput, result engine.EvaluationResult) {
	rec, err := ToRecord(result)
	if err != nil {
		s.logger.Warn("转换决策记录失败", zap.String("decision_id", result.DecisionID), zap.Error(err))
		return
	}
	if err := s.store.AppendDecision(ctx, rec); err != nil {
		s.logger.Warn("写入决策记录失败", zap.String("decision_id", result.DecisionID), zap.Error(err))
		return
	}
	if err := s.Record(ctx, Event{
		Type:      EventDecision,
		Timestamp: result.ExecutedAt,
		Payload:   DecisionPayload{Input: input, Result: result},
	}); err != nil {
		s.logger.Warn("记录决策事件失败", zap.Error(err))
	}
}

// RecordError 记录未产生决策的评估；不会写入决策表。
func (s *Service) RecordError(ctx context.Context, input engine.PredictionInput, kind, traceID string, evalErr error) {
	if evalErr == nil {
		return
	}
	payload := ErrorPayload{
		Input:   input,
		Kind:    kind,
		Error:   evalErr.Error(),
		TraceID: traceID,
	}
	if err := s.Record(ctx, Event{
		Type:      EventEvaluationError,
		Timestamp: s.now(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(err))
	}
}

// RecordConfigChange 记录配置版本变化。
func (s *Service) RecordConfigChange(ctx context.Context, payload ConfigChangePayload) {
	if err := s.Record(ctx, Event{Type: EventConfigChange, Payload: payload}); err != nil {
		s.logger.Warn("记录配置变更事件失败", zap.Error(err))
	}
}

// RecordReset 记录熔断重置。
func (s *Service) RecordReset(ctx context.Context, payload ResetPayload) {
	if err := s.Record(ctx, Event{Type: EventHardStopReset, Payload: payload}); err != nil {
		s.logger.Warn("记录熔断重置事件失败", zap.Error(err))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	records, err := s.store.ListEvents(ctx, string(eventType), limit)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}

	events := make([]Event, 0, len(records))
	for _, r := range records {
		events = append(events, Event{
			ID:        r.ID,
			Type:      EventType(r.EventType),
			Timestamp: r.CreatedAt,
			Payload:   json.RawMessage(r.Payload),
		})
	}
	return events, nil
}

// ListDecisions 按日期范围、状态、比赛与用户查询决策。
func (s *Service) ListDecisions(ctx context.Context, filter store.DecisionFilter) ([]engine.EvaluationResult, error) {
	if filter.Status != "" && !engine.Status(filter.Status).Valid() {
		return nil, fmt.Errorf("%w: 未知的决策状态 %q", ErrInvalidFilter, filter.Status)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, fmt.Errorf("%w: 查询区间无效 [%s, %s)", ErrInvalidFilter, filter.From.Format(time.RFC3339), filter.To.Format(time.RFC3339))
	}

	records, err := s.store.ListDecisions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询决策失败: %w", err)
	}

	out := make([]engine.EvaluationResult, 0, len(records))
	for _, r := range records {
		res, err := FromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// ToRecord 把决策转换为存储记录。
func ToRecord(r engine.EvaluationResult) (store.DecisionRecord, error) {
	outcomes, err := json.Marshal(r.GateOutcomes)
	if err != nil {
		return store.DecisionRecord{}, fmt.Errorf("monitor: 序列化 gate 结果失败: %w", err)
	}
	return store.DecisionRecord{
		DecisionID:        r.DecisionID,
		PredictionID:      r.PredictionID,
		MatchID:           r.MatchID,
		RunID:             r.RunID,
		UserID:            r.UserID,
		ModelVersion:      r.ModelVersion,
		Status:            string(r.Status),
		Rationale:         r.Rationale,
		ConfidenceGate:    r.ConfidenceGate,
		EdgeGate:          r.EdgeGate,
		DriftGate:         r.DriftGate,
		HardStopGate:      r.HardStopGate,
		HardStopReason:    r.HardStopReason,
		RecommendedAction: r.RecommendedAction,
		TraceID:           r.TraceID,
		ExecutedAt:        r.ExecutedAt.UTC(),
		GateOutcomesJSON:  string(outcomes),
	}, nil
}

// FromRecord 还原存储记录。
func FromRecord(rec store.DecisionRecord) (engine.EvaluationResult, error) {
	var outcomes map[string]engine.GateOutcome
	if rec.GateOutcomesJSON != "" {
		if err := json.Unmarshal([]byte(rec.GateOutcomesJSON), &outcomes); err != nil {
			return engine.EvaluationResult{}, fmt.Errorf("monitor: 解析决策 %s 的 gate 结果失败: %w", rec.DecisionID, err)
		}
	}
	return engine.EvaluationResult{
		DecisionID:        rec.DecisionID,
		PredictionID:      rec.PredictionID,
		MatchID:           rec.MatchID,
		RunID:             rec.RunID,
		UserID:            rec.UserID,
		ModelVersion:      rec.ModelVersion,
		Status:            engine.Status(rec.Status),
		Rationale:         rec.Rationale,
		ConfidenceGate:    rec.ConfidenceGate,
		EdgeGate:          rec.EdgeGate,
		DriftGate:         rec.DriftGate,
		HardStopGate:      rec.HardStopGate,
		HardStopReason:    rec.HardStopReason,
		RecommendedAction: rec.RecommendedAction,
		TraceID:           rec.TraceID,
		ExecutedAt:        rec.ExecutedAt,
		GateOutcomes:      outcomes,
	}, nil
}
