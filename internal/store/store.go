// Package store 定义核心所需的持久化端口及其适配器。
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("store: not found")

// ErrStaleRevision 表示状态行在读取后被其它写入修改，本次更新未生效。
var ErrStaleRevision = errors.New("store: hard stop state revision changed")

// HardStopState 为唯一的可变风控记录，每个部署一行。
type HardStopState struct {
	IsActive          bool       `db:"is_active" json:"isActive"`
	DailyLoss         float64    `db:"daily_loss" json:"dailyLoss"`
	ConsecutiveLosses int        `db:"consecutive_losses" json:"consecutiveLosses"`
	BankrollPercent   float64    `db:"bankroll_percent" json:"bankrollPercent"`
	Bankroll          float64    `db:"bankroll" json:"bankroll"`
	LastResetAt       time.Time  `db:"last_reset_at" json:"lastResetAt"`
	TriggeredAt       *time.Time `db:"triggered_at" json:"triggeredAt,omitempty"`
	TriggerReason     *string    `db:"trigger_reason" json:"triggerReason,omitempty"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updatedAt"`
	Revision          int64      `db:"revision" json:"revision"`
}

// AuditEntry 为只追加的风控审计日志。
type AuditEntry struct {
	ID            int64     `db:"id" json:"id"`
	OccurredAt    time.Time `db:"occurred_at" json:"occurredAt"`
	EventType     string    `db:"event_type" json:"eventType"`
	ActorID       string    `db:"actor_id" json:"actorId"`
	Reason        string    `db:"reason" json:"reason"`
	PreviousState string    `db:"previous_state" json:"previousState"`
	CurrentState  string    `db:"current_state" json:"currentState"`
}

// VersionSnapshot 为只追加的策略配置版本。
type VersionSnapshot struct {
	ID                string    `db:"id" json:"id"`
	Version           int64     `db:"version" json:"version"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	CreatedBy         string    `db:"created_by" json:"createdBy"`
	ConfigJSON        string    `db:"config_json" json:"configJson"`
	ChangeReason      string    `db:"change_reason" json:"changeReason"`
	IsRestore         bool      `db:"is_restore" json:"isRestore"`
	PreviousVersionID *string   `db:"previous_version_id" json:"previousVersionId,omitempty"`
}

// DecisionRecord 为持久化的决策记录。
type DecisionRecord struct {
	DecisionID        string    `db:"decision_id" json:"decisionId"`
	PredictionID      string    `db:"prediction_id" json:"predictionId"`
	MatchID           string    `db:"match_id" json:"matchId"`
	RunID             string    `db:"run_id" json:"runId"`
	UserID            string    `db:"user_id" json:"userId"`
	ModelVersion      string    `db:"model_version" json:"modelVersion"`
	Status            string    `db:"status" json:"status"`
	Rationale         string    `db:"rationale" json:"rationale"`
	ConfidenceGate    bool      `db:"confidence_gate" json:"confidenceGate"`
	EdgeGate          bool      `db:"edge_gate" json:"edgeGate"`
	DriftGate         bool      `db:"drift_gate" json:"driftGate"`
	HardStopGate      bool      `db:"hard_stop_gate" json:"hardStopGate"`
	HardStopReason    *string   `db:"hard_stop_reason" json:"hardStopReason"`
	RecommendedAction string    `db:"recommended_action" json:"recommendedAction"`
	TraceID           string    `db:"trace_id" json:"traceId"`
	ExecutedAt        time.Time `db:"executed_at" json:"executedAt"`
	GateOutcomesJSON  string    `db:"gate_outcomes" json:"gateOutcomes"`
}

// EventRecord 为通用的审计事件，payload 为 JSON。
type EventRecord struct {
	ID        int64     `db:"id" json:"id"`
	EventType string    `db:"event_type" json:"eventType"`
	Payload   string    `db:"payload" json:"payload"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// DecisionFilter 为决策查询条件，零值字段不参与过滤。
type DecisionFilter struct {
	From    time.Time
	To      time.Time
	Status  string
	MatchID string
	UserID  string
	Limit   int
	Offset  int
}

// HardStopMutation 在同一事务内修改状态，返回的审计记录与状态一起提交。
// 返回错误时整个事务回滚。
type HardStopMutation func(state *HardStopState) ([]AuditEntry, error)

// HardStopStore 管理熔断状态行。写操作必须串行：并发调用方不能基于过期读取各自提交。
type HardStopStore interface {
	// LoadHardStopState 读取状态行，不存在时以 now 作为 LastResetAt 初始化。
	LoadHardStopState(ctx context.Context, now time.Time) (HardStopState, error)
	MutateHardStopState(ctx context.Context, now time.Time, fn HardStopMutation) (HardStopState, error)
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}

// VersionStore 管理配置版本快照。
type VersionStore interface {
	// AppendVersion 在串行事务内分配 max(version)+1，并写入 build 返回的快照。
	AppendVersion(ctx context.Context, build func(next int64) (VersionSnapshot, error)) (VersionSnapshot, error)
	MaxVersion(ctx context.Context) (int64, error)
	GetVersion(ctx context.Context, id string) (VersionSnapshot, error)
	LatestVersion(ctx context.Context) (VersionSnapshot, error)
	ListVersions(ctx context.Context, limit, offset int) ([]VersionSnapshot, error)
}

// DecisionStore 管理决策记录。
type DecisionStore interface {
	AppendDecision(ctx context.Context, rec DecisionRecord) error
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]DecisionRecord, error)
}

// EventStore 管理只追加的审计事件。
type EventStore interface {
	AppendEvent(ctx context.Context, ev EventRecord) error
	// ListEvents 按类型返回最近事件，eventType 为空时不过滤。
	ListEvents(ctx context.Context, eventType string, limit int) ([]EventRecord, error)
}

// Store 聚合全部端口。
type Store interface {
	HardStopStore
	VersionStore
	DecisionStore
	EventStore
	Close() error
}

func normalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func seedState(now time.Time) HardStopState {
	now = now.UTC()
	return HardStopState{LastResetAt: now, UpdatedAt: now}
}
