package monitor

import (
	"encoding/json"
	"time"

	"pick-policy/internal/engine"
)

// EventType 表示审计事件类型。
type EventType string

const (
	EventDecision        EventType = "decision"
	EventEvaluationError EventType = "evaluation_error"
	EventConfigChange    EventType = "config_change"
	EventHardStopReset   EventType = "hard_stop_reset"
)

// Event 封装通用审计事件。
type Event struct {
	ID        int64       `json:"id,omitempty"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// DecisionPayload 记录一次完成的评估。
type DecisionPayload struct {
	Input  engine.PredictionInput  `json:"input"`
	Result engine.EvaluationResult `json:"result"`
}

// ErrorPayload 记录一次未产生决策的评估。
type ErrorPayload struct {
	Input   engine.PredictionInput `json:"input"`
	Kind    string                 `json:"kind"`
	Error   string                 `json:"error"`
	TraceID string                 `json:"traceId,omitempty"`
}

// ConfigChangePayload 记录配置版本变化。
type ConfigChangePayload struct {
	Version   int64           `json:"version"`
	VersionID string          `json:"versionId"`
	Actor     string          `json:"actor"`
	Reason    string          `json:"reason"`
	IsRestore bool            `json:"isRestore"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// ResetPayload 记录管理员重置熔断。
type ResetPayload struct {
	Actor     string `json:"actor"`
	Reason    string `json:"reason"`
	WasActive bool   `json:"wasActive"`
}
