package engine

import (
	"time"

	"pick-policy/internal/gate"
)

// Status 为评估结论，仅有三种取值。
type Status string

const (
	StatusPick     Status = "PICK"
	StatusNoBet    Status = "NO_BET"
	StatusHardStop Status = "HARD_STOP"
)

// Valid 判断状态取值是否合法。
func (s Status) Valid() bool {
	switch s {
	case StatusPick, StatusNoBet, StatusHardStop:
		return true
	default:
		return false
	}
}

// PredictionInput 为一次评估请求。Confidence 必填，Edge 与 DriftScore 可选。
type PredictionInput struct {
	ID           string   `json:"id"`
	MatchID      string   `json:"matchId"`
	RunID        string   `json:"runId"`
	UserID       string   `json:"userId"`
	Confidence   *float64 `json:"confidence"`
	Edge         *float64 `json:"edge,omitempty"`
	DriftScore   *float64 `json:"driftScore,omitempty"`
	ModelVersion string   `json:"modelVersion,omitempty"`
}

// RunContext 为调用方提供的本次评估风险快照。
type RunContext struct {
	DailyLoss         float64   `json:"dailyLoss"`
	ConsecutiveLosses int       `json:"consecutiveLosses"`
	CurrentBankroll   float64   `json:"currentBankroll"`
	TraceID           string    `json:"traceId"`
	ExecutedAt        time.Time `json:"executedAt"`
	// HardStopActive 为跟踪器中尚未重置的熔断标志，置位时必然返回 HARD_STOP。
	HardStopActive bool   `json:"hardStopActive,omitempty"`
	HardStopReason string `json:"hardStopReason,omitempty"`
}

// BankrollPercent 为当日亏损占资金比例，资金非正时为 0。
func (r RunContext) BankrollPercent() float64 {
	if r.CurrentBankroll <= 0 {
		return 0
	}
	return r.DailyLoss / r.CurrentBankroll
}

// GateOutcome 记录单个 gate 的分数与阈值。
type GateOutcome struct {
	Passed    bool    `json:"passed"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
}

// EvaluationResult 为可审计的决策记录，生成后不再修改。
type EvaluationResult struct {
	DecisionID        string                 `json:"decisionId"`
	PredictionID      string                 `json:"predictionId"`
	MatchID           string                 `json:"matchId,omitempty"`
	RunID             string                 `json:"runId,omitempty"`
	UserID            string                 `json:"userId,omitempty"`
	ModelVersion      string                 `json:"modelVersion,omitempty"`
	Status            Status                 `json:"status"`
	Rationale         string                 `json:"rationale"`
	ConfidenceGate    bool                   `json:"confidenceGate"`
	EdgeGate          bool                   `json:"edgeGate"`
	DriftGate         bool                   `json:"driftGate"`
	HardStopGate      bool                   `json:"hardStopGate"`
	HardStopReason    *string                `json:"hardStopReason"`
	RecommendedAction string                 `json:"recommendedAction"`
	TraceID           string                 `json:"traceId"`
	ExecutedAt        time.Time              `json:"executedAt"`
	GateOutcomes      map[string]GateOutcome `json:"gateOutcomes"`
}

func outcomeOf(r gate.Result) GateOutcome {
	return GateOutcome{Passed: r.Passed, Score: r.Score, Threshold: r.Threshold}
}

func buildGateInput(in PredictionInput, run RunContext) gate.Input {
	return gate.Input{
		Confidence:        in.Confidence,
		Edge:              in.Edge,
		DriftScore:        in.DriftScore,
		DailyLoss:         run.DailyLoss,
		ConsecutiveLosses: run.ConsecutiveLosses,
		BankrollPercent:   run.BankrollPercent(),
		Latched:           run.HardStopActive,
		LatchedReason:     run.HardStopReason,
	}
}
