package risk

import (
	"fmt"
	"strings"
	"time"

	"pick-policy/internal/policy"
)

// Outcome 为一次已结算投注的结果。
type Outcome string

const (
	OutcomeNone Outcome = ""
	OutcomeWin  Outcome = "WIN"
	OutcomeLoss Outcome = "LOSS"
	OutcomePush Outcome = "PUSH"
)

// ParseOutcome 解析结果字符串，空串表示尚未结算。
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToUpper(strings.TrimSpace(s))); o {
	case OutcomeNone, OutcomeWin, OutcomeLoss, OutcomePush:
		return o, nil
	default:
		return OutcomeNone, fmt.Errorf("%w: unknown outcome %q", ErrInvalidArgument, s)
	}
}

// 审计事件类型。
const (
	EventTriggered     = "hard_stop_triggered"
	EventReset         = "hard_stop_reset"
	EventDailyRollover = "daily_rollover"
	EventBankroll      = "bankroll_updated"
)

// SystemActor 为自动状态变化记录的操作者。
const SystemActor = "system"

// Counters 为当前累计的风控计数。
type Counters struct {
	DailyLoss         float64   `json:"dailyLoss"`
	ConsecutiveLosses int       `json:"consecutiveLosses"`
	BankrollPercent   float64   `json:"bankrollPercent"`
	Bankroll          float64   `json:"bankroll"`
	LastResetAt       time.Time `json:"lastResetAt"`
}

// Status 为对外展示的熔断状态视图。
type Status struct {
	IsActive          bool                  `json:"isActive"`
	TriggeredAt       *time.Time            `json:"triggeredAt,omitempty"`
	TriggerReason     *string               `json:"triggerReason,omitempty"`
	CurrentState      Counters              `json:"currentState"`
	Limits            policy.HardStopLimits `json:"limits"`
	RecommendedAction string                `json:"recommendedAction"`
	AsOf              time.Time             `json:"asOf"`
}
