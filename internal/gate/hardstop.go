package gate

import (
	"fmt"
	"math"
	"strings"

	"pick-policy/internal/policy"
)

// BreachKind 标识触发熔断的条件。
type BreachKind string

const (
	BreachDailyLoss         BreachKind = "daily_loss"
	BreachConsecutiveLosses BreachKind = "consecutive_losses"
	BreachBankrollPercent   BreachKind = "bankroll_percent"
	BreachLatched           BreachKind = "latched"
)

// Breach 描述一个被触发的熔断条件。
type Breach struct {
	Kind    BreachKind
	Value   float64
	Limit   float64
	Message string
}

// CheckBreaches 独立检查三个熔断条件并返回所有被触发的条件，边界值视为触发。
// Tracker 与 HardStopGate 共用此判定。
func CheckBreaches(limits policy.HardStopLimits, dailyLoss float64, consecutiveLosses int, bankrollPercent float64) []Breach {
	var breaches []Breach

	if dailyLoss >= limits.DailyLossLimit {
		breaches = append(breaches, Breach{
			Kind:    BreachDailyLoss,
			Value:   dailyLoss,
			Limit:   limits.DailyLossLimit,
			Message: fmt.Sprintf("Daily loss $%.2f reached limit $%.2f", dailyLoss, limits.DailyLossLimit),
		})
	}
	if consecutiveLosses >= limits.ConsecutiveLosses {
		breaches = append(breaches, Breach{
			Kind:    BreachConsecutiveLosses,
			Value:   float64(consecutiveLosses),
			Limit:   float64(limits.ConsecutiveLosses),
			Message: fmt.Sprintf("Consecutive losses %d reached limit %d", consecutiveLosses, limits.ConsecutiveLosses),
		})
	}
	if bankrollPercent >= limits.BankrollPercent {
		breaches = append(breaches, Breach{
			Kind:    BreachBankrollPercent,
			Value:   bankrollPercent,
			Limit:   limits.BankrollPercent,
			Message: fmt.Sprintf("Bankroll loss %.1f%% reached limit %.1f%%", pct(bankrollPercent), pct(limits.BankrollPercent)),
		})
	}

	return breaches
}

// inputBreaches 在计数判定之外，把尚未重置的熔断也视为触发条件。
func inputBreaches(limits policy.HardStopLimits, in Input) []Breach {
	breaches := CheckBreaches(limits, in.DailyLoss, in.ConsecutiveLosses, in.BankrollPercent)
	if !in.Latched {
		return breaches
	}
	msg := "Hard stop active until administrator reset"
	if in.LatchedReason != "" {
		msg += " (triggered by: " + in.LatchedReason + ")"
	}
	return append(breaches, Breach{Kind: BreachLatched, Value: 1, Limit: 1, Message: msg})
}

// JoinBreaches 拼接所有触发条件的描述。
func JoinBreaches(breaches []Breach) string {
	parts := make([]string, 0, len(breaches))
	for _, b := range breaches {
		parts = append(parts, b.Message)
	}
	return strings.Join(parts, "; ")
}

// HardStopGate 熔断 gate，失败即阻断，必须先于其它 gate 评估。
type HardStopGate struct {
	limits policy.HardStopLimits
}

// NewHardStopGate 创建熔断 gate。
func NewHardStopGate(limits policy.HardStopLimits) HardStopGate {
	return HardStopGate{limits: limits}
}

func (g HardStopGate) Name() string { return NameHardStop }

// Evaluate 的 score 为三项限额中最高的占用比例，threshold 固定为 1。
func (g HardStopGate) Evaluate(in Input) Result {
	breaches := inputBreaches(g.limits, in)

	score := math.Max(
		utilisation(in.DailyLoss, g.limits.DailyLossLimit),
		math.Max(
			utilisation(float64(in.ConsecutiveLosses), float64(g.limits.ConsecutiveLosses)),
			utilisation(in.BankrollPercent, g.limits.BankrollPercent),
		),
	)

	if in.Latched {
		score = math.Max(score, 1)
	}

	msg := "All hard-stop limits within bounds"
	if len(breaches) > 0 {
		msg = JoinBreaches(breaches)
	}

	return Result{
		GateName:  NameHardStop,
		Passed:    len(breaches) == 0,
		Score:     score,
		Threshold: 1,
		Message:   msg,
		Severity:  SeverityBlocking,
	}
}

// Reason 返回熔断原因；未触发时为空。
func (g HardStopGate) Reason(in Input) string {
	return JoinBreaches(inputBreaches(g.limits, in))
}

// RecommendedAction 返回面向操作员的处置建议。
func (g HardStopGate) RecommendedAction(in Input) string {
	return RecommendedAction(inputBreaches(g.limits, in))
}

// RecommendedAction 根据触发条件生成处置建议。
// 熔断不会在日切时自动解除，文案必须要求人工重置。
func RecommendedAction(breaches []Breach) string {
	if len(breaches) == 0 {
		return "Continue normal operation"
	}

	steps := make([]string, 0, len(breaches)+1)
	steps = append(steps, "Halt all betting activity")
	for _, b := range breaches {
		switch b.Kind {
		case BreachDailyLoss:
			steps = append(steps, "review today's settled losses")
		case BreachConsecutiveLosses:
			steps = append(steps, "review model performance over the losing streak")
		case BreachBankrollPercent:
			steps = append(steps, "reassess stake sizing against the current bankroll")
		}
	}

	return strings.Join(steps, ", ") + ". An administrator must reset the hard stop before betting resumes."
}

func utilisation(value, limit float64) float64 {
	if limit <= 0 {
		if value >= limit {
			return 1
		}
		return 0
	}
	ratio := value / limit
	if ratio < 0 {
		return 0
	}
	return ratio
}
