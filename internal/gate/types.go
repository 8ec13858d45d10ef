// Package gate 提供单维度的纯函数检查：置信度、优势、漂移与熔断。
package gate

// Severity 表示 gate 失败时的严重程度。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityBlocking Severity = "blocking"
)

// Gate 名称，同时作为 gateOutcomes 的键。
const (
	NameConfidence = "confidence"
	NameEdge       = "edge"
	NameDrift      = "drift"
	NameHardStop   = "hardStop"
)

// Input 为一次评估中 gate 可见的全部数值。
type Input struct {
	Confidence        *float64
	Edge              *float64
	DriftScore        *float64
	DailyLoss         float64
	ConsecutiveLosses int
	BankrollPercent   float64
	// Latched 表示熔断已在此前触发且尚未人工重置，与当前计数无关。
	Latched       bool
	LatchedReason string
}

// Result 为单个 gate 的评估结果。
type Result struct {
	GateName  string   `json:"gateName"`
	Passed    bool     `json:"passed"`
	Score     float64  `json:"score"`
	Threshold float64  `json:"threshold"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// Gate 是无状态、无副作用的检查。
type Gate interface {
	Name() string
	Evaluate(in Input) Result
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func pct(v float64) float64 {
	return v * 100
}
