package gate

import (
	"fmt"

	"pick-policy/internal/policy"
)

// ConfidenceGate 要求置信度不低于阈值，缺失视为 0。
type ConfidenceGate struct {
	minThreshold float64
}

// NewConfidenceGate 创建置信度 gate。
func NewConfidenceGate(cfg policy.ConfidenceConfig) ConfidenceGate {
	return ConfidenceGate{minThreshold: cfg.MinThreshold}
}

func (g ConfidenceGate) Name() string { return NameConfidence }

func (g ConfidenceGate) Evaluate(in Input) Result {
	score := valueOrZero(in.Confidence)
	passed := score >= g.minThreshold

	msg := fmt.Sprintf("Confidence %.1f%% meets minimum %.1f%%", pct(score), pct(g.minThreshold))
	if !passed {
		msg = fmt.Sprintf("Confidence %.1f%% below minimum %.1f%%", pct(score), pct(g.minThreshold))
	}

	return Result{
		GateName:  NameConfidence,
		Passed:    passed,
		Score:     score,
		Threshold: g.minThreshold,
		Message:   msg,
		Severity:  SeverityWarning,
	}
}

// EdgeGate 要求优势不低于阈值，缺失视为 0。
type EdgeGate struct {
	minThreshold float64
}

// NewEdgeGate 创建优势 gate。
func NewEdgeGate(cfg policy.EdgeConfig) EdgeGate {
	return EdgeGate{minThreshold: cfg.MinThreshold}
}

func (g EdgeGate) Name() string { return NameEdge }

func (g EdgeGate) Evaluate(in Input) Result {
	score := valueOrZero(in.Edge)
	passed := score >= g.minThreshold

	msg := fmt.Sprintf("Edge %.1f%% meets minimum %.1f%%", pct(score), pct(g.minThreshold))
	if !passed {
		msg = fmt.Sprintf("Edge %.1f%% below minimum %.1f%%", pct(score), pct(g.minThreshold))
	}

	return Result{
		GateName:  NameEdge,
		Passed:    passed,
		Score:     score,
		Threshold: g.minThreshold,
		Message:   msg,
		Severity:  SeverityWarning,
	}
}

// DriftGate 要求漂移分数不高于上限。方向与其它 gate 相反：越低越好。
type DriftGate struct {
	maxDriftScore float64
}

// NewDriftGate 创建漂移 gate。
func NewDriftGate(cfg policy.DriftConfig) DriftGate {
	return DriftGate{maxDriftScore: cfg.MaxDriftScore}
}

func (g DriftGate) Name() string { return NameDrift }

func (g DriftGate) Evaluate(in Input) Result {
	score := valueOrZero(in.DriftScore)
	passed := score <= g.maxDriftScore

	msg := fmt.Sprintf("Drift %.1f%% within maximum %.1f%%", pct(score), pct(g.maxDriftScore))
	if !passed {
		msg = fmt.Sprintf("Drift %.1f%% exceeds maximum %.1f%%", pct(score), pct(g.maxDriftScore))
	}

	return Result{
		GateName:  NameDrift,
		Passed:    passed,
		Score:     score,
		Threshold: g.maxDriftScore,
		Message:   msg,
		Severity:  SeverityWarning,
	}
}
