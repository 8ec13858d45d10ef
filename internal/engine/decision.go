package engine

import (
	"fmt"
	"strings"

	"pick-policy/internal/gate"
)

const (
	actionPick  = "Proceed with the pick"
	actionNoBet = "Do not bet on this match"
)

// determineDecision 根据三个次级 gate 的结果给出结论与理由。
// 理由只依赖 gate 的分数与阈值，可由记录复现。
func determineDecision(confidence, edge, drift gate.Result) (Status, string) {
	results := []gate.Result{confidence, edge, drift}

	failed := make([]string, 0, len(results))
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, describe(r))
		}
	}

	if len(failed) > 0 {
		return StatusNoBet, "Gates failed: " + strings.Join(failed, ", ")
	}

	passed := make([]string, 0, len(results))
	for _, r := range results {
		passed = append(passed, describe(r))
	}
	return StatusPick, "All gates passed: " + strings.Join(passed, ", ")
}

func describe(r gate.Result) string {
	op := comparison(r)
	return fmt.Sprintf("%s (%.1f%% %s %.1f%%)", r.GateName, r.Score*100, op, r.Threshold*100)
}

// drift 方向相反：分数越低越好。
func comparison(r gate.Result) string {
	if r.GateName == gate.NameDrift {
		if r.Passed {
			return "<="
		}
		return ">"
	}
	if r.Passed {
		return ">="
	}
	return "<"
}
