package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrValidation 表示预测输入非法，gate 未执行，也不会产生决策记录。
	ErrValidation = errors.New("engine: invalid prediction input")
	// ErrCircuitOpen 表示熔断器打开，请求未触达任何 gate。
	ErrCircuitOpen = errors.New("engine: circuit breaker open")
	// ErrEvaluationTimeout 表示评估超过截止时间被放弃。
	ErrEvaluationTimeout = errors.New("engine: evaluation timeout")
)

// ValidationError 指出具体的非法字段。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("engine: invalid prediction input: %s %s", e.Field, e.Reason)
}

// Is 使 errors.Is(err, ErrValidation) 成立。
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validate(in PredictionInput) error {
	if strings.TrimSpace(in.ID) == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if in.Confidence == nil {
		return &ValidationError{Field: "confidence", Reason: "is required"}
	}
	if c := *in.Confidence; math.IsNaN(c) || c < 0 || c > 1 {
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("must be within [0,1], got %v", c)}
	}
	if in.Edge != nil && !isFinite(*in.Edge) {
		return &ValidationError{Field: "edge", Reason: "must be a finite number"}
	}
	if in.DriftScore != nil && !isFinite(*in.DriftScore) {
		return &ValidationError{Field: "driftScore", Reason: "must be a finite number"}
	}
	return nil
}

// validateRun 拒绝非法的风控上下文，避免 NaN 或负数绕过熔断比较。
func validateRun(run RunContext) error {
	if !isFinite(run.DailyLoss) || run.DailyLoss < 0 {
		return &ValidationError{Field: "dailyLoss", Reason: fmt.Sprintf("must be a non-negative finite number, got %v", run.DailyLoss)}
	}
	if run.ConsecutiveLosses < 0 {
		return &ValidationError{Field: "consecutiveLosses", Reason: fmt.Sprintf("must be non-negative, got %d", run.ConsecutiveLosses)}
	}
	if !isFinite(run.CurrentBankroll) || run.CurrentBankroll < 0 {
		return &ValidationError{Field: "currentBankroll", Reason: fmt.Sprintf("must be a non-negative finite number, got %v", run.CurrentBankroll)}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrEvaluationTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}
