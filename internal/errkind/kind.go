// Package errkind 把各模块的错误归类为对外暴露的错误分类，HTTP 层与回放共用。
package errkind

import (
	"errors"

	"pick-policy/internal/engine"
	"pick-policy/internal/monitor"
	"pick-policy/internal/policy"
	"pick-policy/internal/risk"
	"pick-policy/internal/store"
	"pick-policy/internal/versioning"
)

// Kind 为错误分类，与三种决策结果互不重叠。
type Kind string

const (
	Validation      Kind = "VALIDATION_ERROR"
	Configuration   Kind = "CONFIGURATION_ERROR"
	CircuitOpen     Kind = "CIRCUIT_BREAKER_OPEN"
	Timeout         Kind = "EVALUATION_TIMEOUT"
	BoundsViolation Kind = "RESTORE_BOUNDS_VIOLATION"
	NotFound        Kind = "NOT_FOUND"
	Internal        Kind = "INTERNAL"
)

// Of 返回 err 的分类，nil 返回空串。
func Of(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, engine.ErrValidation), errors.Is(err, risk.ErrInvalidArgument),
		errors.Is(err, monitor.ErrInvalidFilter), errors.Is(err, versioning.ErrActorRequired):
		return Validation
	case errors.Is(err, policy.ErrInvalidConfig):
		return Configuration
	case errors.Is(err, engine.ErrCircuitOpen):
		return CircuitOpen
	case errors.Is(err, engine.ErrEvaluationTimeout):
		return Timeout
	case errors.Is(err, versioning.ErrRestoreBoundsViolation):
		return BoundsViolation
	case errors.Is(err, store.ErrNotFound):
		return NotFound
	default:
		return Internal
	}
}
