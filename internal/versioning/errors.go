package versioning

import (
	"errors"
	"fmt"
	"strings"
)

// ErrActorRequired 表示写操作缺少操作人。
var ErrActorRequired = errors.New("versioning: actor is required")

// ErrRestoreBoundsViolation 表示恢复的版本会放宽当前的熔断阈值。
var ErrRestoreBoundsViolation = errors.New("versioning: restore would weaken hard-stop bounds")

// FieldViolation 描述一个被放宽的熔断字段。
type FieldViolation struct {
	Field    string  `json:"field"`
	Restored float64 `json:"restored"`
	Current  float64 `json:"current"`
}

func (v FieldViolation) String() string {
	return fmt.Sprintf("%s: restored %g is less protective than current %g", v.Field, v.Restored, v.Current)
}

// BoundsViolationError 列出全部被放宽的字段。
type BoundsViolationError struct {
	VersionID  string
	Violations []FieldViolation
}

func (e *BoundsViolationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("%s (version %s): %s", ErrRestoreBoundsViolation.Error(), e.VersionID, strings.Join(parts, "; "))
}

func (e *BoundsViolationError) Is(target error) bool {
	return target == ErrRestoreBoundsViolation
}
