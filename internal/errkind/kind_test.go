package errkind

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"pick-policy/internal/engine"
	"pick-policy/internal/monitor"
	"pick-policy/internal/policy"
	"pick-policy/internal/risk"
	"pick-policy/internal/store"
	"pick-policy/internal/versioning"
)

func TestOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{&engine.ValidationError{Field: "confidence", Reason: "is required"}, Validation},
		{fmt.Errorf("risk: %w", risk.ErrInvalidArgument), Validation},
		{monitor.ErrInvalidFilter, Validation},
		{versioning.ErrActorRequired, Validation},
		{policy.ErrInvalidConfig, Configuration},
		{engine.ErrCircuitOpen, CircuitOpen},
		{fmt.Errorf("%w: exceeded 5s", engine.ErrEvaluationTimeout), Timeout},
		{&versioning.BoundsViolationError{VersionID: "v1"}, BoundsViolation},
		{store.ErrNotFound, NotFound},
		{assert.AnError, Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Of(tc.err), "%v", tc.err)
	}
}
