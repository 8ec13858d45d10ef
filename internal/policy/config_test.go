package policy

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	_, err := New(Default())
	require.NoError(t, err)
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	cfg := Default()
	cfg.Confidence.MinThreshold = 1.2
	cfg.Drift.MaxDriftScore = math.NaN()
	cfg.HardStops.DailyLossLimit = -1
	cfg.HardStops.ConsecutiveLosses = -3

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	msg := err.Error()
	for _, field := range []string{"confidence.minThreshold", "drift.maxDriftScore", "hardStops.dailyLossLimit", "hardStops.consecutiveLosses"} {
		assert.Truef(t, strings.Contains(msg, field), "missing %s in %q", field, msg)
	}
	assert.NotContains(t, msg, "edge.minThreshold")
}

func TestValidate_AcceptsBoundaries(t *testing.T) {
	cfg := Config{
		Confidence: ConfidenceConfig{MinThreshold: 0},
		Edge:       EdgeConfig{MinThreshold: 1},
		Drift:      DriftConfig{MaxDriftScore: 1},
		HardStops:  HardStopLimits{DailyLossLimit: 0, ConsecutiveLosses: 0, BankrollPercent: 0},
	}
	assert.NoError(t, cfg.Validate())
}

func TestPatchApply_MergesOverBase(t *testing.T) {
	base := Default()
	limit := 500.0
	edge := 0.07

	next, err := Patch{
		Edge:      &EdgePatch{MinThreshold: &edge},
		HardStops: &HardStopPatch{DailyLossLimit: &limit},
	}.Apply(base)
	require.NoError(t, err)

	assert.Equal(t, 0.07, next.Edge.MinThreshold)
	assert.Equal(t, 500.0, next.HardStops.DailyLossLimit)
	assert.Equal(t, base.Confidence, next.Confidence)
	assert.Equal(t, base.HardStops.ConsecutiveLosses, next.HardStops.ConsecutiveLosses)
	assert.Equal(t, 1000.0, base.HardStops.DailyLossLimit, "base must not be mutated")
}

func TestPatchApply_RejectsInvalidMerge(t *testing.T) {
	bad := 2.0
	_, err := Patch{Confidence: &ConfidencePatch{MinThreshold: &bad}}.Apply(Default())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestHolder_SetKeepsPreviousOnFailure(t *testing.T) {
	h, err := NewHolder(Default())
	require.NoError(t, err)

	bad := Default()
	bad.Edge.MinThreshold = -0.1
	require.ErrorIs(t, h.Set(bad), ErrInvalidConfig)
	assert.Equal(t, Default(), h.Current())

	good := Default()
	good.Confidence.MinThreshold = 0.7
	require.NoError(t, h.Set(good))
	assert.Equal(t, good, h.Current())
}

func TestNewHolder_RejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.HardStops.BankrollPercent = 3
	_, err := NewHolder(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
