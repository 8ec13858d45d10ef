package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pick-policy/internal/engine"
	"pick-policy/internal/store"
)

func floatPtr(v float64) *float64 { return &v }

func sampleResult(id string, status engine.Status, at time.Time) engine.EvaluationResult {
	res := engine.EvaluationResult{
		DecisionID:        id,
		PredictionID:      "pred-" + id,
		MatchID:           "match-1",
		UserID:            "user-1",
		Status:            status,
		Rationale:         "All gates passed",
		ConfidenceGate:    true,
		EdgeGate:          true,
		DriftGate:         true,
		HardStopGate:      status != engine.StatusHardStop,
		RecommendedAction: "Proceed with the pick",
		TraceID:           "trace-" + id,
		ExecutedAt:        at,
		GateOutcomes: map[string]engine.GateOutcome{
			"confidence": {Passed: true, Score: 0.7, Threshold: 0.65},
		},
	}
	if status == engine.StatusHardStop {
		reason := "Daily loss $1000.00 reached limit $1000.00"
		res.HardStopReason = &reason
	}
	return res
}

func TestRecordDecisionPersistsRecordAndEvent(t *testing.T) {
	st := store.NewMemoryStore()
	svc, err := NewService(st, nil)
	require.NoError(t, err)
	ctx := context.Background()

	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	input := engine.PredictionInput{ID: "pred-d1", MatchID: "match-1", Confidence: floatPtr(0.7)}
	svc.RecordDecision(ctx, input, sampleResult("d1", engine.StatusPick, at))
	svc.RecordDecision(ctx, input, sampleResult("d2", engine.StatusHardStop, at.Add(time.Hour)))

	results, err := svc.ListDecisions(ctx, store.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "d2", results[0].DecisionID)
	require.NotNil(t, results[0].HardStopReason)
	assert.Equal(t, 0.7, results[1].GateOutcomes["confidence"].Score)

	picks, err := svc.ListDecisions(ctx, store.DecisionFilter{Status: "PICK"})
	require.NoError(t, err)
	require.Len(t, picks, 1)
	assert.Equal(t, "d1", picks[0].DecisionID)

	events, err := svc.ListEvents(ctx, EventDecision, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	var payload DecisionPayload
	require.NoError(t, json.Unmarshal(events[0].Payload.(json.RawMessage), &payload))
	assert.Equal(t, "d2", payload.Result.DecisionID)
	assert.Equal(t, "pred-d1", payload.Input.ID)
}

func TestRecordErrorDoesNotCreateDecision(t *testing.T) {
	st := store.NewMemoryStore()
	svc, err := NewService(st, nil)
	require.NoError(t, err)
	ctx := context.Background()

	svc.RecordError(ctx, engine.PredictionInput{ID: "p1"}, "circuit_open", "trace-9", errors.New("circuit breaker open"))
	svc.RecordError(ctx, engine.PredictionInput{ID: "p2"}, "internal", "", nil)

	decisions, err := svc.ListDecisions(ctx, store.DecisionFilter{})
	require.NoError(t, err)
	assert.Empty(t, decisions)

	events, err := svc.ListEvents(ctx, EventEvaluationError, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(events[0].Payload.(json.RawMessage), &payload))
	assert.Equal(t, "circuit_open", payload.Kind)
	assert.Equal(t, "trace-9", payload.TraceID)
	assert.Equal(t, "p1", payload.Input.ID)
}

func TestListDecisionsRejectsBadFilter(t *testing.T) {
	svc, err := NewService(store.NewMemoryStore(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.ListDecisions(ctx, store.DecisionFilter{Status: "MAYBE"})
	require.ErrorIs(t, err, ErrInvalidFilter)

	now := time.Now().UTC()
	_, err = svc.ListDecisions(ctx, store.DecisionFilter{From: now, To: now.Add(-time.Hour)})
	require.ErrorIs(t, err, ErrInvalidFilter)
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) AppendDecision(context.Context, store.DecisionRecord) error {
	return errors.New("disk full")
}

func TestRecordDecisionSwallowsStoreFailure(t *testing.T) {
	svc, err := NewService(failingStore{store.NewMemoryStore()}, nil)
	require.NoError(t, err)

	require.NotPanics(t, func() {
		svc.RecordDecision(context.Background(), engine.PredictionInput{ID: "p"}, sampleResult("d", engine.StatusNoBet, time.Now()))
	})
}

func TestRecordConfigChangeAndReset(t *testing.T) {
	svc, err := NewService(store.NewMemoryStore(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	svc.RecordConfigChange(ctx, ConfigChangePayload{Version: 2, VersionID: "v2", Actor: "ops", Reason: "tighten"})
	svc.RecordReset(ctx, ResetPayload{Actor: "ops", Reason: "reviewed", WasActive: true})

	all, err := svc.ListEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, EventHardStopReset, all[0].Type)
	assert.Equal(t, EventConfigChange, all[1].Type)
}
