package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func exerciseHardStopState(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	state, err := s.LoadHardStopState(ctx, baseTime)
	require.NoError(t, err)
	assert.False(t, state.IsActive)
	assert.True(t, state.LastResetAt.Equal(baseTime))
	assert.Nil(t, state.TriggeredAt)

	// 再次读取不会覆盖已有的 LastResetAt
	again, err := s.LoadHardStopState(ctx, baseTime.Add(48*time.Hour))
	require.NoError(t, err)
	assert.True(t, again.LastResetAt.Equal(baseTime))

	reason := "Daily loss $1000.00 reached limit $1000.00"
	triggered := baseTime.Add(time.Minute)
	updated, err := s.MutateHardStopState(ctx, triggered, func(st *HardStopState) ([]AuditEntry, error) {
		st.DailyLoss = 1000
		st.IsActive = true
		st.TriggeredAt = &triggered
		st.TriggerReason = &reason
		return []AuditEntry{{
			OccurredAt:    triggered,
			EventType:     "triggered",
			ActorID:       "system",
			Reason:        reason,
			PreviousState: `{"isActive":false}`,
			CurrentState:  `{"isActive":true}`,
		}}, nil
	})
	require.NoError(t, err)
	assert.True(t, updated.IsActive)
	assert.Equal(t, state.Revision+1, updated.Revision)

	loaded, err := s.LoadHardStopState(ctx, triggered)
	require.NoError(t, err)
	assert.True(t, loaded.IsActive)
	assert.Equal(t, 1000.0, loaded.DailyLoss)
	require.NotNil(t, loaded.TriggeredAt)
	assert.True(t, loaded.TriggeredAt.Equal(triggered))
	require.NotNil(t, loaded.TriggerReason)
	assert.Equal(t, reason, *loaded.TriggerReason)

	// 回调失败时不得落盘
	boom := errors.New("boom")
	_, err = s.MutateHardStopState(ctx, triggered, func(st *HardStopState) ([]AuditEntry, error) {
		st.DailyLoss = 5
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	loaded, err = s.LoadHardStopState(ctx, triggered)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, loaded.DailyLoss)

	entries, err := s.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "triggered", entries[0].EventType)
	assert.NotZero(t, entries[0].ID)
}

func exerciseConcurrentMutations(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := s.MutateHardStopState(ctx, baseTime, func(st *HardStopState) ([]AuditEntry, error) {
					st.ConsecutiveLosses++
					return nil, nil
				})
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	state, err := s.LoadHardStopState(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, state.ConsecutiveLosses)
}

func exerciseVersions(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.LatestVersion(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	max, err := s.MaxVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), max)

	var prev *string
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i)
		snap, err := s.AppendVersion(ctx, func(next int64) (VersionSnapshot, error) {
			return VersionSnapshot{
				ID:                id,
				Version:           next,
				CreatedAt:         baseTime.Add(time.Duration(i) * time.Hour),
				CreatedBy:         "tester",
				ConfigJSON:        `{"confidence":{"minThreshold":0.65}}`,
				ChangeReason:      fmt.Sprintf("change %d", i),
				IsRestore:         i == 3,
				PreviousVersionID: prev,
			}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), snap.Version)
		p := snap.ID
		prev = &p
	}

	latest, err := s.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.Version)
	assert.True(t, latest.IsRestore)
	require.NotNil(t, latest.PreviousVersionID)
	assert.Equal(t, "00000000-0000-0000-0000-000000000002", *latest.PreviousVersionID)

	got, err := s.GetVersion(ctx, "00000000-0000-0000-0000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.CreatedAt.Equal(baseTime.Add(time.Hour)))

	_, err = s.GetVersion(ctx, "00000000-0000-0000-0000-000000000009")
	require.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListVersions(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(3), list[0].Version)
	assert.Equal(t, int64(2), list[1].Version)

	list, err = s.ListVersions(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].Version)

	// build 返回错误时不分配版本
	_, err = s.AppendVersion(ctx, func(next int64) (VersionSnapshot, error) {
		return VersionSnapshot{}, errors.New("rejected")
	})
	require.Error(t, err)
	max, err = s.MaxVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), max)
}

func exerciseDecisions(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	reason := "Daily loss $1000.00 reached limit $1000.00"
	records := []DecisionRecord{
		{DecisionID: "00000000-0000-0000-0000-0000000000a1", PredictionID: "p1", MatchID: "m1", UserID: "u1", Status: "PICK", ExecutedAt: baseTime},
		{DecisionID: "00000000-0000-0000-0000-0000000000a2", PredictionID: "p2", MatchID: "m1", UserID: "u2", Status: "NO_BET", ExecutedAt: baseTime.Add(time.Hour)},
		{DecisionID: "00000000-0000-0000-0000-0000000000a3", PredictionID: "p3", MatchID: "m2", UserID: "u1", Status: "HARD_STOP", HardStopReason: &reason, ExecutedAt: baseTime.Add(2 * time.Hour)},
	}
	for _, r := range records {
		r.Rationale = "r"
		r.RecommendedAction = "a"
		r.GateOutcomesJSON = `{}`
		require.NoError(t, s.AppendDecision(ctx, r))
	}

	all, err := s.ListDecisions(ctx, DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p3", all[0].PredictionID)
	require.NotNil(t, all[0].HardStopReason)
	assert.Equal(t, reason, *all[0].HardStopReason)

	byMatch, err := s.ListDecisions(ctx, DecisionFilter{MatchID: "m1"})
	require.NoError(t, err)
	assert.Len(t, byMatch, 2)

	byUser, err := s.ListDecisions(ctx, DecisionFilter{UserID: "u1", Status: "PICK"})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "p1", byUser[0].PredictionID)

	window, err := s.ListDecisions(ctx, DecisionFilter{From: baseTime.Add(time.Hour), To: baseTime.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "p2", window[0].PredictionID)

	paged, err := s.ListDecisions(ctx, DecisionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "p2", paged[0].PredictionID)
}

func exerciseEvents(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, EventRecord{EventType: "decision", Payload: `{"n":1}`, CreatedAt: baseTime}))
	require.NoError(t, s.AppendEvent(ctx, EventRecord{EventType: "evaluation_error", Payload: `{"n":2}`, CreatedAt: baseTime.Add(time.Second)}))
	require.NoError(t, s.AppendEvent(ctx, EventRecord{EventType: "decision", Payload: `{"n":3}`, CreatedAt: baseTime.Add(2 * time.Second)}))

	all, err := s.ListEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, `{"n":3}`, all[0].Payload)

	decisions, err := s.ListEvents(ctx, "decision", 1)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, `{"n":3}`, decisions[0].Payload)
	assert.True(t, decisions[0].CreatedAt.Equal(baseTime.Add(2*time.Second)))
}
