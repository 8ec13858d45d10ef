package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pick-policy/internal/backtest"
	"pick-policy/internal/config"
	"pick-policy/internal/engine"
	"pick-policy/internal/monitor"
	"pick-policy/internal/policy"
	"pick-policy/internal/risk"
	"pick-policy/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.Database.Driver = "memory"
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Tracker.RolloverInterval = 10 * time.Millisecond
	return cfg
}

func TestNewBootstrapsState(t *testing.T) {
	cfg := testConfig(t)
	cfg.Policy.HardStops.ConsecutiveLosses = 3
	st := store.NewMemoryStore()
	ctx := context.Background()

	a, err := New(ctx, cfg, nil, st)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 3, a.Holder.Current().HardStops.ConsecutiveLosses)
	latest, err := st.MaxVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest)

	status, err := a.Tracker.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, status.CurrentState.Bankroll)

	// 重启时沿用已持久化的版本而不是配置文件中的阈值。
	cfg.Policy.HardStops.ConsecutiveLosses = 7
	b, err := New(ctx, cfg, nil, st)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, 3, b.Holder.Current().HardStops.ConsecutiveLosses)
	latest, err = st.MaxVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest)
}

func TestNewFallsBackWhenRedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Addr = "127.0.0.1:1"

	a, err := New(context.Background(), cfg, nil, store.NewMemoryStore())
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.cache)
}

func TestServerEvaluates(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil, store.NewMemoryStore())
	require.NoError(t, err)
	defer a.Close()

	srv, err := a.Server()
	require.NoError(t, err)

	body := `{"prediction":{"id":"p1","confidence":0.9,"edge":0.1,"driftScore":0.01}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), string(engine.StatusPick))
}

func TestResetHardStopJournalsEvent(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), nil, st)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Tracker.UpdateDailyLoss(ctx, 1500)
	require.NoError(t, err)

	status, err := a.ResetHardStop(ctx, "reviewed losses", "ops-1")
	require.NoError(t, err)
	assert.False(t, status.IsActive)
	assert.Zero(t, status.CurrentState.DailyLoss)

	events, err := a.Journal.ListEvents(ctx, monitor.EventHardStopReset, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	payload, err := json.Marshal(events[0].Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"actor":"ops-1","reason":"reviewed losses","wasActive":true}`, string(payload))

	_, err = a.ResetHardStop(ctx, "", "ops-1")
	require.ErrorIs(t, err, risk.ErrInvalidArgument)
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil, store.NewMemoryStore())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReplayIsIsolated(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	samples := []backtest.Sample{
		{Prediction: engine.PredictionInput{ID: "a", Confidence: f(0.9), Edge: f(0.1), DriftScore: f(0.01)}, Outcome: risk.OutcomeLoss, Stake: 600, Odds: 2, At: at},
		{Prediction: engine.PredictionInput{ID: "b", Confidence: f(0.9), Edge: f(0.1), DriftScore: f(0.01)}, Outcome: risk.OutcomeLoss, Stake: 600, Odds: 2, At: at.Add(time.Hour)},
		{Prediction: engine.PredictionInput{ID: "c", Confidence: f(0.9), Edge: f(0.1), DriftScore: f(0.01)}, Outcome: risk.OutcomeWin, Stake: 600, Odds: 2, At: at.Add(48 * time.Hour)},
	}

	res, err := Replay(context.Background(), policy.Default(), samples, backtest.Config{InitialBankroll: 10000}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Picks)
	assert.Equal(t, 1, res.HardStops)
	assert.True(t, res.HardStopTriggered)
	assert.InDelta(t, 8800, res.FinalBankroll, 1e-9)
}
