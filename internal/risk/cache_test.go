package risk

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pick-policy/internal/policy"
)

func TestRedisCacheGetSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisCacheWithClient(db, 30*time.Second)
	ctx := context.Background()

	mock.ExpectGet(defaultStatusKey).RedisNil()
	_, ok, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	status := Status{
		IsActive:          false,
		Limits:            policy.Default().HardStops,
		RecommendedAction: "Continue normal operation",
		AsOf:              time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(status)
	require.NoError(t, err)

	mock.ExpectSet(defaultStatusKey, data, 30*time.Second).SetVal("OK")
	require.NoError(t, cache.Set(ctx, status))

	mock.ExpectGet(defaultStatusKey).SetVal(string(data))
	got, ok, err := cache.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, status.Limits, got.Limits)
	assert.True(t, status.AsOf.Equal(got.AsOf))

	mock.ExpectGet(defaultStatusKey).SetErr(errors.New("connection refused"))
	_, _, err = cache.Get(ctx)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusServedFromSameDayCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisCacheWithClient(db, time.Minute)
	tr, _, clock := newTestTracker(t, policy.Default(), WithCache(cache))
	ctx := context.Background()

	reason := "Daily loss $1000.00 reached limit $1000.00"
	cached := Status{
		IsActive:          true,
		TriggerReason:     &reason,
		Limits:            policy.Default().HardStops,
		RecommendedAction: "halt",
		AsOf:              clock.Now().Add(-time.Hour),
	}
	data, err := json.Marshal(cached)
	require.NoError(t, err)

	mock.ExpectGet(defaultStatusKey).SetVal(string(data))
	status, err := tr.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())

	// 前一天的快照被忽略，回落到存储
	cached.AsOf = clock.Now().Add(-24 * time.Hour)
	data, err = json.Marshal(cached)
	require.NoError(t, err)
	mock.ExpectGet(defaultStatusKey).SetVal(string(data))
	status, err = tr.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsActive)
}
