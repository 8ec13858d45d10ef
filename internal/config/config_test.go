package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pick-policy/internal/policy"
)

func TestDefaults(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, 5, cfg.Engine.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Engine.Cooldown)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, time.Minute, cfg.Tracker.RolloverInterval)
	assert.False(t, cfg.Redis.Enabled())

	pc, err := cfg.PolicyConfig()
	require.NoError(t, err)
	assert.Equal(t, policy.Default(), pc)
}

func TestLoadOverridesFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  environment: test
policy:
  confidence:
    min_threshold: 0.7
  hard_stops:
    daily_loss_limit: 500
engine:
  timeout: 2s
database:
  driver: sqlite
  in_memory: true
redis:
  addr: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("POLICY_ENGINE_COOLDOWN", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Environment)
	assert.Equal(t, 0.7, cfg.Policy.Confidence.MinThreshold)
	assert.Equal(t, 0.05, cfg.Policy.Edge.MinThreshold)
	assert.Equal(t, 500.0, cfg.Policy.HardStops.DailyLossLimit)
	assert.Equal(t, 5, cfg.Policy.HardStops.ConsecutiveLosses)
	assert.Equal(t, 2*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Engine.Cooldown)
	assert.True(t, cfg.Database.InMemory)
	assert.True(t, cfg.Redis.Enabled())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateAggregatesViolations(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)

	cfg.Engine.Timeout = 0
	cfg.Database.Driver = "mysql"
	cfg.Policy.Confidence.MinThreshold = 1.5

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.timeout")
	assert.Contains(t, err.Error(), "database.driver")
	assert.ErrorIs(t, err, policy.ErrInvalidConfig)
}

func TestValidatePostgresRequiresDSN(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)

	cfg.Database.Driver = "postgres"
	require.Error(t, cfg.Validate())

	cfg.Database.DSN = "postgres://localhost/policy?sslmode=disable"
	require.NoError(t, cfg.Validate())
}
