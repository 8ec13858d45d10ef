package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"pick-policy/internal/config"
)

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS hard_stop_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			daily_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
			consecutive_losses INTEGER NOT NULL DEFAULT 0,
			bankroll_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			bankroll DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_reset_at TIMESTAMPTZ NOT NULL,
			triggered_at TIMESTAMPTZ NULL,
			trigger_reason TEXT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			revision BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS hard_stop_audit (
			id BIGSERIAL PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			event_type TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			previous_state JSONB NOT NULL,
			current_state JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS policy_versions (
			id UUID PRIMARY KEY,
			version BIGINT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL,
			created_by TEXT NOT NULL,
			config_json JSONB NOT NULL,
			change_reason TEXT NOT NULL,
			is_restore BOOLEAN NOT NULL DEFAULT FALSE,
			previous_version_id UUID NULL REFERENCES policy_versions (id)
		)`,
		`CREATE TABLE IF NOT EXISTS policy_decisions (
			decision_id UUID PRIMARY KEY,
			prediction_id TEXT NOT NULL,
			match_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			model_version TEXT NOT NULL,
			status TEXT NOT NULL,
			rationale TEXT NOT NULL,
			confidence_gate BOOLEAN NOT NULL,
			edge_gate BOOLEAN NOT NULL,
			drift_gate BOOLEAN NOT NULL,
			hard_stop_gate BOOLEAN NOT NULL,
			hard_stop_reason TEXT NULL,
			recommended_action TEXT NOT NULL,
			trace_id TEXT NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL,
			gate_outcomes JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS monitor_events (
			id BIGSERIAL PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events (event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_policy_decisions_executed_at ON policy_decisions (executed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_policy_decisions_match ON policy_decisions (match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_policy_decisions_user ON policy_decisions (user_id)`,
	},
	lockStateSuffix: " FOR UPDATE",
	lockVersions:    "LOCK TABLE policy_versions IN SHARE ROW EXCLUSIVE MODE",
}

// NewPostgres 根据配置初始化 PostgreSQL 存储。
// 熔断状态行通过 SELECT ... FOR UPDATE 加锁，版本号分配前锁表。
func NewPostgres(cfg config.DatabaseConfig) (*SQLStore, error) {
	conn, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("打开 PostgreSQL 连接失败: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("连接 PostgreSQL 失败: %w", err)
	}

	s, err := newSQLStore(conn, postgresDialect)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}
