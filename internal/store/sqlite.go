package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"pick-policy/internal/config"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS hard_stop_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			is_active BOOLEAN NOT NULL DEFAULT 0,
			daily_loss REAL NOT NULL DEFAULT 0,
			consecutive_losses INTEGER NOT NULL DEFAULT 0,
			bankroll_percent REAL NOT NULL DEFAULT 0,
			bankroll REAL NOT NULL DEFAULT 0,
			last_reset_at TIMESTAMP NOT NULL,
			triggered_at TIMESTAMP NULL,
			trigger_reason TEXT NULL,
			updated_at TIMESTAMP NOT NULL,
			revision INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS hard_stop_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TIMESTAMP NOT NULL,
			event_type TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			previous_state TEXT NOT NULL,
			current_state TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS policy_versions (
			id TEXT PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL,
			created_by TEXT NOT NULL,
			config_json TEXT NOT NULL,
			change_reason TEXT NOT NULL,
			is_restore BOOLEAN NOT NULL DEFAULT 0,
			previous_version_id TEXT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS policy_decisions (
			decision_id TEXT PRIMARY KEY,
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
			executed_at TIMESTAMP NOT NULL,
			gate_outcomes TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS monitor_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events (event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_policy_decisions_executed_at ON policy_decisions (executed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_policy_decisions_match ON policy_decisions (match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_policy_decisions_user ON policy_decisions (user_id)`,
	},
}

// NewSQLite 根据配置初始化 SQLite 存储。
// 写事务以 BEGIN IMMEDIATE 开启，保证熔断状态的读改写串行执行。
func NewSQLite(cfg config.DatabaseConfig) (*SQLStore, error) {
	dsn := cfg.Path
	if cfg.InMemory {
		dsn = ":memory:"
	} else {
		if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
			return nil, err
		}
	}

	conn, err := sqlx.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", dsn))
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 数据库失败: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if cfg.InMemory {
		// 每个 :memory: 连接是独立的数据库。
		maxOpen = 1
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.InMemory {
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("设置 SQLite WAL 模式失败: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("设置 SQLite 同步级别失败: %w", err)
	}

	s, err := newSQLStore(conn, sqliteDialect)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("创建目录 %q 失败: %w", path, err)
	}
	return nil
}
