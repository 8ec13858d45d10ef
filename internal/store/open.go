package store

import (
	"fmt"
	"strings"

	"pick-policy/internal/config"
)

// Open 按 database.driver 选择适配器。
func Open(cfg config.DatabaseConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite", "sqlite3":
		return NewSQLite(cfg)
	case "postgres", "postgresql":
		return NewPostgres(cfg)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("store: 不支持的数据库驱动 %q", cfg.Driver)
	}
}
