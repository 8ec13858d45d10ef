package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"pick-policy/internal/policy"
)

// Config 聚合了服务运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Policy   policy.Config  `mapstructure:"policy"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// EngineConfig 控制评估超时与熔断器。
type EngineConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	HalfOpenMaxRequests int           `mapstructure:"half_open_max_requests"`
}

// TrackerConfig 控制熔断状态跟踪器。RolloverInterval 为 0 时只在读取时做日切检查。
type TrackerConfig struct {
	InitialBankroll  float64       `mapstructure:"initial_bankroll"`
	StatusCacheTTL   time.Duration `mapstructure:"status_cache_ttl"`
	RolloverInterval time.Duration `mapstructure:"rollover_interval"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// RedisConfig 描述状态快照缓存，Addr 为空时不启用。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled 表示是否配置了 redis。
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// ServerConfig 控制 HTTP 服务。
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if _, perr := c.PolicyConfig(); perr != nil {
		err = multierr.Append(err, perr)
	}
	if c.Engine.Timeout <= 0 {
		err = multierr.Append(err, errors.New("engine.timeout 必须大于0"))
	}
	if c.Engine.FailureThreshold <= 0 {
		err = multierr.Append(err, errors.New("engine.failure_threshold 必须大于0"))
	}
	if c.Engine.Cooldown <= 0 {
		err = multierr.Append(err, errors.New("engine.cooldown 必须大于0"))
	}
	if c.Engine.HalfOpenMaxRequests <= 0 {
		err = multierr.Append(err, errors.New("engine.half_open_max_requests 必须大于0"))
	}
	if c.Tracker.InitialBankroll < 0 {
		err = multierr.Append(err, errors.New("tracker.initial_bankroll 不能为负"))
	}
	if c.Tracker.StatusCacheTTL < 0 {
		err = multierr.Append(err, errors.New("tracker.status_cache_ttl 不能为负"))
	}
	if c.Tracker.RolloverInterval < 0 {
		err = multierr.Append(err, errors.New("tracker.rollover_interval 不能为负"))
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3":
		if c.Database.Path == "" && !c.Database.InMemory {
			err = multierr.Append(err, errors.New("database.path 不能为空"))
		}
	case "postgres", "postgresql":
		if c.Database.DSN == "" {
			err = multierr.Append(err, errors.New("database.dsn 不能为空"))
		}
	case "memory":
	default:
		err = multierr.Append(err, fmt.Errorf("database.driver 不支持: %q", c.Database.Driver))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Redis.DB < 0 {
		err = multierr.Append(err, errors.New("redis.db 不能为负"))
	}
	if c.Server.Addr == "" {
		err = multierr.Append(err, errors.New("server.addr 不能为空"))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		err = multierr.Append(err, errors.New("server 读写超时必须大于0"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("server.shutdown_timeout 必须大于0"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

// PolicyConfig 返回经过校验的初始策略阈值。
func (c *Config) PolicyConfig() (policy.Config, error) {
	return policy.New(c.Policy)
}
