package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pick-policy/internal/policy"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "policy"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return decode(v)
}

// Defaults 返回只包含默认值的配置，不读取任何文件。
func Defaults() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	def := policy.Default()
	v.SetDefault("policy.confidence.min_threshold", def.Confidence.MinThreshold)
	v.SetDefault("policy.edge.min_threshold", def.Edge.MinThreshold)
	v.SetDefault("policy.drift.max_drift_score", def.Drift.MaxDriftScore)
	v.SetDefault("policy.hard_stops.daily_loss_limit", def.HardStops.DailyLossLimit)
	v.SetDefault("policy.hard_stops.consecutive_losses", def.HardStops.ConsecutiveLosses)
	v.SetDefault("policy.hard_stops.bankroll_percent", def.HardStops.BankrollPercent)

	v.SetDefault("engine.timeout", "5s")
	v.SetDefault("engine.failure_threshold", 5)
	v.SetDefault("engine.cooldown", "60s")
	v.SetDefault("engine.half_open_max_requests", 1)

	v.SetDefault("tracker.initial_bankroll", 10000.0)
	v.SetDefault("tracker.status_cache_ttl", "30s")
	v.SetDefault("tracker.rollover_interval", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/pick_policy.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
