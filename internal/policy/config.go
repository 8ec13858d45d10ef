package policy

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/multierr"
)

// ErrInvalidConfig 表示策略阈值未通过校验，配置不会生效。
var ErrInvalidConfig = errors.New("policy: invalid configuration")

// Config 为策略阈值的不可变快照，由各个 gate 构造时读取。
type Config struct {
	Confidence ConfidenceConfig `json:"confidence" mapstructure:"confidence"`
	Edge       EdgeConfig       `json:"edge" mapstructure:"edge"`
	Drift      DriftConfig      `json:"drift" mapstructure:"drift"`
	HardStops  HardStopLimits   `json:"hardStops" mapstructure:"hard_stops"`
}

// ConfidenceConfig 置信度阈值。
type ConfidenceConfig struct {
	MinThreshold float64 `json:"minThreshold" mapstructure:"min_threshold"`
}

// EdgeConfig 优势阈值。
type EdgeConfig struct {
	MinThreshold float64 `json:"minThreshold" mapstructure:"min_threshold"`
}

// DriftConfig 漂移上限，分数越低越好。
type DriftConfig struct {
	MaxDriftScore float64 `json:"maxDriftScore" mapstructure:"max_drift_score"`
}

// HardStopLimits 熔断阈值，任一条件满足即停止全部活动。
type HardStopLimits struct {
	DailyLossLimit    float64 `json:"dailyLossLimit" mapstructure:"daily_loss_limit"`
	ConsecutiveLosses int     `json:"consecutiveLosses" mapstructure:"consecutive_losses"`
	BankrollPercent   float64 `json:"bankrollPercent" mapstructure:"bankroll_percent"`
}

// Default 返回默认策略阈值。
func Default() Config {
	return Config{
		Confidence: ConfidenceConfig{MinThreshold: 0.65},
		Edge:       EdgeConfig{MinThreshold: 0.05},
		Drift:      DriftConfig{MaxDriftScore: 0.10},
		HardStops: HardStopLimits{
			DailyLossLimit:    1000,
			ConsecutiveLosses: 5,
			BankrollPercent:   0.10,
		},
	}
}

// New 校验并返回配置；校验失败时配置不可使用。
func New(c Config) (Config, error) {
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate 校验全部字段，一次性返回所有问题。
func (c Config) Validate() error {
	var err error

	err = multierr.Append(err, checkFraction("confidence.minThreshold", c.Confidence.MinThreshold))
	err = multierr.Append(err, checkFraction("edge.minThreshold", c.Edge.MinThreshold))
	err = multierr.Append(err, checkFraction("drift.maxDriftScore", c.Drift.MaxDriftScore))
	err = multierr.Append(err, checkFraction("hardStops.bankrollPercent", c.HardStops.BankrollPercent))

	if math.IsNaN(c.HardStops.DailyLossLimit) || math.IsInf(c.HardStops.DailyLossLimit, 0) || c.HardStops.DailyLossLimit < 0 {
		err = multierr.Append(err, fmt.Errorf("hardStops.dailyLossLimit must be a finite amount >= 0, got %v", c.HardStops.DailyLossLimit))
	}
	if c.HardStops.ConsecutiveLosses < 0 {
		err = multierr.Append(err, fmt.Errorf("hardStops.consecutiveLosses must be >= 0, got %d", c.HardStops.ConsecutiveLosses))
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func checkFraction(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0,1], got %v", field, v)
	}
	return nil
}
