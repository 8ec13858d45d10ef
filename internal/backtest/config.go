package backtest

// Config 定义回放参数。
type Config struct {
	InitialBankroll float64 // 初始资金
	StakeFraction   float64 // 样本未给出下注金额时按当前资金比例下注
	StopOnHardStop  bool    // 熔断触发后立即结束回放
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.InitialBankroll <= 0 {
		cfg.InitialBankroll = 10000
	}
	if cfg.StakeFraction <= 0 || cfg.StakeFraction > 1 {
		cfg.StakeFraction = 0.01
	}
	return cfg
}
