package backtest

import "math"

// Metrics 记录回放绩效指标。
type Metrics struct {
	TotalReturn float64 `json:"totalReturn"`
	MaxDrawdown float64 `json:"maxDrawdown"`
	SharpeRatio float64 `json:"sharpeRatio"`
	HitRate     float64 `json:"hitRate"`
	Yield       float64 `json:"yield"`
}

func calculateMetrics(sim *Simulator) Metrics {
	curve := sim.BankrollHistory()
	if len(curve) == 0 {
		return Metrics{}
	}

	var totalReturn float64
	if curve[0] > 0 {
		totalReturn = curve[len(curve)-1]/curve[0] - 1
	}
	return Metrics{
		TotalReturn: totalReturn,
		MaxDrawdown: computeDrawdown(curve),
		SharpeRatio: computeSharpe(sim.ReturnHistory()),
		HitRate:     sim.HitRate(),
		Yield:       sim.Yield(),
	}
}

func computeDrawdown(curve []float64) float64 {
	var peak, maxDD float64
	for _, v := range curve {
		peak = math.Max(peak, v)
		if peak <= 0 {
			continue
		}
		maxDD = math.Min(maxDD, (v-peak)/peak)
	}
	return math.Abs(maxDD)
}

// computeSharpe 为逐笔收益的均值与样本标准差之比，不做年化。
func computeSharpe(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(n-1))
	if std == 0 {
		return 0
	}
	return mean / std
}
