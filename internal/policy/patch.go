package policy

// Patch 描述一次部分更新，nil 字段保持原值。
type Patch struct {
	Confidence *ConfidencePatch `json:"confidence,omitempty"`
	Edge       *EdgePatch       `json:"edge,omitempty"`
	Drift      *DriftPatch      `json:"drift,omitempty"`
	HardStops  *HardStopPatch   `json:"hardStops,omitempty"`
}

// ConfidencePatch 置信度部分更新。
type ConfidencePatch struct {
	MinThreshold *float64 `json:"minThreshold,omitempty"`
}

// EdgePatch 优势部分更新。
type EdgePatch struct {
	MinThreshold *float64 `json:"minThreshold,omitempty"`
}

// DriftPatch 漂移部分更新。
type DriftPatch struct {
	MaxDriftScore *float64 `json:"maxDriftScore,omitempty"`
}

// HardStopPatch 熔断阈值部分更新。
type HardStopPatch struct {
	DailyLossLimit    *float64 `json:"dailyLossLimit,omitempty"`
	ConsecutiveLosses *int     `json:"consecutiveLosses,omitempty"`
	BankrollPercent   *float64 `json:"bankrollPercent,omitempty"`
}

// Apply 将 patch 合并到 base 上并校验，返回新的配置值；base 本身不会被修改。
func (p Patch) Apply(base Config) (Config, error) {
	next := base

	if p.Confidence != nil && p.Confidence.MinThreshold != nil {
		next.Confidence.MinThreshold = *p.Confidence.MinThreshold
	}
	if p.Edge != nil && p.Edge.MinThreshold != nil {
		next.Edge.MinThreshold = *p.Edge.MinThreshold
	}
	if p.Drift != nil && p.Drift.MaxDriftScore != nil {
		next.Drift.MaxDriftScore = *p.Drift.MaxDriftScore
	}
	if hs := p.HardStops; hs != nil {
		if hs.DailyLossLimit != nil {
			next.HardStops.DailyLossLimit = *hs.DailyLossLimit
		}
		if hs.ConsecutiveLosses != nil {
			next.HardStops.ConsecutiveLosses = *hs.ConsecutiveLosses
		}
		if hs.BankrollPercent != nil {
			next.HardStops.BankrollPercent = *hs.BankrollPercent
		}
	}

	return New(next)
}

// IsEmpty 判断 patch 是否不包含任何字段。
func (p Patch) IsEmpty() bool {
	return p.Confidence == nil && p.Edge == nil && p.Drift == nil && p.HardStops == nil
}
