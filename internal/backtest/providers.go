package backtest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"pick-policy/internal/risk"
)

// SliceSampleProvider 以固定序列提供样本。
type SliceSampleProvider struct {
	samples []Sample
	index   int
}

func NewSliceSampleProvider(samples []Sample) *SliceSampleProvider {
	return &SliceSampleProvider{samples: samples}
}

func (p *SliceSampleProvider) Next(ctx context.Context) (Sample, bool, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, false, err
	}
	if p.index >= len(p.samples) {
		return Sample{}, false, nil
	}
	s := p.samples[p.index]
	p.index++
	return s, true, nil
}

// LoadSamples 读取 JSON Lines 格式的样本，空行与 # 开头的行被忽略。
func LoadSamples(r io.Reader) ([]Sample, error) {
	var out []Sample
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var s Sample
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, fmt.Errorf("backtest: 第 %d 行解析失败: %w", line, err)
		}
		outcome, err := risk.ParseOutcome(string(s.Outcome))
		if err != nil {
			return nil, fmt.Errorf("backtest: 第 %d 行: %w", line, err)
		}
		s.Outcome = outcome
		if s.Stake < 0 {
			return nil, fmt.Errorf("backtest: 第 %d 行下注金额为负", line)
		}
		if s.Outcome == risk.OutcomeWin && s.Odds <= 1 {
			return nil, fmt.Errorf("backtest: 第 %d 行赔率必须大于 1，实际 %v", line, s.Odds)
		}
		if !s.At.IsZero() {
			s.At = s.At.UTC()
		}
		out = append(out, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("backtest: 读取样本失败: %w", err)
	}
	return out, nil
}
