package backtest

import "pick-policy/internal/risk"

// Simulator 按十进制赔率结算下注并记录资金曲线。
type Simulator struct {
	bankroll float64

	bankrollHistory []float64
	returnHistory   []float64
	wins            int
	losses          int
	pushes          int
	staked          float64
	profit          float64
}

func NewSimulator(initialBankroll float64) *Simulator {
	if initialBankroll <= 0 {
		initialBankroll = 10000
	}
	return &Simulator{
		bankroll:        initialBankroll,
		bankrollHistory: []float64{initialBankroll},
	}
}

// Settle 结算一笔下注并返回盈亏。下注金额不超过当前资金。
func (s *Simulator) Settle(stake, odds float64, outcome risk.Outcome) float64 {
	if stake > s.bankroll {
		stake = s.bankroll
	}
	if stake <= 0 {
		return 0
	}

	var pnl float64
	switch outcome {
	case risk.OutcomeWin:
		pnl = stake * (odds - 1)
		s.wins++
	case risk.OutcomeLoss:
		pnl = -stake
		s.losses++
	case risk.OutcomePush:
		s.pushes++
	default:
		return 0
	}

	prev := s.bankroll
	s.bankroll += pnl
	s.staked += stake
	s.profit += pnl
	s.returnHistory = append(s.returnHistory, pnl/prev)
	s.bankrollHistory = append(s.bankrollHistory, s.bankroll)
	return pnl
}

func (s *Simulator) Bankroll() float64 {
	return s.bankroll
}

func (s *Simulator) Settled() int {
	return s.wins + s.losses + s.pushes
}

func (s *Simulator) BankrollHistory() []float64 {
	return append([]float64(nil), s.bankrollHistory...)
}

func (s *Simulator) ReturnHistory() []float64 {
	return append([]float64(nil), s.returnHistory...)
}

// Yield 为总盈亏占总下注额的比例。
func (s *Simulator) Yield() float64 {
	if s.staked == 0 {
		return 0
	}
	return s.profit / s.staked
}

// HitRate 为非走盘结算中赢的比例。
func (s *Simulator) HitRate() float64 {
	decided := s.wins + s.losses
	if decided == 0 {
		return 0
	}
	return float64(s.wins) / float64(decided)
}
