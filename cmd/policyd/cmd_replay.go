package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pick-policy/internal/app"
	"pick-policy/internal/backtest"
)

var (
	replayStake    float64
	replayBankroll float64
	replayStop     bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <samples.jsonl>",
	Short: "以当前生效的策略回放历史预测",
	Long: `replay 在独立的内存状态上回放 JSON Lines 样本，不修改线上熔断状态。
每行格式：{"prediction":{...},"outcome":"WIN|LOSS|PUSH","stake":100,"odds":1.95,"at":"RFC3339"}`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("打开样本文件失败: %w", err)
		}
		defer f.Close()

		samples, err := backtest.LoadSamples(f)
		if err != nil {
			return err
		}

		rt, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		bankroll := replayBankroll
		if bankroll <= 0 {
			bankroll = rt.cfg.Tracker.InitialBankroll
		}
		res, err := app.Replay(cmd.Context(), rt.app.Versions.Current(), samples, backtest.Config{
			InitialBankroll: bankroll,
			StakeFraction:   replayStake,
			StopOnHardStop:  replayStop,
		}, rt.logger)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func init() {
	replayCmd.Flags().Float64Var(&replayStake, "stake-fraction", 0.01, "样本未给出下注金额时的资金比例")
	replayCmd.Flags().Float64Var(&replayBankroll, "bankroll", 0, "初始资金，默认使用 tracker.initial_bankroll")
	replayCmd.Flags().BoolVar(&replayStop, "stop-on-hard-stop", false, "熔断后立即结束回放")
}
