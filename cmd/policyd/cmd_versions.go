package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	versionsLimit  int
	versionsOffset int
	restoreActor   string
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "管理策略配置版本",
}

var versionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "按版本倒序列出快照",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		snaps, err := rt.app.Versions.GetVersionSnapshots(cmd.Context(), versionsLimit, versionsOffset)
		if err != nil {
			return err
		}
		return printJSON(cmd, snaps)
	},
}

var versionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "查看指定快照",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		snap, err := rt.app.Versions.GetVersionByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, snap)
	},
}

var versionsRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "恢复指定快照，放宽熔断阈值时拒绝",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if restoreActor == "" {
			return errors.New("--actor 为必填")
		}
		rt, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		snap, err := rt.app.Versions.RestoreVersion(cmd.Context(), args[0], restoreActor)
		if err != nil {
			return err
		}
		return printJSON(cmd, snap)
	},
}

func init() {
	versionsListCmd.Flags().IntVar(&versionsLimit, "limit", 20, "返回条数")
	versionsListCmd.Flags().IntVar(&versionsOffset, "offset", 0, "跳过条数")
	versionsRestoreCmd.Flags().StringVar(&restoreActor, "actor", "", "操作人")
	versionsCmd.AddCommand(versionsListCmd, versionsShowCmd, versionsRestoreCmd)
}
