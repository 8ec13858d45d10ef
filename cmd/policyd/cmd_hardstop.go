package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	resetReason string
	resetActor  string
	auditLimit  int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看熔断状态",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		status, err := rt.app.Tracker.Status(cmd.Context())
		if err != nil {
			return err
		}
		if auditLimit <= 0 {
			return printJSON(cmd, status)
		}
		audit, err := rt.app.Tracker.AuditLog(cmd.Context(), auditLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]interface{}{"status": status, "audit": audit})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "人工解除熔断并清零计数",
	RunE: func(cmd *cobra.Command, args []string) error {
		if resetReason == "" || resetActor == "" {
			return errors.New("--reason 与 --actor 均为必填")
		}
		rt, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		status, err := rt.app.ResetHardStop(cmd.Context(), resetReason, resetActor)
		if err != nil {
			return err
		}
		return printJSON(cmd, status)
	},
}

func init() {
	statusCmd.Flags().IntVar(&auditLimit, "audit", 0, "同时输出最近 N 条审计记录")
	resetCmd.Flags().StringVar(&resetReason, "reason", "", "重置原因")
	resetCmd.Flags().StringVar(&resetActor, "actor", "", "操作人")
}
