package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.app.Run(cmd.Context()); err != nil {
			rt.logger.Error("系统运行异常", zap.Error(err))
			return err
		}
		rt.logger.Info("系统已安全退出")
		return nil
	},
}
