package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pick-policy/internal/app"
	"pick-policy/internal/config"
	"pick-policy/internal/log"
	"pick-policy/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "policyd",
	Short: "风控门控的投注决策策略服务",
	Long: `policyd 对模型预测执行置信度、优势、漂移与熔断检查，输出 PICK、NO_BET 或 HARD_STOP，
并持久化熔断状态、策略版本与决策记录。`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	rootCmd.AddCommand(serveCmd, statusCmd, resetCmd, versionsCmd, replayCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// env 为各子命令共用的依赖。
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  store.Store
	app    *app.App
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	a, err := app.New(ctx, cfg, logger, st)
	if err != nil {
		_ = st.Close()
		_ = logger.Sync()
		return nil, err
	}

	return &env{cfg: cfg, logger: logger, store: st, app: a}, nil
}

func (r *env) Close() {
	if err := r.app.Close(); err != nil {
		r.logger.Warn("关闭缓存失败", zap.Error(err))
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn("关闭数据库失败", zap.Error(err))
	}
	_ = r.logger.Sync()
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
