// Package app 组装策略引擎、熔断跟踪、版本管理与 HTTP 接口并驱动服务生命周期。
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"pick-policy/internal/api"
	"pick-policy/internal/config"
	"pick-policy/internal/engine"
	"pick-policy/internal/monitor"
	"pick-policy/internal/policy"
	"pick-policy/internal/risk"
	"pick-policy/internal/store"
	"pick-policy/internal/versioning"
)

// App 聚合核心依赖。
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    store.Store
	registry *prometheus.Registry
	cache    *risk.RedisCache

	Holder   *policy.Holder
	Engine   *engine.Engine
	Tracker  *risk.Tracker
	Versions *versioning.Service
	Journal  *monitor.Service
}

// New 创建全部组件：启用最新的版本快照（首次启动写入初始版本），并初始化本金。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, st store.Store) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: 配置不能为空")
	}
	if st == nil {
		return nil, errors.New("app: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	initial, err := cfg.PolicyConfig()
	if err != nil {
		return nil, err
	}
	holder, err := policy.NewHolder(initial)
	if err != nil {
		return nil, err
	}

	versions, err := versioning.NewService(st, holder, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化版本服务失败: %w", err)
	}
	active, err := versions.Bootstrap(ctx, initial)
	if err != nil {
		return nil, fmt.Errorf("加载策略版本失败: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, err := engine.New(holder, logger,
		engine.WithTimeout(cfg.Engine.Timeout),
		engine.WithBreaker(cfg.Engine.FailureThreshold, cfg.Engine.Cooldown),
		engine.WithHalfOpenRequests(cfg.Engine.HalfOpenMaxRequests),
		engine.WithMetrics(engine.NewMetrics(registry)),
	)
	if err != nil {
		return nil, fmt.Errorf("初始化策略引擎失败: %w", err)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		registry: registry,
		Holder:   holder,
		Engine:   eng,
		Versions: versions,
	}

	trackerOpts := []risk.Option{risk.WithMetrics(risk.NewMetrics(registry))}
	if cfg.Redis.Enabled() {
		cache, err := risk.NewRedisCache(ctx, cfg.Redis, cfg.Tracker.StatusCacheTTL)
		if err != nil {
			// 缓存只服务于状态查询，不可用时退化为直接读库。
			logger.Warn("连接 redis 失败，熔断状态不使用缓存", zap.Error(err))
		} else {
			a.cache = cache
			trackerOpts = append(trackerOpts, risk.WithCache(cache))
		}
	}

	tracker, err := risk.NewTracker(st, holder, logger, trackerOpts...)
	if err != nil {
		a.closeCache()
		return nil, fmt.Errorf("初始化熔断跟踪器失败: %w", err)
	}
	if err := tracker.EnsureBankroll(ctx, cfg.Tracker.InitialBankroll); err != nil {
		a.closeCache()
		return nil, fmt.Errorf("初始化本金失败: %w", err)
	}
	a.Tracker = tracker

	journal, err := monitor.NewService(st, logger)
	if err != nil {
		a.closeCache()
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}
	a.Journal = journal

	logger.Info("策略服务已初始化",
		zap.String("environment", cfg.App.Environment),
		zap.String("database", cfg.Database.Driver),
		zap.Bool("redis", a.cache != nil),
		zap.Float64("confidence_min", active.Confidence.MinThreshold),
		zap.Float64("daily_loss_limit", active.HardStops.DailyLossLimit),
	)
	return a, nil
}

// Server 构建 HTTP 接口。
func (a *App) Server() (*api.Server, error) {
	return api.NewServer(a.cfg.Server, api.Deps{
		Engine:   a.Engine,
		Tracker:  a.Tracker,
		Versions: a.Versions,
		Journal:  a.Journal,
		Gatherer: a.registry,
	}, a.logger)
}

// Run 启动 HTTP 接口与后台日切检查，ctx 取消后退出。
func (a *App) Run(ctx context.Context) error {
	srv, err := a.Server()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.rolloverLoop(ctx)
	}()

	err = srv.Run(ctx)
	cancel()
	<-done

	if err != nil {
		return fmt.Errorf("服务异常退出: %w", err)
	}
	a.logger.Info("服务收到退出信号，正在停止")
	return nil
}

// Tick 执行一次日切检查；跨越 UTC 零点后即使没有请求也会写入日切审计。
func (a *App) Tick(ctx context.Context) error {
	_, err := a.Tracker.CheckDailyReset(ctx)
	return err
}

// ResetHardStop 人工解除熔断并写入重置事件。
func (a *App) ResetHardStop(ctx context.Context, reason, actorID string) (risk.Status, error) {
	wasActive, err := a.Tracker.IsActive(ctx)
	if err != nil {
		return risk.Status{}, err
	}
	if _, err := a.Tracker.Reset(ctx, reason, actorID); err != nil {
		return risk.Status{}, err
	}
	a.Journal.RecordReset(ctx, monitor.ResetPayload{Actor: actorID, Reason: reason, WasActive: wasActive})
	return a.Tracker.Status(ctx)
}

func (a *App) rolloverLoop(ctx context.Context) {
	interval := a.cfg.Tracker.RolloverInterval
	if interval <= 0 {
		return
	}

	if err := a.Tick(ctx); err != nil {
		a.logger.Error("首次日切检查失败", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("日切检查失败", zap.Error(err))
			}
		}
	}
}

// Close 释放缓存连接；store 由调用方关闭。
func (a *App) Close() error {
	return a.closeCache()
}

func (a *App) closeCache() error {
	if a.cache == nil {
		return nil
	}
	err := a.cache.Close()
	a.cache = nil
	return err
}
