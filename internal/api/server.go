// Package api 通过 HTTP 暴露评估、配置、熔断状态、版本与决策查询。
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pick-policy/internal/config"
	"pick-policy/internal/engine"
	"pick-policy/internal/monitor"
	"pick-policy/internal/risk"
	"pick-policy/internal/versioning"
)

// Evaluator 为策略引擎的对外能力。
type Evaluator interface {
	Evaluate(ctx context.Context, in engine.PredictionInput, run engine.RunContext) (engine.EvaluationResult, error)
	BreakerState() string
}

// Deps 为 HTTP 层依赖的组件。
type Deps struct {
	Engine   Evaluator
	Tracker  *risk.Tracker
	Versions *versioning.Service
	Journal  *monitor.Service
	Gatherer prometheus.Gatherer
}

// Server 为 HTTP 服务。
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router *mux.Router
	logger *zap.Logger
	now    func() time.Time
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// NewServer 创建 HTTP 服务并注册路由。
func NewServer(cfg config.ServerConfig, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Engine == nil || deps.Tracker == nil || deps.Versions == nil || deps.Journal == nil {
		return nil, errors.New("api: engine、tracker、versions、journal 均不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.routes()
	return s, nil
}

// Handler 返回根路由。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware, s.loggingMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/evaluate", s.handleEvaluate).Methods(http.MethodPost)

	v1.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	v1.HandleFunc("/config", s.handleUpdateConfig).Methods(http.MethodPatch)

	v1.HandleFunc("/hard-stop", s.handleHardStopStatus).Methods(http.MethodGet)
	v1.HandleFunc("/hard-stop/reset", s.handleHardStopReset).Methods(http.MethodPost)
	v1.HandleFunc("/hard-stop/loss", s.handleHardStopLoss).Methods(http.MethodPost)
	v1.HandleFunc("/hard-stop/outcome", s.handleHardStopOutcome).Methods(http.MethodPost)
	v1.HandleFunc("/hard-stop/bankroll", s.handleHardStopBankroll).Methods(http.MethodPut)
	v1.HandleFunc("/hard-stop/audit", s.handleHardStopAudit).Methods(http.MethodGet)

	v1.HandleFunc("/versions", s.handleListVersions).Methods(http.MethodGet)
	v1.HandleFunc("/versions", s.handleCreateVersion).Methods(http.MethodPost)
	v1.HandleFunc("/versions/{id}", s.handleGetVersion).Methods(http.MethodGet)
	v1.HandleFunc("/versions/{id}/restore", s.handleRestoreVersion).Methods(http.MethodPost)

	v1.HandleFunc("/decisions", s.handleListDecisions).Methods(http.MethodGet)
}

// Run 启动服务，ctx 取消后优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("HTTP 接口已启动", zap.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
		return err
	}
	s.logger.Info("HTTP 接口已关闭")
	return nil
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP 请求",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func requestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
