// Package versioning 管理策略配置的版本快照与恢复。
package versioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pick-policy/internal/policy"
	"pick-policy/internal/store"
)

// BootstrapActor 为初始版本的创建者。
const BootstrapActor = "system"

// Snapshot 为解码后的版本快照。
type Snapshot struct {
	ID                string        `json:"id"`
	Version           int64         `json:"version"`
	CreatedAt         time.Time     `json:"createdAt"`
	CreatedBy         string        `json:"createdBy"`
	Config            policy.Config `json:"config"`
	ChangeReason      string        `json:"changeReason"`
	IsRestore         bool          `json:"isRestore"`
	PreviousVersionID *string       `json:"previousVersionId,omitempty"`
}

// Service 负责创建、查询与恢复版本快照，并维护当前生效的配置。
// 写操作由同一把锁串行，阈值比较总是针对当前生效的配置。
type Service struct {
	store  store.VersionStore
	holder *policy.Holder
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	mu sync.Mutex
}

// Option 配置 Service。
type Option func(*Service)

// WithClock 注入时钟。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator 注入快照 ID 生成器。
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewService 创建版本服务。
func NewService(st store.VersionStore, holder *policy.Holder, logger *zap.Logger, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("versioning: store 不能为空")
	}
	if holder == nil {
		return nil, errors.New("versioning: holder 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  st,
		holder: holder,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Current 返回当前生效的配置。
func (s *Service) Current() policy.Config {
	return s.holder.Current()
}

// Bootstrap 在没有任何快照时把 initial 写为第一个版本；否则启用最新快照中的配置。
func (s *Service) Bootstrap(ctx context.Context, initial policy.Config) (policy.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.store.LatestVersion(ctx)
	switch {
	case err == nil:
		snap, decErr := decode(latest)
		if decErr != nil {
			return policy.Config{}, decErr
		}
		if err := s.holder.Set(snap.Config); err != nil {
			return policy.Config{}, fmt.Errorf("versioning: 启用版本 %d 失败: %w", snap.Version, err)
		}
		s.logger.Info("已启用最新策略版本", zap.Int64("version", snap.Version), zap.String("id", snap.ID))
		return snap.Config, nil
	case errors.Is(err, store.ErrNotFound):
	default:
		return policy.Config{}, err
	}

	cfg, err := policy.New(initial)
	if err != nil {
		return policy.Config{}, err
	}
	snap, err := s.appendLocked(ctx, cfg, BootstrapActor, "initial configuration", false, nil)
	if err != nil {
		return policy.Config{}, err
	}
	if err := s.holder.Set(cfg); err != nil {
		return policy.Config{}, err
	}
	s.logger.Info("已写入初始策略版本", zap.Int64("version", snap.Version), zap.String("id", snap.ID))
	return cfg, nil
}

// CreateVersionSnapshot 以 max(version)+1 持久化完整配置。不改变当前生效的配置。
func (s *Service) CreateVersionSnapshot(ctx context.Context, cfg policy.Config, actor, reason string) (Snapshot, error) {
	if actor == "" {
		return Snapshot{}, ErrActorRequired
	}
	valid, err := policy.New(cfg)
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.latestIDLocked(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return s.appendLocked(ctx, valid, actor, reason, false, prev)
}

// UpdateConfig 把 patch 合并到当前配置，写入快照后生效。
func (s *Service) UpdateConfig(ctx context.Context, patch policy.Patch, actor, reason string) (policy.Config, Snapshot, error) {
	if actor == "" {
		return policy.Config{}, Snapshot{}, ErrActorRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := patch.Apply(s.holder.Current())
	if err != nil {
		return policy.Config{}, Snapshot{}, err
	}
	prev, err := s.latestIDLocked(ctx)
	if err != nil {
		return policy.Config{}, Snapshot{}, err
	}
	snap, err := s.appendLocked(ctx, next, actor, reason, false, prev)
	if err != nil {
		return policy.Config{}, Snapshot{}, err
	}
	if err := s.holder.Set(next); err != nil {
		return policy.Config{}, Snapshot{}, err
	}

	s.logger.Info("策略配置已更新",
		zap.Int64("version", snap.Version),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
	return next, snap, nil
}

// GetVersionSnapshots 按版本倒序分页返回快照。
func (s *Service) GetVersionSnapshots(ctx context.Context, limit, offset int) ([]Snapshot, error) {
	records, err := s.store.ListVersions(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(records))
	for _, r := range records {
		snap, err := decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// GetVersionByID 返回指定快照；不存在时返回 store.ErrNotFound。
func (s *Service) GetVersionByID(ctx context.Context, id string) (Snapshot, error) {
	rec, err := s.store.GetVersion(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return decode(rec)
}

// RestoreVersion 恢复历史版本：若会放宽任何熔断阈值则拒绝且不产生任何写入；
// 比较基准为本进程配置与最新快照中更严格的一方。
// 成功时写入新的 isRestore 快照并启用，历史记录不会被改写。
func (s *Service) RestoreVersion(ctx context.Context, id, actor string) (Snapshot, error) {
	if actor == "" {
		return Snapshot{}, ErrActorRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.GetVersionByID(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}

	current, err := s.strictestLocked(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if violations := ValidateHardStopBounds(target.Config.HardStops, current); len(violations) > 0 {
		s.logger.Warn("拒绝放宽熔断阈值的版本恢复",
			zap.String("version_id", id),
			zap.String("actor", actor),
			zap.Int("violations", len(violations)),
		)
		return Snapshot{}, &BoundsViolationError{VersionID: id, Violations: violations}
	}

	if _, err := policy.New(target.Config); err != nil {
		return Snapshot{}, err
	}

	from := target.ID
	reason := fmt.Sprintf("Restored from version %d", target.Version)
	snap, err := s.appendLocked(ctx, target.Config, actor, reason, true, &from)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.holder.Set(target.Config); err != nil {
		return Snapshot{}, err
	}

	s.logger.Info("已恢复策略版本",
		zap.Int64("restored_version", target.Version),
		zap.Int64("version", snap.Version),
		zap.String("actor", actor),
	)
	return snap, nil
}

// ValidateHardStopBounds 返回 restored 相对 current 更宽松的字段；为空表示可以恢复。
// 相等视为同样严格。
func ValidateHardStopBounds(restored, current policy.HardStopLimits) []FieldViolation {
	var out []FieldViolation
	if restored.DailyLossLimit > current.DailyLossLimit {
		out = append(out, FieldViolation{
			Field:    "hardStops.dailyLossLimit",
			Restored: restored.DailyLossLimit,
			Current:  current.DailyLossLimit,
		})
	}
	if restored.ConsecutiveLosses > current.ConsecutiveLosses {
		out = append(out, FieldViolation{
			Field:    "hardStops.consecutiveLosses",
			Restored: float64(restored.ConsecutiveLosses),
			Current:  float64(current.ConsecutiveLosses),
		})
	}
	if restored.BankrollPercent > current.BankrollPercent {
		out = append(out, FieldViolation{
			Field:    "hardStops.bankrollPercent",
			Restored: restored.BankrollPercent,
			Current:  current.BankrollPercent,
		})
	}
	return out
}

// strictestLocked 取本进程生效配置与存储中最新快照逐项更严格的熔断阈值。
// 多实例共享存储时，本进程持有的配置可能落后于其它实例的写入。
func (s *Service) strictestLocked(ctx context.Context) (policy.HardStopLimits, error) {
	limits := s.holder.Current().HardStops
	rec, err := s.store.LatestVersion(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return limits, nil
	}
	if err != nil {
		return policy.HardStopLimits{}, err
	}
	latest, err := decode(rec)
	if err != nil {
		return policy.HardStopLimits{}, err
	}
	stored := latest.Config.HardStops
	if stored.DailyLossLimit < limits.DailyLossLimit {
		limits.DailyLossLimit = stored.DailyLossLimit
	}
	if stored.ConsecutiveLosses < limits.ConsecutiveLosses {
		limits.ConsecutiveLosses = stored.ConsecutiveLosses
	}
	if stored.BankrollPercent < limits.BankrollPercent {
		limits.BankrollPercent = stored.BankrollPercent
	}
	return limits, nil
}

func (s *Service) latestIDLocked(ctx context.Context) (*string, error) {
	latest, err := s.store.LatestVersion(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id := latest.ID
	return &id, nil
}

func (s *Service) appendLocked(ctx context.Context, cfg policy.Config, actor, reason string, restore bool, previous *string) (Snapshot, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return Snapshot{}, fmt.Errorf("versioning: 序列化配置失败: %w", err)
	}

	rec, err := s.store.AppendVersion(ctx, func(next int64) (store.VersionSnapshot, error) {
		return store.VersionSnapshot{
			ID:                s.newID(),
			Version:           next,
			CreatedAt:         s.now().UTC(),
			CreatedBy:         actor,
			ConfigJSON:        string(data),
			ChangeReason:      reason,
			IsRestore:         restore,
			PreviousVersionID: previous,
		}, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return decode(rec)
}

func decode(rec store.VersionSnapshot) (Snapshot, error) {
	var cfg policy.Config
	if err := json.Unmarshal([]byte(rec.ConfigJSON), &cfg); err != nil {
		return Snapshot{}, fmt.Errorf("versioning: 解析版本 %d 的配置失败: %w", rec.Version, err)
	}
	return Snapshot{
		ID:                rec.ID,
		Version:           rec.Version,
		CreatedAt:         rec.CreatedAt,
		CreatedBy:         rec.CreatedBy,
		Config:            cfg,
		ChangeReason:      rec.ChangeReason,
		IsRestore:         rec.IsRestore,
		PreviousVersionID: rec.PreviousVersionID,
	}, nil
}
