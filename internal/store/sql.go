package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// dialect 描述不同数据库在建表与加锁上的差异。
type dialect struct {
	name string
	// schema 为建表语句。
	schema []string
	// lockStateSuffix 追加在读取状态行的 SELECT 之后，用于行锁。
	lockStateSuffix string
	// lockVersions 在分配版本号之前执行，为空表示依赖事务本身的串行化。
	lockVersions string
}

// SQLStore 基于 sqlx 的通用实现，SQLite 与 PostgreSQL 共用。
type SQLStore struct {
	db *sqlx.DB
	d  dialect
}

var _ Store = (*SQLStore)(nil)

func newSQLStore(db *sqlx.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: 初始化表结构失败 (%s): %w", s.d.name, err)
		}
	}
	return nil
}

// DB 返回底层连接。
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

// Close 关闭数据库连接。
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectState = `SELECT is_active, daily_loss, consecutive_losses, bankroll_percent, bankroll,
	last_reset_at, triggered_at, trigger_reason, updated_at, revision
	FROM hard_stop_state WHERE id = 1`

const seedStateSQL = `INSERT INTO hard_stop_state
	(id, is_active, daily_loss, consecutive_losses, bankroll_percent, bankroll, last_reset_at, updated_at, revision)
	VALUES (1, ?, 0, 0, 0, 0, ?, ?, 0)
	ON CONFLICT (id) DO NOTHING`

func (s *SQLStore) LoadHardStopState(ctx context.Context, now time.Time) (HardStopState, error) {
	var state HardStopState
	err := s.db.GetContext(ctx, &state, selectState)
	if errors.Is(err, sql.ErrNoRows) {
		seed := seedState(now)
		if _, execErr := s.db.ExecContext(ctx, s.db.Rebind(seedStateSQL), false, seed.LastResetAt, seed.UpdatedAt); execErr != nil {
			return HardStopState{}, fmt.Errorf("store: 初始化熔断状态失败: %w", execErr)
		}
		err = s.db.GetContext(ctx, &state, selectState)
	}
	if err != nil {
		return HardStopState{}, fmt.Errorf("store: 读取熔断状态失败: %w", err)
	}
	return normalizeState(state), nil
}

func (s *SQLStore) MutateHardStopState(ctx context.Context, now time.Time, fn HardStopMutation) (result HardStopState, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return HardStopState{}, fmt.Errorf("store: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	seed := seedState(now)
	if _, err = tx.ExecContext(ctx, tx.Rebind(seedStateSQL), false, seed.LastResetAt, seed.UpdatedAt); err != nil {
		return HardStopState{}, fmt.Errorf("store: 初始化熔断状态失败: %w", err)
	}

	var current HardStopState
	if err = tx.GetContext(ctx, &current, selectState+s.d.lockStateSuffix); err != nil {
		return HardStopState{}, fmt.Errorf("store: 读取熔断状态失败: %w", err)
	}
	current = normalizeState(current)

	next := cloneState(current)
	entries, err := fn(&next)
	if err != nil {
		return HardStopState{}, err
	}
	next.Revision = current.Revision + 1
	next.UpdatedAt = now.UTC()

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE hard_stop_state SET
		is_active = ?, daily_loss = ?, consecutive_losses = ?, bankroll_percent = ?, bankroll = ?,
		last_reset_at = ?, triggered_at = ?, trigger_reason = ?, updated_at = ?, revision = ?
		WHERE id = 1 AND revision = ?`),
		next.IsActive, next.DailyLoss, next.ConsecutiveLosses, next.BankrollPercent, next.Bankroll,
		next.LastResetAt, next.TriggeredAt, next.TriggerReason, next.UpdatedAt, next.Revision,
		current.Revision,
	)
	if err != nil {
		return HardStopState{}, fmt.Errorf("store: 更新熔断状态失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return HardStopState{}, fmt.Errorf("store: 读取更新行数失败: %w", err)
	}
	if affected == 0 {
		return HardStopState{}, fmt.Errorf("%w: expected revision %d", ErrStaleRevision, current.Revision)
	}

	for _, e := range entries {
		if _, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO hard_stop_audit
			(occurred_at, event_type, actor_id, reason, previous_state, current_state)
			VALUES (?, ?, ?, ?, ?, ?)`),
			e.OccurredAt.UTC(), e.EventType, e.ActorID, e.Reason, e.PreviousState, e.CurrentState,
		); err != nil {
			return HardStopState{}, fmt.Errorf("store: 写入审计日志失败: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return HardStopState{}, fmt.Errorf("store: 提交事务失败: %w", err)
	}
	return next, nil
}

func (s *SQLStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	limit = normalizeLimit(limit, 100, 1000)
	entries := make([]AuditEntry, 0, limit)
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(`SELECT id, occurred_at, event_type, actor_id, reason, previous_state, current_state
		FROM hard_stop_audit ORDER BY id DESC LIMIT ?`), limit); err != nil {
		return nil, fmt.Errorf("store: 查询审计日志失败: %w", err)
	}
	for i := range entries {
		entries[i].OccurredAt = entries[i].OccurredAt.UTC()
	}
	return entries, nil
}

const selectVersion = `SELECT id, version, created_at, created_by, config_json, change_reason, is_restore, previous_version_id
	FROM policy_versions`

func (s *SQLStore) AppendVersion(ctx context.Context, build func(next int64) (VersionSnapshot, error)) (snap VersionSnapshot, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return VersionSnapshot{}, fmt.Errorf("store: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.d.lockVersions != "" {
		if _, err = tx.ExecContext(ctx, s.d.lockVersions); err != nil {
			return VersionSnapshot{}, fmt.Errorf("store: 锁定版本表失败: %w", err)
		}
	}

	var max int64
	if err = tx.GetContext(ctx, &max, `SELECT COALESCE(MAX(version), 0) FROM policy_versions`); err != nil {
		return VersionSnapshot{}, fmt.Errorf("store: 查询最大版本失败: %w", err)
	}

	snap, err = build(max + 1)
	if err != nil {
		return VersionSnapshot{}, err
	}
	if snap.Version != max+1 {
		err = fmt.Errorf("store: version %d 与分配的 %d 不一致", snap.Version, max+1)
		return VersionSnapshot{}, err
	}

	if _, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO policy_versions
		(id, version, created_at, created_by, config_json, change_reason, is_restore, previous_version_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		snap.ID, snap.Version, snap.CreatedAt.UTC(), snap.CreatedBy, snap.ConfigJSON, snap.ChangeReason, snap.IsRestore, snap.PreviousVersionID,
	); err != nil {
		return VersionSnapshot{}, fmt.Errorf("store: 写入版本快照失败: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return VersionSnapshot{}, fmt.Errorf("store: 提交事务失败: %w", err)
	}
	return snap, nil
}

func (s *SQLStore) MaxVersion(ctx context.Context) (int64, error) {
	var max int64
	if err := s.db.GetContext(ctx, &max, `SELECT COALESCE(MAX(version), 0) FROM policy_versions`); err != nil {
		return 0, fmt.Errorf("store: 查询最大版本失败: %w", err)
	}
	return max, nil
}

func (s *SQLStore) GetVersion(ctx context.Context, id string) (VersionSnapshot, error) {
	var snap VersionSnapshot
	err := s.db.GetContext(ctx, &snap, s.db.Rebind(selectVersion+` WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return VersionSnapshot{}, ErrNotFound
	}
	if err != nil {
		return VersionSnapshot{}, fmt.Errorf("store: 查询版本快照失败: %w", err)
	}
	snap.CreatedAt = snap.CreatedAt.UTC()
	return snap, nil
}

func (s *SQLStore) LatestVersion(ctx context.Context) (VersionSnapshot, error) {
	var snap VersionSnapshot
	err := s.db.GetContext(ctx, &snap, selectVersion+` ORDER BY version DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return VersionSnapshot{}, ErrNotFound
	}
	if err != nil {
		return VersionSnapshot{}, fmt.Errorf("store: 查询最新版本失败: %w", err)
	}
	snap.CreatedAt = snap.CreatedAt.UTC()
	return snap, nil
}

func (s *SQLStore) ListVersions(ctx context.Context, limit, offset int) ([]VersionSnapshot, error) {
	limit = normalizeLimit(limit, 20, 200)
	if offset < 0 {
		offset = 0
	}
	snaps := make([]VersionSnapshot, 0, limit)
	if err := s.db.SelectContext(ctx, &snaps, s.db.Rebind(selectVersion+` ORDER BY version DESC LIMIT ? OFFSET ?`), limit, offset); err != nil {
		return nil, fmt.Errorf("store: 查询版本列表失败: %w", err)
	}
	for i := range snaps {
		snaps[i].CreatedAt = snaps[i].CreatedAt.UTC()
	}
	return snaps, nil
}

func (s *SQLStore) AppendDecision(ctx context.Context, rec DecisionRecord) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO policy_decisions
		(decision_id, prediction_id, match_id, run_id, user_id, model_version, status, rationale,
		 confidence_gate, edge_gate, drift_gate, hard_stop_gate, hard_stop_reason, recommended_action,
		 trace_id, executed_at, gate_outcomes)
		VALUES (:decision_id, :prediction_id, :match_id, :run_id, :user_id, :model_version, :status, :rationale,
		 :confidence_gate, :edge_gate, :drift_gate, :hard_stop_gate, :hard_stop_reason, :recommended_action,
		 :trace_id, :executed_at, :gate_outcomes)`, rec)
	if err != nil {
		return fmt.Errorf("store: 写入决策记录失败: %w", err)
	}
	return nil
}

func (s *SQLStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]DecisionRecord, error) {
	query, args := buildDecisionQuery(filter)
	records := make([]DecisionRecord, 0)
	if err := s.db.SelectContext(ctx, &records, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("store: 查询决策记录失败: %w", err)
	}
	for i := range records {
		records[i].ExecutedAt = records[i].ExecutedAt.UTC()
	}
	return records, nil
}

func (s *SQLStore) AppendEvent(ctx context.Context, ev EventRecord) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`),
		ev.EventType, ev.Payload, ev.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("store: 写入事件失败: %w", err)
	}
	return nil
}

func (s *SQLStore) ListEvents(ctx context.Context, eventType string, limit int) ([]EventRecord, error) {
	query := `SELECT id, event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, normalizeLimit(limit, 100, 1000))

	events := make([]EventRecord, 0)
	if err := s.db.SelectContext(ctx, &events, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("store: 查询事件失败: %w", err)
	}
	for i := range events {
		events[i].CreatedAt = events[i].CreatedAt.UTC()
	}
	return events, nil
}

func buildDecisionQuery(filter DecisionFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if !filter.From.IsZero() {
		where = append(where, "executed_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where = append(where, "executed_at < ?")
		args = append(args, filter.To.UTC())
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.MatchID != "" {
		where = append(where, "match_id = ?")
		args = append(args, filter.MatchID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}

	query := `SELECT decision_id, prediction_id, match_id, run_id, user_id, model_version, status, rationale,
		confidence_gate, edge_gate, drift_gate, hard_stop_gate, hard_stop_reason, recommended_action,
		trace_id, executed_at, gate_outcomes FROM policy_decisions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += " ORDER BY executed_at DESC LIMIT ? OFFSET ?"
	args = append(args, normalizeLimit(filter.Limit, 100, 1000), offset)
	return query, args
}

func normalizeState(s HardStopState) HardStopState {
	s.LastResetAt = s.LastResetAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if s.TriggeredAt != nil {
		t := s.TriggeredAt.UTC()
		s.TriggeredAt = &t
	}
	return s
}
