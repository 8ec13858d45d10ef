package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore 为进程内实现，用于测试与单机嵌入。所有操作由同一把锁串行。
type MemoryStore struct {
	mu sync.Mutex

	state     *HardStopState
	audit     []AuditEntry
	versions  []VersionSnapshot
	decisions []DecisionRecord
	events    []EventRecord
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) LoadHardStopState(ctx context.Context, now time.Time) (HardStopState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		seed := seedState(now)
		s.state = &seed
	}
	return cloneState(*s.state), nil
}

func (s *MemoryStore) MutateHardStopState(ctx context.Context, now time.Time, fn HardStopMutation) (HardStopState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return HardStopState{}, err
	}
	if s.state == nil {
		seed := seedState(now)
		s.state = &seed
	}

	next := cloneState(*s.state)
	entries, err := fn(&next)
	if err != nil {
		return HardStopState{}, err
	}
	next.Revision = s.state.Revision + 1
	next.UpdatedAt = now.UTC()
	s.state = &next

	for _, e := range entries {
		e.ID = int64(len(s.audit) + 1)
		s.audit = append(s.audit, e)
	}

	return cloneState(next), nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit = normalizeLimit(limit, 100, 1000)
	out := make([]AuditEntry, 0, limit)
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}

func (s *MemoryStore) AppendVersion(ctx context.Context, build func(next int64) (VersionSnapshot, error)) (VersionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.maxVersionLocked() + 1
	snap, err := build(next)
	if err != nil {
		return VersionSnapshot{}, err
	}
	if snap.Version != next {
		return VersionSnapshot{}, fmt.Errorf("store: version %d 与分配的 %d 不一致", snap.Version, next)
	}
	for _, v := range s.versions {
		if v.ID == snap.ID {
			return VersionSnapshot{}, fmt.Errorf("store: version id %q 已存在", snap.ID)
		}
	}
	s.versions = append(s.versions, snap)
	return snap, nil
}

func (s *MemoryStore) MaxVersion(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxVersionLocked(), nil
}

func (s *MemoryStore) maxVersionLocked() int64 {
	var max int64
	for _, v := range s.versions {
		if v.Version > max {
			max = v.Version
		}
	}
	return max
}

func (s *MemoryStore) GetVersion(ctx context.Context, id string) (VersionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.versions {
		if v.ID == id {
			return v, nil
		}
	}
	return VersionSnapshot{}, ErrNotFound
}

func (s *MemoryStore) LatestVersion(ctx context.Context) (VersionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.versions) == 0 {
		return VersionSnapshot{}, ErrNotFound
	}
	latest := s.versions[0]
	for _, v := range s.versions[1:] {
		if v.Version > latest.Version {
			latest = v
		}
	}
	return latest, nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, limit, offset int) ([]VersionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]VersionSnapshot(nil), s.versions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version > sorted[j].Version })
	return page(sorted, normalizeLimit(limit, 20, 200), offset), nil
}

func (s *MemoryStore) AppendDecision(ctx context.Context, rec DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.decisions {
		if d.DecisionID == rec.DecisionID {
			return fmt.Errorf("store: decision %q 已存在", rec.DecisionID)
		}
	}
	s.decisions = append(s.decisions, rec)
	return nil
}

func (s *MemoryStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]DecisionRecord, 0)
	for _, d := range s.decisions {
		if !filter.From.IsZero() && d.ExecutedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !d.ExecutedAt.Before(filter.To) {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.MatchID != "" && d.MatchID != filter.MatchID {
			continue
		}
		if filter.UserID != "" && d.UserID != filter.UserID {
			continue
		}
		matched = append(matched, d)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ExecutedAt.After(matched[j].ExecutedAt) })
	return page(matched, normalizeLimit(filter.Limit, 100, 1000), filter.Offset), nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, ev EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, eventType string, limit int) ([]EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit = normalizeLimit(limit, 100, 1000)
	out := make([]EventRecord, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if eventType != "" && s.events[i].EventType != eventType {
			continue
		}
		out = append(out, s.events[i])
	}
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return append([]T(nil), items[offset:end]...)
}

func cloneState(s HardStopState) HardStopState {
	out := s
	if s.TriggeredAt != nil {
		t := *s.TriggeredAt
		out.TriggeredAt = &t
	}
	if s.TriggerReason != nil {
		r := *s.TriggerReason
		out.TriggerReason = &r
	}
	return out
}
