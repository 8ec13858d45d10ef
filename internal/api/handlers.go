package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"pick-policy/internal/engine"
	"pick-policy/internal/monitor"
	"pick-policy/internal/policy"
	"pick-policy/internal/risk"
	"pick-policy/internal/store"
	"pick-policy/internal/versioning"
)

type evaluateRequest struct {
	Prediction engine.PredictionInput `json:"prediction"`
	Context    *engine.RunContext     `json:"context,omitempty"`
}

type updateConfigRequest struct {
	Patch  policy.Patch `json:"patch"`
	Actor  string       `json:"actor"`
	Reason string       `json:"reason"`
}

type updateConfigResponse struct {
	Config  policy.Config       `json:"config"`
	Version versioning.Snapshot `json:"version"`
}

type resetRequest struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actorId"`
}

type lossRequest struct {
	Amount float64 `json:"amount"`
}

type outcomeRequest struct {
	Status  engine.Status `json:"status"`
	Outcome string        `json:"outcome"`
	Amount  float64       `json:"amount"`
}

type bankrollRequest struct {
	Amount  float64 `json:"amount"`
	ActorID string  `json:"actorId"`
}

type createVersionRequest struct {
	Config policy.Config `json:"config"`
	Actor  string        `json:"actor"`
	Reason string        `json:"reason"`
}

type restoreRequest struct {
	Actor string `json:"actor"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Breaker        string `json:"breaker"`
	HardStopActive bool   `json:"hardStopActive"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Tracker.Status(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, healthResponse{
		Status:         "ok",
		Breaker:        s.deps.Engine.BreakerState(),
		HardStopActive: status.IsActive,
	})
}

// handleEvaluate 执行评估。请求未携带风控上下文时使用跟踪器中的当前状态；
// 携带时仍以跟踪器的熔断标记为准。
// 评估成功写入决策记录，失败只写入异常事件。
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	ctx := r.Context()
	var run engine.RunContext
	tracked, err := s.deps.Tracker.RunContext(ctx, "")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.Context != nil {
		run = *req.Context
		// 请求自带的计数不能解除跟踪器中已触发的熔断。
		if tracked.HardStopActive && !run.HardStopActive {
			run.HardStopActive = true
			run.HardStopReason = tracked.HardStopReason
		}
	} else {
		run = tracked
	}
	if run.TraceID == "" {
		run.TraceID = requestID(ctx)
	}
	if run.ExecutedAt.IsZero() {
		run.ExecutedAt = s.now()
	}

	result, err := s.deps.Engine.Evaluate(ctx, req.Prediction, run)
	if err != nil {
		s.deps.Journal.RecordError(ctx, req.Prediction, string(KindOf(err)), run.TraceID, err)
		writeError(w, s.logger, err)
		return
	}

	s.deps.Journal.RecordDecision(ctx, req.Prediction, result)
	writeJSON(w, s.logger, http.StatusOK, result)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, s.deps.Versions.Current())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := requireField("actor", req.Actor); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.Patch.IsEmpty() {
		writeError(w, s.logger, fmt.Errorf("%w: patch is empty", errBadRequest))
		return
	}

	cfg, snap, err := s.deps.Versions.UpdateConfig(r.Context(), req.Patch, req.Actor, req.Reason)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.recordConfigChange(r, snap, req.Actor, req.Reason)
	writeJSON(w, s.logger, http.StatusOK, updateConfigResponse{Config: cfg, Version: snap})
}

func (s *Server) handleHardStopStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Tracker.Status(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, status)
}

func (s *Server) handleHardStopReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	ctx := r.Context()
	wasActive, err := s.deps.Tracker.IsActive(ctx)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if _, err := s.deps.Tracker.Reset(ctx, req.Reason, req.ActorID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.deps.Journal.RecordReset(ctx, monitor.ResetPayload{Actor: req.ActorID, Reason: req.Reason, WasActive: wasActive})
	s.writeStatus(w, r)
}

func (s *Server) handleHardStopLoss(w http.ResponseWriter, r *http.Request) {
	var req lossRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if _, err := s.deps.Tracker.UpdateDailyLoss(r.Context(), req.Amount); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.writeStatus(w, r)
}

func (s *Server) handleHardStopOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	outcome, err := risk.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if _, err := s.deps.Tracker.RecordOutcome(r.Context(), req.Status, outcome, req.Amount); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.writeStatus(w, r)
}

func (s *Server) handleHardStopBankroll(w http.ResponseWriter, r *http.Request) {
	var req bankrollRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if _, err := s.deps.Tracker.SetBankroll(r.Context(), req.Amount, req.ActorID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.writeStatus(w, r)
}

func (s *Server) handleHardStopAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	entries, err := s.deps.Tracker.AuditLog(r.Context(), limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, entries)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	snaps, err := s.deps.Versions.GetVersionSnapshots(r.Context(), limit, offset)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, snaps)
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := requireField("actor", req.Actor); err != nil {
		writeError(w, s.logger, err)
		return
	}
	snap, err := s.deps.Versions.CreateVersionSnapshot(r.Context(), req.Config, req.Actor, req.Reason)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.recordConfigChange(r, snap, req.Actor, req.Reason)
	writeJSON(w, s.logger, http.StatusCreated, snap)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Versions.GetVersionByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, snap)
}

func (s *Server) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := requireField("actor", req.Actor); err != nil {
		writeError(w, s.logger, err)
		return
	}
	snap, err := s.deps.Versions.RestoreVersion(r.Context(), mux.Vars(r)["id"], req.Actor)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.recordConfigChange(r, snap, req.Actor, snap.ChangeReason)
	writeJSON(w, s.logger, http.StatusCreated, snap)
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	filter, err := decisionFilter(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	results, err := s.deps.Journal.ListDecisions(r.Context(), filter)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, results)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Tracker.Status(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, status)
}

func (s *Server) recordConfigChange(r *http.Request, snap versioning.Snapshot, actor, reason string) {
	cfg, err := json.Marshal(snap.Config)
	if err != nil {
		s.logger.Warn("序列化配置失败", zap.Error(err))
	}
	s.deps.Journal.RecordConfigChange(r.Context(), monitor.ConfigChangePayload{
		Version:   snap.Version,
		VersionID: snap.ID,
		Actor:     actor,
		Reason:    reason,
		IsRestore: snap.IsRestore,
		Config:    cfg,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", errBadRequest, name)
	}
	return nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return v, nil
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		return d.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s must be RFC3339 or YYYY-MM-DD", errBadRequest, name)
}

func decisionFilter(r *http.Request) (store.DecisionFilter, error) {
	var (
		filter store.DecisionFilter
		err    error
	)
	if filter.From, err = timeParam(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = timeParam(r, "to"); err != nil {
		return filter, err
	}
	if filter.Limit, err = intParam(r, "limit", 100); err != nil {
		return filter, err
	}
	if filter.Offset, err = intParam(r, "offset", 0); err != nil {
		return filter, err
	}
	q := r.URL.Query()
	filter.Status = strings.ToUpper(strings.TrimSpace(q.Get("status")))
	filter.MatchID = strings.TrimSpace(q.Get("match_id"))
	filter.UserID = strings.TrimSpace(q.Get("user_id"))
	return filter, nil
}
