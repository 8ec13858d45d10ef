package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"pick-policy/internal/engine"
	"pick-policy/internal/errkind"
	"pick-policy/internal/versioning"
)

// ErrorKind 为对外暴露的错误分类。
type ErrorKind = errkind.Kind

const (
	KindValidation      = errkind.Validation
	KindConfiguration   = errkind.Configuration
	KindCircuitOpen     = errkind.CircuitOpen
	KindTimeout         = errkind.Timeout
	KindBoundsViolation = errkind.BoundsViolation
	KindNotFound        = errkind.NotFound
	KindInternal        = errkind.Internal
)

var errBadRequest = errors.New("api: bad request")

// KindOf 在 errkind.Of 之外把请求体解析失败归为参数错误。
func KindOf(err error) ErrorKind {
	if errors.Is(err, errBadRequest) {
		return KindValidation
	}
	return errkind.Of(err)
}

type errorBody struct {
	Kind       ErrorKind                   `json:"kind"`
	Message    string                      `json:"message"`
	Field      string                      `json:"field,omitempty"`
	Violations []versioning.FieldViolation `json:"violations,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeError 输出错误响应。熔断与超时只提示稍后重试，内部错误不暴露细节。
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := KindOf(err)
	body := errorBody{Kind: kind, Message: err.Error()}
	status := http.StatusInternalServerError

	switch kind {
	case KindValidation, KindConfiguration:
		status = http.StatusBadRequest
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			body.Field = verr.Field
		}
	case KindCircuitOpen, KindTimeout:
		status = http.StatusServiceUnavailable
		body.Message = "temporarily unavailable, retry"
		w.Header().Set("Retry-After", "60")
	case KindBoundsViolation:
		status = http.StatusConflict
		var bounds *versioning.BoundsViolationError
		if errors.As(err, &bounds) {
			body.Violations = bounds.Violations
		}
	case KindNotFound:
		status = http.StatusNotFound
		body.Message = "not found"
	default:
		body.Message = "internal error"
		logger.Error("请求处理失败", zap.Error(err))
	}

	writeJSON(w, logger, status, errorResponse{Error: body})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", zap.Error(err))
	}
}
