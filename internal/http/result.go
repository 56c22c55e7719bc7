package httpapi

import (
	"net/http"

	"fieldops/common/errors"

	"go.uber.org/zap"
)

// errorBody 错误响应 {error, type}
type errorBody struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

// successBody 无返回数据的操作
type successBody struct {
	Success bool `json:"success"`
}

var successOK = successBody{Success: true}

// statusForError 错误分类 -> HTTP 状态码 + 类型名
func statusForError(err error) (int, string) {
	switch errors.Kind(err) {
	case errors.ErrAuthentication:
		return http.StatusUnauthorized, "AuthenticationError"
	case errors.ErrPermission:
		return http.StatusForbidden, "PermissionError"
	case errors.ErrNotFound:
		return http.StatusNotFound, "NotFoundError"
	case errors.ErrValidation:
		return http.StatusBadRequest, "ValidationError"
	case errors.ErrConflict:
		return http.StatusBadRequest, "ConflictError"
	case errors.ErrInvalidState:
		return http.StatusBadRequest, "InvalidStateError"
	}
	return http.StatusInternalServerError, ""
}

// writeError 统一错误出口；500 只返回通用信息，细节写日志
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, typ := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, status, errorBody{Error: "internal server error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Type: typ})
}
