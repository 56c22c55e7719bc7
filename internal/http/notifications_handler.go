package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fieldops/common/errors"
	"fieldops/internal/service"
	"fieldops/internal/store"

	"go.uber.org/zap"
)

// NotificationStreamReader 实时通知流（由 store.NotificationStream 实现）
type NotificationStreamReader interface {
	LastID(ctx context.Context, userID string) (string, error)
	Read(ctx context.Context, userID, lastID string, block time.Duration) ([]store.StreamEvent, error)
}

// NotificationsHandler /notifications
type NotificationsHandler struct {
	auth          *Authenticator
	notifications *service.NotificationService
	stream        NotificationStreamReader
	streamBlock   time.Duration
	logger        *zap.Logger
}

// NewNotificationsHandler stream 为 nil 时 /notifications/stream 返回 503
func NewNotificationsHandler(auth *Authenticator, notifications *service.NotificationService, stream NotificationStreamReader, logger *zap.Logger) *NotificationsHandler {
	return &NotificationsHandler{
		auth:          auth,
		notifications: notifications,
		stream:        stream,
		streamBlock:   15 * time.Second,
		logger:        logger,
	}
}

// ServeHTTP 路由分发
func (h *NotificationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	seg := pathSegments(r.URL.Path)
	switch {
	case len(seg) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.ListNotifications(w, r)
	case len(seg) == 2 && seg[1] == "stream":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.Stream(w, r)
	case len(seg) == 2 && seg[1] == "read-all":
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		h.MarkAllRead(w, r)
	case len(seg) == 3 && seg[2] == "read":
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		h.MarkRead(w, r, seg[1])
	default:
		notFound(w)
	}
}

// ListNotifications GET /notifications?unread=true&limit=&offset=
func (h *NotificationsHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := parseInt(q.Get("limit"), 0)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	offset, err := parseInt(q.Get("offset"), 0)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp, err := h.notifications.ListNotifications(r.Context(), service.ListNotificationsRequest{
		Actor:      actor,
		UnreadOnly: parseBool(q.Get("unread")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// MarkRead PUT /notifications/{id}/read
func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(r.Context(), actor, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, successOK)
}

// MarkAllRead PUT /notifications/read-all
func (h *NotificationsHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	n, err := h.notifications.MarkAllRead(r.Context(), actor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated": n})
}

// Stream GET /notifications/stream（SSE）；Last-Event-ID 续传
func (h *NotificationsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	if h.stream == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "realtime notifications are not enabled"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, h.logger, errors.New("streaming unsupported"))
		return
	}
	// 长连接不受服务端 WriteTimeout 限制
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Debug("Failed to clear write deadline", zap.Error(err))
	}

	ctx := r.Context()
	lastID := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if lastID == "" {
		id, err := h.stream.LastID(ctx, actor.ProfileID)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		lastID = id
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for ctx.Err() == nil {
		events, err := h.stream.Read(ctx, actor.ProfileID, lastID, h.streamBlock)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("Notification stream read failed", zap.String("user_id", actor.ProfileID), zap.Error(err))
			}
			return
		}
		if len(events) == 0 {
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
			continue
		}
		for _, ev := range events {
			data, err := json.Marshal(ev.Notification)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: notification\ndata: %s\n\n", ev.ID, data)
			lastID = ev.ID
		}
		flusher.Flush()
	}
}
