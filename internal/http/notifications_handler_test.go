package httpapi

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fieldops/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNotifications_ReadFlow(t *testing.T) {
	env := newAPIEnv(t)
	env.createJob(t)
	env.createJob(t)

	w := env.do(t, "p-m1", http.MethodGet, "/notifications?unread=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)["notifications"].([]any)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)["id"].(string)

	// 别人的通知按不存在处理
	w = env.do(t, "p-m2", http.MethodPut, "/notifications/"+first+"/read", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "p-m1", http.MethodPut, "/notifications/"+first+"/read", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, "p-m1", http.MethodGet, "/notifications?unread=true", nil)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = env.do(t, "p-m1", http.MethodPut, "/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["updated"])

	w = env.do(t, "p-m1", http.MethodGet, "/notifications?unread=true", nil)
	assert.Equal(t, float64(0), decode(t, w)["total"])

	w = env.do(t, "p-m1", http.MethodPost, "/notifications", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func streamRequest(t *testing.T, user, lastEventID string, d time.Duration) *http.Request {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	req := httptest.NewRequest(http.MethodGet, "/notifications/stream", nil).WithContext(ctx)
	req.Header.Set(HeaderUserID, user)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	return req
}

func TestNotifications_StreamReplaysFromLastEventID(t *testing.T) {
	env := newAPIEnv(t)
	jobID := env.createJob(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, streamRequest(t, "p-m1", "0", 200*time.Millisecond))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, ": connected\n\n"), body)
	assert.Contains(t, body, "event: notification\n")
	assert.Contains(t, body, `"related_job_id":"`+jobID+`"`)
	assert.Equal(t, 1, strings.Count(body, "event: notification"))
}

func TestNotifications_StreamSkipsBacklogWithoutLastEventID(t *testing.T) {
	env := newAPIEnv(t)
	env.createJob(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, streamRequest(t, "p-m1", "", 100*time.Millisecond))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "event: notification")
	assert.Contains(t, w.Body.String(), ": keep-alive")
}

func TestNotifications_StreamDisabled(t *testing.T) {
	env := newAPIEnv(t)
	h := NewNotificationsHandler(env.notifs.auth, env.notifs.notifications, nil, zap.NewNop())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, streamRequest(t, "p-m1", "", time.Second))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNotifications_StreamOutlivesWriteTimeout(t *testing.T) {
	env := newAPIEnv(t)
	env.createJob(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := service.NewServer(context.Background(), ln.Addr().String(), env.router,
		service.ServerTimeouts{Write: 100 * time.Millisecond}, zap.NewNop())
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = srv.Stop(stopCtx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ln.Addr().String()+"/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderUserID, "p-m1")
	req.Header.Set("Last-Event-ID", "0")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// 超过 WriteTimeout 之后再产生通知
	time.Sleep(300 * time.Millisecond)
	env.createJob(t)

	scanner := bufio.NewScanner(resp.Body)
	events := 0
	for events < 2 && scanner.Scan() {
		if scanner.Text() == "event: notification" {
			events++
		}
	}
	assert.Equal(t, 2, events)
}
