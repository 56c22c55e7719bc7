package httpapi

import (
	"net/http"
	"strings"
	"time"

	"fieldops/internal/metrics"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux，外层包一层日志 + 指标中间件
type Router struct {
	mux     *http.ServeMux
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewRouter(m *metrics.Collector, logger *zap.Logger) *Router {
	return &Router{
		mux:     http.NewServeMux(),
		metrics: m,
		logger:  logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（/metrics 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	r.mux.ServeHTTP(rec, req)

	route := routeLabel(req.URL.Path)
	elapsed := time.Since(start)
	r.metrics.RecordRequest(req.Method, route, rec.status, elapsed)
	if route == "/healthz" || route == "/metrics" {
		return
	}
	r.logger.Info("HTTP request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", rec.status),
		zap.Duration("duration", elapsed),
		zap.String("user_id", req.Header.Get(HeaderUserID)),
	)
}

// RegisterJobRoutes /jobs 及子资源
func (r *Router) RegisterJobRoutes(h *JobsHandler) {
	r.HandleHandler("/jobs", h)
	r.HandleHandler("/jobs/", h)
}

// RegisterLocationRoutes /team-locations
func (r *Router) RegisterLocationRoutes(h *LocationsHandler) {
	r.HandleHandler("/team-locations", h)
	r.HandleHandler("/team-locations/", h)
}

// RegisterNotificationRoutes /notifications
func (r *Router) RegisterNotificationRoutes(h *NotificationsHandler) {
	r.HandleHandler("/notifications", h)
	r.HandleHandler("/notifications/", h)
}

// RegisterOpsRoutes /healthz, /metrics
func (r *Router) RegisterOpsRoutes() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.HandleHandler("/metrics", r.metrics.Handler())
}

// statusRecorder 记录响应码；保留 Flusher 供 SSE 使用
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// Unwrap 供 http.ResponseController 访问底层连接（SSE 清除写截止时间）
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// staticSegments 路由中的固定片段，其余片段视为 id
var staticSegments = map[string]bool{
	"jobs": true, "import": true, "template": true, "assignments": true, "updates": true,
	"photos": true, "share-route": true, "team-locations": true, "history": true,
	"notifications": true, "stream": true, "read": true, "read-all": true,
	"healthz": true, "metrics": true,
}

// routeLabel 指标用的低基数路由名：/jobs/{id}/assignments/{id}
func routeLabel(path string) string {
	seg := pathSegments(path)
	if len(seg) == 0 {
		return "/"
	}
	if !staticSegments[seg[0]] {
		return "other"
	}
	for i, s := range seg {
		if !staticSegments[s] {
			seg[i] = "{id}"
		}
	}
	return "/" + strings.Join(seg, "/")
}
