package service

import (
	"context"
	"net"
	"net/http"
	"time"

	"fieldops/common/errors"

	"go.uber.org/zap"
)

// ServerTimeouts HTTP 超时；零值取默认
// WriteTimeout 对 SSE 无效：流式 handler 自行清除写截止时间
type ServerTimeouts struct {
	ReadHeader time.Duration
	Read       time.Duration
	Write      time.Duration
	Idle       time.Duration
}

func (t ServerTimeouts) withDefaults() ServerTimeouts {
	if t.ReadHeader <= 0 {
		t.ReadHeader = 5 * time.Second
	}
	if t.Read <= 0 {
		t.Read = 30 * time.Second
	}
	if t.Write <= 0 {
		t.Write = 60 * time.Second
	}
	if t.Idle <= 0 {
		t.Idle = 120 * time.Second
	}
	return t
}

// Server fieldops-api HTTP 服务
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer 创建 HTTP 服务；请求 context 派生自 baseCtx，关停时一并取消
func NewServer(baseCtx context.Context, addr string, handler http.Handler, timeouts ServerTimeouts, logger *zap.Logger) *Server {
	t := timeouts.withDefaults()
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: t.ReadHeader,
		ReadTimeout:       t.Read,
		WriteTimeout:      t.Write,
		IdleTimeout:       t.Idle,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}
	return &Server{httpServer: s, logger: logger}
}

// Start 监听 Addr；正常关停返回 nil
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.httpServer.Addr)
	}
	return s.Serve(ln)
}

// Serve 在已有 listener 上提供服务
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting fieldops HTTP server", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 优雅关停，等待进行中的请求直到 ctx 结束
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping fieldops HTTP server")
	return s.httpServer.Shutdown(ctx)
}
