package tracker

import (
	"context"
	"sync"
	"time"

	"fieldops/common/errors"

	"go.uber.org/zap"
)

const (
	DefaultMinDistance   = 10.0
	DefaultMinInterval   = 60 * time.Second
	DefaultUploadTimeout = 10 * time.Second

	maxUploadErrors = 20
)

// Uploader 上报一个已接受的样本
type Uploader interface {
	Upload(ctx context.Context, p Position) error
}

// State 采样器状态
type State string

const (
	StateIdle     State = "idle"
	StateTracking State = "tracking"
	StateError    State = "error"
)

// Options 过滤参数；零值取默认
type Options struct {
	MinDistance   float64       // 米
	MinInterval   time.Duration // 按样本时间戳计算；< 0 表示不限制
	UploadTimeout time.Duration
}

// UploadError 单个样本上报失败
type UploadError struct {
	Position Position
	Err      error
	At       time.Time
}

// Stats 采样器快照
type Stats struct {
	State        State
	Accepted     int
	Discarded    int
	Uploaded     int
	LastError    error
	UploadErrors []UploadError
}

// Sampler 监听 PositionSource，按距离 / 间隔过滤后交给 Uploader
// 同一时刻只持有一个 watch；Start 会先取消旧的 watch
type Sampler struct {
	source   PositionSource
	uploader Uploader
	opts     Options
	logger   *zap.Logger

	// lifeMu 串行化 Start / Stop，保证任意时刻最多一个 watch
	lifeMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *Position
	stats  Stats
}

// NewSampler 创建采样器
func NewSampler(source PositionSource, uploader Uploader, opts Options, logger *zap.Logger) *Sampler {
	if opts.MinDistance <= 0 {
		opts.MinDistance = DefaultMinDistance
	}
	if opts.MinInterval == 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}
	done := make(chan struct{})
	close(done)
	return &Sampler{
		source:   source,
		uploader: uploader,
		opts:     opts,
		logger:   logger,
		done:     done,
		stats:    Stats{State: StateIdle},
	}
}

// Start 开始监听；已有 watch 时先停止
func (s *Sampler) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.stopLocked()

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.stats.State = StateTracking
	s.stats.LastError = nil
	s.mu.Unlock()

	s.logger.Info("Location tracking started",
		zap.Float64("min_distance_m", s.opts.MinDistance),
		zap.Duration("min_interval", s.opts.MinInterval),
	)
	go s.run(watchCtx, done)
}

// Stop 取消 watch，等待其退出并清除参考点
func (s *Sampler) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.stopLocked()
}

// stopLocked 调用方持有 lifeMu
func (s *Sampler) stopLocked() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.mu.Lock()
	s.last = nil
	if s.stats.State == StateTracking {
		s.stats.State = StateIdle
	}
	s.mu.Unlock()
	s.logger.Info("Location tracking stopped")
}

// Done 当前 watch 结束时关闭
func (s *Sampler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stats 返回快照
func (s *Sampler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.UploadErrors = append([]UploadError(nil), s.stats.UploadErrors...)
	return out
}

func (s *Sampler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := s.source.Watch(ctx, func(p Position) { s.handle(ctx, p) })

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil && ctx.Err() == nil:
		s.stats.State = StateError
		s.stats.LastError = err
		s.logger.Warn("Location tracking failed", zap.Error(err))
	case ctx.Err() == nil:
		// 来源耗尽
		s.stats.State = StateIdle
	}
}

// accept 距离与间隔都达到阈值才接受；没有参考点时直接接受
func (s *Sampler) accept(p Position) bool {
	if s.last == nil {
		return true
	}
	if s.opts.MinInterval > 0 && p.Timestamp.Sub(s.last.Timestamp) < s.opts.MinInterval {
		return false
	}
	return DistanceMeters(s.last.Point(), p.Point()) >= s.opts.MinDistance
}

func (s *Sampler) handle(ctx context.Context, p Position) {
	if err := p.Point().Validate(); err != nil {
		s.mu.Lock()
		s.stats.Discarded++
		s.mu.Unlock()
		s.logger.Debug("Invalid position discarded", zap.Error(err))
		return
	}

	s.mu.Lock()
	if !s.accept(p) {
		s.stats.Discarded++
		s.mu.Unlock()
		return
	}
	cp := p
	s.last = &cp
	s.stats.Accepted++
	s.mu.Unlock()

	uploadCtx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	err := s.uploader.Upload(uploadCtx, p)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.stats.UploadErrors = append(s.stats.UploadErrors, UploadError{Position: p, Err: errors.Wrap(err, "upload failed"), At: time.Now()})
		if n := len(s.stats.UploadErrors); n > maxUploadErrors {
			s.stats.UploadErrors = s.stats.UploadErrors[n-maxUploadErrors:]
		}
		s.logger.Warn("Location upload failed",
			zap.Float64("latitude", p.Latitude),
			zap.Float64("longitude", p.Longitude),
			zap.Error(err),
		)
		return
	}
	s.stats.Uploaded++
}
