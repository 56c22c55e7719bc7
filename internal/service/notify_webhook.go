package service

import (
	"context"
	"sync"
	"time"

	"fieldops/common/errors"
	"fieldops/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DefaultWebhookQueueSize 待推送通知队列长度
const DefaultWebhookQueueSize = 256

// ErrPublisherClosed Close 之后的 Publish
var ErrPublisherClosed = errors.New("notification webhook publisher is closed")

// WebhookPayload 推送网关请求体
type WebhookPayload struct {
	Event        string               `json:"event"`
	Notification *domain.Notification `json:"notification"`
}

// WebhookPublisher 把通知推送到外部推送网关（移动端 push / 邮件）
// Publish 只入队，由后台 worker 发送；队列满时丢弃并返回错误
type WebhookPublisher struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *domain.Notification
	done   chan struct{}
}

// NewWebhookPublisher 创建推送客户端并启动 worker
func NewWebhookPublisher(url string, timeout time.Duration, queueSize int, logger *zap.Logger) *WebhookPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if queueSize <= 0 {
		queueSize = DefaultWebhookQueueSize
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(1*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	p := &WebhookPublisher{
		httpClient: client,
		url:        url,
		logger:     logger,
		queue:      make(chan *domain.Notification, queueSize),
		done:       make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish 入队，不等待网关响应
func (p *WebhookPublisher) Publish(ctx context.Context, n *domain.Notification) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	cp := *n
	select {
	case p.queue <- &cp:
		return nil
	default:
		return errors.Newf("notification webhook queue full, dropped %s", n.NotificationID)
	}
}

// Close 停止接收，等待队列发送完毕或 ctx 结束
func (p *WebhookPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "notification webhook queue not drained")
	}
}

func (p *WebhookPublisher) run() {
	defer close(p.done)
	for n := range p.queue {
		if err := p.send(context.Background(), n); err != nil {
			p.logger.Warn("Failed to push notification",
				zap.String("notification_id", n.NotificationID),
				zap.String("user_id", n.UserID),
				zap.Error(err),
			)
		}
	}
}

// send POST 通知；非 2xx 视为失败
func (p *WebhookPublisher) send(ctx context.Context, n *domain.Notification) error {
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetBody(WebhookPayload{Event: "notification.created", Notification: n}).
		Post(p.url)
	if err != nil {
		return errors.Wrap(err, "failed to call notification webhook")
	}
	if resp.IsError() {
		return errors.Newf("notification webhook returned %d", resp.StatusCode())
	}
	p.logger.Debug("Notification pushed",
		zap.String("notification_id", n.NotificationID),
		zap.String("user_id", n.UserID),
	)
	return nil
}
