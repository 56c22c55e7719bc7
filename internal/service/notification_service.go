package service

import (
	"context"

	"fieldops/common/errors"
	"fieldops/internal/domain"
	"fieldops/internal/metrics"
	"fieldops/internal/repository"

	"go.uber.org/zap"
)

// NotificationPublisher 通知写库后的实时推送（Redis Stream、Webhook）
type NotificationPublisher interface {
	Publish(ctx context.Context, n *domain.Notification) error
}

// NotificationService 通知扇出与收件箱
type NotificationService struct {
	store      repository.Store
	publishers []NotificationPublisher
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewNotificationService 创建通知服务
func NewNotificationService(store repository.Store, m *metrics.Collector, logger *zap.Logger, publishers ...NotificationPublisher) *NotificationService {
	return &NotificationService{
		store:      store,
		publishers: publishers,
		metrics:    m,
		logger:     logger,
	}
}

// FanOut 逐个收件人写入通知；失败只记录日志与指标，不影响主操作
// 返回成功写入的通知
func (s *NotificationService) FanOut(ctx context.Context, notes []*domain.Notification) []*domain.Notification {
	created := make([]*domain.Notification, 0, len(notes))
	seen := map[string]bool{}
	for _, n := range notes {
		if n == nil || n.UserID == "" || seen[n.UserID] {
			continue
		}
		seen[n.UserID] = true

		if err := s.store.Repos().Notifications.CreateNotification(ctx, n); err != nil {
			s.logger.Warn("Failed to create notification",
				zap.String("user_id", n.UserID),
				zap.String("type", string(n.Type)),
				zap.String("related_job_id", n.RelatedJobID),
				zap.Error(err),
			)
			s.metrics.RecordFanout(string(n.Type), "failed")
			continue
		}
		s.metrics.RecordFanout(string(n.Type), "ok")
		created = append(created, n)

		for _, p := range s.publishers {
			if err := p.Publish(ctx, n); err != nil {
				s.logger.Warn("Failed to publish notification",
					zap.String("notification_id", n.NotificationID),
					zap.String("user_id", n.UserID),
					zap.Error(err),
				)
			}
		}
	}
	return created
}

// ListNotificationsRequest 通知列表请求
type ListNotificationsRequest struct {
	Actor      *domain.Actor
	UnreadOnly bool
	Limit      int
	Offset     int
}

// ListNotificationsResponse 通知列表响应
type ListNotificationsResponse struct {
	Notifications []*domain.Notification `json:"notifications"`
	Total         int                    `json:"total"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
}

// ListNotifications 当前用户的通知
func (s *NotificationService) ListNotifications(ctx context.Context, req ListNotificationsRequest) (*ListNotificationsResponse, error) {
	if req.Actor == nil {
		return nil, errors.Authenticationf("authentication required")
	}
	limit, offset, err := normalizePage(req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}
	items, total, err := s.store.Repos().Notifications.ListNotifications(ctx, req.Actor.ProfileID, req.UnreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	return &ListNotificationsResponse{Notifications: items, Total: total, Limit: limit, Offset: offset}, nil
}

// MarkRead 标记单条已读（仅所属用户）
func (s *NotificationService) MarkRead(ctx context.Context, actor *domain.Actor, notificationID string) error {
	if actor == nil {
		return errors.Authenticationf("authentication required")
	}
	if notificationID == "" {
		return errors.Validationf("notification id is required")
	}
	return s.store.Repos().Notifications.MarkRead(ctx, actor.ProfileID, notificationID)
}

// MarkAllRead 全部已读，返回更新条数
func (s *NotificationService) MarkAllRead(ctx context.Context, actor *domain.Actor) (int64, error) {
	if actor == nil {
		return 0, errors.Authenticationf("authentication required")
	}
	return s.store.Repos().Notifications.MarkAllRead(ctx, actor.ProfileID)
}

// customerProfileID 工单客户对应的 profile；客户没有登录账号时为空串
func customerProfileID(ctx context.Context, repos *repository.Repositories, customerID string, logger *zap.Logger) string {
	c, err := repos.Profiles.GetCustomer(ctx, customerID)
	if err != nil {
		logger.Warn("Failed to resolve customer profile", zap.String("customer_id", customerID), zap.Error(err))
		return ""
	}
	return c.ProfileID
}
