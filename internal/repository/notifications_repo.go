package repository

import (
	"context"

	"fieldops/internal/domain"
)

// NotificationsRepository 通知Repository接口
type NotificationsRepository interface {
	// CreateNotification 创建通知，回填 NotificationID / CreatedAt
	CreateNotification(ctx context.Context, n *domain.Notification) error

	// ListNotifications 用户通知（倒序），返回总数
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*domain.Notification, int, error)

	// MarkRead 标记已读；不属于该用户时返回 ErrNotFound
	MarkRead(ctx context.Context, userID, notificationID string) error

	// MarkAllRead 全部标记已读，返回更新条数
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}
