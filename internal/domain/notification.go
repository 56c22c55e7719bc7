package domain

import "time"

// NotificationType 通知类型
type NotificationType string

const (
	NotificationJobCreated       NotificationType = "job_created"
	NotificationJobAssigned      NotificationType = "job_assigned"
	NotificationJobUpdated       NotificationType = "job_updated"
	NotificationJobStatusChanged NotificationType = "job_status_changed"
	NotificationRouteShared      NotificationType = "route_shared"
)

// Notification 用户通知（对应 notifications 表）
// 只作为其他实体状态变化的副作用产生；已读状态只能由所属用户修改
type Notification struct {
	NotificationID  string           `json:"id"`
	UserID          string           `json:"user_id"`
	Type            NotificationType `json:"type"`
	Title           string           `json:"title"`
	Message         string           `json:"message"`
	IsRead          bool             `json:"is_read"`
	RelatedJobID    string           `json:"related_job_id,omitempty"`
	RelatedReviewID string           `json:"related_review_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}
