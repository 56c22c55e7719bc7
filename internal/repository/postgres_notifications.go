package repository

import (
	"context"
	"database/sql"

	"fieldops/common/errors"
	"fieldops/internal/domain"
)

// PostgresNotificationsRepository 通知Repository实现
type PostgresNotificationsRepository struct {
	db DBTX
}

// NewPostgresNotificationsRepository 创建通知Repository
func NewPostgresNotificationsRepository(db DBTX) *PostgresNotificationsRepository {
	return &PostgresNotificationsRepository{db: db}
}

var _ NotificationsRepository = (*PostgresNotificationsRepository)(nil)

// CreateNotification 创建通知
func (r *PostgresNotificationsRepository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO notifications (user_id, type, title, message, related_job_id, related_review_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING notification_id::text, is_read, created_at`,
		n.UserID, string(n.Type), n.Title, n.Message, nullString(n.RelatedJobID), nullString(n.RelatedReviewID),
	).Scan(&n.NotificationID, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to create notification")
	}
	return nil
}

// ListNotifications 用户通知
func (r *PostgresNotificationsRepository) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*domain.Notification, int, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND (NOT $2 OR is_read = FALSE)`,
		userID, unreadOnly,
	).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count notifications")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT notification_id::text, user_id::text, type, title, message, is_read,
		        related_job_id::text, related_review_id::text, created_at
		 FROM notifications
		 WHERE user_id = $1 AND (NOT $2 OR is_read = FALSE)
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		userID, unreadOnly, limit, offset,
	)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list notifications")
	}
	defer rows.Close()

	out := []*domain.Notification{}
	for rows.Next() {
		var n domain.Notification
		var typ string
		var jobID, reviewID sql.NullString
		if err := rows.Scan(&n.NotificationID, &n.UserID, &typ, &n.Title, &n.Message, &n.IsRead,
			&jobID, &reviewID, &n.CreatedAt); err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan notification")
		}
		n.Type = domain.NotificationType(typ)
		n.RelatedJobID = jobID.String
		n.RelatedReviewID = reviewID.String
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to iterate notifications")
	}
	return out, total, nil
}

// MarkRead 标记已读
func (r *PostgresNotificationsRepository) MarkRead(ctx context.Context, userID, notificationID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE notification_id = $1 AND user_id = $2`,
		notificationID, userID,
	)
	if err != nil {
		return wrapNotFound(err, "failed to mark notification %s read", notificationID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("notification %s not found", notificationID)
	}
	return nil
}

// MarkAllRead 全部标记已读
func (r *PostgresNotificationsRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`,
		userID,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to mark notifications read")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
