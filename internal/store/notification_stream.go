package store

import (
	"context"
	"encoding/json"
	"time"

	"fieldops/common/errors"
	rediscommon "fieldops/common/redis"
	"fieldops/internal/domain"

	"github.com/go-redis/redis/v8"
)

// NotificationStream 每个用户一个 Redis Stream：notifications:<user_id>
type NotificationStream struct {
	c      *redis.Client
	maxLen int64
}

// NewNotificationStream maxLen 为近似保留长度
func NewNotificationStream(c *redis.Client, maxLen int64) *NotificationStream {
	return &NotificationStream{c: c, maxLen: maxLen}
}

// StreamKey 用户通知流
func StreamKey(userID string) string {
	return "notifications:" + userID
}

// Publish 追加一条通知
func (s *NotificationStream) Publish(ctx context.Context, n *domain.Notification) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, s.c, StreamKey(n.UserID), s.maxLen, n); err != nil {
		return errors.Wrapf(err, "publish notification to %s", StreamKey(n.UserID))
	}
	return nil
}

// StreamEvent 从流中读出的通知
type StreamEvent struct {
	ID           string
	Notification *domain.Notification
}

// Read lastID 之后的通知；lastID 为空时只等新消息
func (s *NotificationStream) Read(ctx context.Context, userID, lastID string, block time.Duration) ([]StreamEvent, error) {
	msgs, err := rediscommon.ReadStream(ctx, s.c, StreamKey(userID), lastID, 50, block)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", StreamKey(userID))
	}
	out := make([]StreamEvent, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values["data"].(string)
		var n domain.Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		out = append(out, StreamEvent{ID: m.ID, Notification: &n})
	}
	return out, nil
}

// LastID 流中最后一条消息的 id；流为空时返回 "0"
func (s *NotificationStream) LastID(ctx context.Context, userID string) (string, error) {
	msgs, err := s.c.XRevRangeN(ctx, StreamKey(userID), "+", "-", 1).Result()
	if err != nil {
		return "", errors.Wrapf(err, "read last id of %s", StreamKey(userID))
	}
	if len(msgs) == 0 {
		return "0", nil
	}
	return msgs[0].ID, nil
}
