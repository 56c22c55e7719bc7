package store

import (
	"context"
	"testing"
	"time"

	"fieldops/common/errors"
	"fieldops/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisKV_GetMiss(t *testing.T) {
	_, client := setupTestRedis(t)
	kv := NewRedisKV(client)

	_, err := kv.Get(context.Background(), "absent")
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestRedisKV_SetGetDelete(t *testing.T) {
	mr, client := setupTestRedis(t)
	kv := NewRedisKV(client)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestLocationCache_RoundTrip(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewLocationCache(NewRedisKV(client), 30*time.Second)
	ctx := context.Background()

	acc := 4.5
	loc := &domain.TeamLocation{
		LocationID:   12,
		TeamMemberID: "tm1",
		Latitude:     40.7128,
		Longitude:    -74.006,
		Accuracy:     &acc,
		RecordedAt:   time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
	}
	written, err := cache.Put(ctx, loc)
	require.NoError(t, err)
	assert.True(t, written)
	assert.True(t, mr.Exists("fieldops:location:tm1:latest"))
	assert.Equal(t, 30*time.Second, mr.TTL("fieldops:location:tm1:latest"))

	got, err := cache.Get(ctx, "tm1")
	require.NoError(t, err)
	assert.Equal(t, loc.LocationID, got.LocationID)
	assert.True(t, loc.RecordedAt.Equal(got.RecordedAt))
	require.NotNil(t, got.Accuracy)
	assert.Equal(t, acc, *got.Accuracy)

	require.NoError(t, cache.Invalidate(ctx, "tm1"))
	_, err = cache.Get(ctx, "tm1")
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestLocationCache_OlderSampleNeverOverwrites(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewLocationCache(NewRedisKV(client), 0)
	ctx := context.Background()

	at := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	newer := &domain.TeamLocation{LocationID: 2, TeamMemberID: "tm1", Latitude: 2, RecordedAt: at}
	older := &domain.TeamLocation{LocationID: 1, TeamMemberID: "tm1", Latitude: 1, RecordedAt: at.Add(-time.Minute)}
	sameTimeLowerID := &domain.TeamLocation{LocationID: 1, TeamMemberID: "tm1", Latitude: 3, RecordedAt: at}

	written, err := cache.Put(ctx, newer)
	require.NoError(t, err)
	assert.True(t, written)

	// 读穿回填可能晚于新样本写入
	for _, stale := range []*domain.TeamLocation{older, sameTimeLowerID, newer} {
		written, err = cache.Put(ctx, stale)
		require.NoError(t, err)
		assert.False(t, written)
	}

	got, err := cache.Get(ctx, "tm1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.LocationID)
	assert.Equal(t, 2.0, got.Latitude)

	newest := &domain.TeamLocation{LocationID: 3, TeamMemberID: "tm1", Latitude: 4, RecordedAt: at.Add(time.Second)}
	written, err = cache.Put(ctx, newest)
	require.NoError(t, err)
	assert.True(t, written)
}

func TestNotificationStream_PublishAndRead(t *testing.T) {
	_, client := setupTestRedis(t)
	stream := NewNotificationStream(client, 100)
	ctx := context.Background()

	n := &domain.Notification{
		NotificationID: "n1",
		UserID:         "u1",
		Type:           domain.NotificationJobAssigned,
		Title:          "New assignment",
	}
	require.NoError(t, stream.Publish(ctx, n))

	events, err := stream.Read(ctx, "u1", "0", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, "n1", events[0].Notification.NotificationID)
	assert.Equal(t, domain.NotificationJobAssigned, events[0].Notification.Type)

	last, err := stream.LastID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, events[0].ID, last)

	// 从最后一条之后读取，无新消息
	events, err = stream.Read(ctx, "u1", last, 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	empty, err := stream.LastID(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, "0", empty)
}
