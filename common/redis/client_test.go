package redis

import (
	"context"
	"testing"
	"time"

	"fieldops/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), &config.RedisConfig{Addr: mr.Addr(), PoolSize: 4, ReadTimeout: time.Second})
	require.NoError(t, err)
	defer Close(client)

	opts := client.Options()
	assert.Equal(t, 4, opts.PoolSize)
	assert.Equal(t, time.Second, opts.ReadTimeout)
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, err := Connect(context.Background(), &config.RedisConfig{Addr: addr, DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	require.NotNil(t, client)
	assert.NoError(t, Close(client))
}
