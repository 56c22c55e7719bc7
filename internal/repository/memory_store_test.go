package repository

import (
	"context"
	"testing"
	"time"

	"fieldops/common/errors"
	"fieldops/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RollbackKeepsConcurrentWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	inTx := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- s.WithinTx(ctx, func(tx *Repositories) error {
			close(inTx)
			<-release
			return errors.New("boom")
		})
	}()
	<-inTx

	written := make(chan error, 1)
	go func() {
		written <- s.Repos().Locations.InsertLocation(ctx, &domain.TeamLocation{
			TeamMemberID: "tm-1",
			Latitude:     1,
			Longitude:    2,
			RecordedAt:   time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
		})
	}()

	// 事务未结束前外部写入阻塞
	select {
	case <-written:
		t.Fatal("write completed while transaction was open")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.Error(t, <-txDone)
	require.NoError(t, <-written)

	latest, err := s.Repos().Locations.GetLatest(ctx, "tm-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, float64(1), latest.Latitude)
}

func TestMemoryStore_RollbackDiscardsTxWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx *Repositories) error {
		require.NoError(t, tx.Locations.InsertLocation(ctx, &domain.TeamLocation{TeamMemberID: "tm-1"}))
		return errors.New("boom")
	})
	require.Error(t, err)

	latest, err := s.Repos().Locations.GetLatest(ctx, "tm-1")
	require.NoError(t, err)
	assert.Nil(t, latest)
}
