package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"fieldops/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func (e *testEnv) record(t *testing.T, lat, lng float64, at time.Time) {
	t.Helper()
	_, err := e.locations.RecordLocation(context.Background(), RecordLocationRequest{
		Actor: e.team1, Latitude: floatPtr(lat), Longitude: floatPtr(lng), Timestamp: &at,
	})
	require.NoError(t, err)
}

func TestRecordLocation_SelfAndCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	loc, err := env.locations.RecordLocation(ctx, RecordLocationRequest{
		Actor: env.team1, Latitude: floatPtr(51.5007), Longitude: floatPtr(-0.1246), Accuracy: floatPtr(8),
	})
	require.NoError(t, err)
	assert.Equal(t, memberT1, loc.TeamMemberID)
	assert.NotZero(t, loc.LocationID)
	assert.False(t, loc.RecordedAt.IsZero())

	assert.Equal(t, 51.5007, env.cachedLatitude(t, memberT1))
}

// cachedLatitude 直接读 redis 中缓存的最新定位
func (e *testEnv) cachedLatitude(t *testing.T, teamMemberID string) float64 {
	t.Helper()
	raw, err := e.redis.Get("fieldops:location:" + teamMemberID + ":latest")
	require.NoError(t, err)
	_, body, ok := strings.Cut(raw, " ")
	require.True(t, ok, raw)
	var cached map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &cached))
	return cached["latitude"].(float64)
}

func TestRecordLocation_BackfillKeepsNewestCached(t *testing.T) {
	env := newTestEnv(t)

	env.record(t, 2, 2, fixedNow)
	env.record(t, 1, 1, fixedNow.Add(-time.Hour))
	assert.Equal(t, 2.0, env.cachedLatitude(t, memberT1))

	env.record(t, 3, 3, fixedNow.Add(time.Minute))
	assert.Equal(t, 3.0, env.cachedLatitude(t, memberT1))
}

func TestRecordLocation_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  RecordLocationRequest
		kind error
	}{
		{"customer", RecordLocationRequest{Actor: env.customer, TeamMemberID: memberT1, Latitude: floatPtr(1), Longitude: floatPtr(1)}, errors.ErrPermission},
		{"admin", RecordLocationRequest{Actor: env.admin, TeamMemberID: memberT1, Latitude: floatPtr(1), Longitude: floatPtr(1)}, errors.ErrPermission},
		{"other member", RecordLocationRequest{Actor: env.team1, TeamMemberID: memberT2, Latitude: floatPtr(1), Longitude: floatPtr(1)}, errors.ErrPermission},
		{"missing latitude", RecordLocationRequest{Actor: env.team1, Longitude: floatPtr(1)}, errors.ErrValidation},
		{"out of range", RecordLocationRequest{Actor: env.team1, Latitude: floatPtr(1), Longitude: floatPtr(200)}, errors.ErrValidation},
		{"negative accuracy", RecordLocationRequest{Actor: env.team1, Latitude: floatPtr(1), Longitude: floatPtr(1), Accuracy: floatPtr(-1)}, errors.ErrValidation},
		{"manager without member", RecordLocationRequest{Actor: env.manager, Latitude: floatPtr(1), Longitude: floatPtr(1)}, errors.ErrValidation},
		{"unknown member", RecordLocationRequest{Actor: env.manager, TeamMemberID: "T9", Latitude: floatPtr(1), Longitude: floatPtr(1)}, errors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.locations.RecordLocation(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), err.Error())
		})
	}
}

func TestRecordLocation_ManagerOnBehalf(t *testing.T) {
	env := newTestEnv(t)

	loc, err := env.locations.RecordLocation(context.Background(), RecordLocationRequest{
		Actor: env.manager, TeamMemberID: memberT2, Latitude: floatPtr(10), Longitude: floatPtr(20),
	})
	require.NoError(t, err)
	assert.Equal(t, memberT2, loc.TeamMemberID)
}

func TestGetLatestLocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	none, err := env.locations.GetLatestLocation(ctx, env.team1, memberT1)
	require.NoError(t, err)
	assert.Nil(t, none)

	base := fixedNow
	env.record(t, 1, 1, base)
	env.record(t, 2, 2, base.Add(time.Minute))
	// 补传的旧样本不改变最新定位
	env.record(t, 3, 3, base.Add(-time.Hour))

	first, err := env.locations.GetLatestLocation(ctx, env.manager, memberT1)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 2.0, first.Latitude)

	again, err := env.locations.GetLatestLocation(ctx, env.manager, memberT1)
	require.NoError(t, err)
	assert.Equal(t, first.LocationID, again.LocationID)

	// 缓存失效后从库回填
	env.redis.Del("fieldops:location:T1:latest")
	fromDB, err := env.locations.GetLatestLocation(ctx, env.team1, memberT1)
	require.NoError(t, err)
	assert.Equal(t, first.LocationID, fromDB.LocationID)
	assert.True(t, env.redis.Exists("fieldops:location:T1:latest"))

	_, err = env.locations.GetLatestLocation(ctx, env.team2, memberT1)
	assert.True(t, errors.Is(err, errors.ErrPermission))
	_, err = env.locations.GetLatestLocation(ctx, env.customer, memberT1)
	assert.True(t, errors.Is(err, errors.ErrPermission))
	_, err = env.locations.GetLatestLocation(ctx, env.outsider, memberT1)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestGetCompanyLocations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.record(t, 1, 1, fixedNow)
	env.record(t, 5, 5, fixedNow.Add(time.Minute))
	_, err := env.locations.RecordLocation(ctx, RecordLocationRequest{
		Actor: env.team2, Latitude: floatPtr(7), Longitude: floatPtr(7),
	})
	require.NoError(t, err)

	locs, err := env.locations.GetCompanyLocations(ctx, env.manager, "")
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, memberT1, locs[0].TeamMemberID)
	assert.Equal(t, 5.0, locs[0].Latitude)
	assert.Equal(t, memberT2, locs[1].TeamMemberID)

	_, err = env.locations.GetCompanyLocations(ctx, env.team1, "")
	assert.True(t, errors.Is(err, errors.ErrPermission))
	_, err = env.locations.GetCompanyLocations(ctx, env.admin, otherCompanyID)
	assert.True(t, errors.Is(err, errors.ErrPermission))

	outside, err := env.locations.GetCompanyLocations(ctx, env.outsider, "")
	require.NoError(t, err)
	assert.Empty(t, outside)
}

func TestListHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env.record(t, float64(i), 0, fixedNow.Add(time.Duration(i)*time.Minute))
	}

	all, err := env.locations.ListHistory(ctx, ListHistoryRequest{Actor: env.team1, TeamMemberID: memberT1})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, 4.0, all[0].Latitude)

	since := fixedNow.Add(3 * time.Minute)
	recent, err := env.locations.ListHistory(ctx, ListHistoryRequest{Actor: env.admin, TeamMemberID: memberT1, Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := env.locations.ListHistory(ctx, ListHistoryRequest{Actor: env.manager, TeamMemberID: memberT1, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.record(t, 1, 1, fixedNow)
	env.record(t, 2, 2, fixedNow.Add(time.Minute))

	_, err := env.locations.DeleteHistory(ctx, env.team2, memberT1)
	assert.True(t, errors.Is(err, errors.ErrPermission))

	n, err := env.locations.DeleteHistory(ctx, env.team1, memberT1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.False(t, env.redis.Exists("fieldops:location:T1:latest"))

	latest, err := env.locations.GetLatestLocation(ctx, env.team1, memberT1)
	require.NoError(t, err)
	assert.Nil(t, latest)
}
