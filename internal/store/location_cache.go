package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fieldops/common/errors"
	"fieldops/internal/domain"
)

// LocationCache 最新定位缓存，key: fieldops:location:<team_member_id>:latest
// 写入按 (recorded_at, location_id) 单调，旧样本不会覆盖新样本
type LocationCache struct {
	kv  KV
	ttl time.Duration
}

// NewLocationCache ttl <= 0 时不过期
func NewLocationCache(kv KV, ttl time.Duration) *LocationCache {
	return &LocationCache{kv: kv, ttl: ttl}
}

func latestLocationKey(teamMemberID string) string {
	return "fieldops:location:" + teamMemberID + ":latest"
}

// locationVersion 定宽版本号，字符串序即 (recorded_at, location_id) 序
func locationVersion(loc *domain.TeamLocation) string {
	return fmt.Sprintf("%020d.%020d", loc.RecordedAt.UnixNano(), loc.LocationID)
}

// Get 未命中返回 ErrMiss
func (c *LocationCache) Get(ctx context.Context, teamMemberID string) (*domain.TeamLocation, error) {
	raw, err := c.kv.Get(ctx, latestLocationKey(teamMemberID))
	if err != nil {
		return nil, err
	}
	_, body, ok := strings.Cut(raw, " ")
	if !ok {
		return nil, errors.Newf("malformed cached location for %s", teamMemberID)
	}
	var loc domain.TeamLocation
	if err := json.Unmarshal([]byte(body), &loc); err != nil {
		return nil, errors.Wrap(err, "decode cached location")
	}
	return &loc, nil
}

// Put 写入定位；比缓存中旧的样本被忽略，返回是否写入
func (c *LocationCache) Put(ctx context.Context, loc *domain.TeamLocation) (bool, error) {
	b, err := json.Marshal(loc)
	if err != nil {
		return false, errors.Wrap(err, "encode location")
	}
	return c.kv.SetIfNewer(ctx, latestLocationKey(loc.TeamMemberID), locationVersion(loc), string(b), c.ttl)
}

// Invalidate 删除缓存
func (c *LocationCache) Invalidate(ctx context.Context, teamMemberID string) error {
	return c.kv.Delete(ctx, latestLocationKey(teamMemberID))
}
