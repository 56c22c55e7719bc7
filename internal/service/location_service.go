package service

import (
	"context"
	"time"

	"fieldops/common/errors"
	"fieldops/internal/domain"
	"fieldops/internal/metrics"
	"fieldops/internal/repository"
	"fieldops/internal/store"

	"go.uber.org/zap"
)

// 定位来源（指标标签）
const (
	LocationSourceHTTP = "http"
	LocationSourceMQTT = "mqtt"
)

// LocationService 人员定位
type LocationService struct {
	store   repository.Store
	authz   *Authorizer
	cache   *store.LocationCache
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewLocationService cache 可以为 nil（直接读库）
func NewLocationService(st repository.Store, authz *Authorizer, cache *store.LocationCache, m *metrics.Collector, logger *zap.Logger) *LocationService {
	return &LocationService{
		store:   st,
		authz:   authz,
		cache:   cache,
		metrics: m,
		logger:  logger,
	}
}

// RecordLocationRequest 上报定位请求
type RecordLocationRequest struct {
	Actor *domain.Actor `json:"-"`

	// TeamMemberID 为空时取调用者本人的员工记录
	TeamMemberID string     `json:"team_member_id"`
	Latitude     *float64   `json:"latitude"`
	Longitude    *float64   `json:"longitude"`
	Accuracy     *float64   `json:"accuracy"`
	Timestamp    *time.Time `json:"timestamp"`
	Source       string     `json:"-"`
}

// RecordLocation 追加定位并刷新最新定位缓存
func (s *LocationService) RecordLocation(ctx context.Context, req RecordLocationRequest) (*domain.TeamLocation, error) {
	actor := req.Actor
	if err := s.authz.Require(actor, ActionRecordLocation); err != nil {
		return nil, err
	}
	if req.Latitude == nil || req.Longitude == nil {
		return nil, errors.Validationf("latitude and longitude are required")
	}
	point := domain.GeoPoint{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := point.Validate(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid location"), errors.ErrValidation)
	}
	if req.Accuracy != nil && *req.Accuracy < 0 {
		return nil, errors.Validationf("accuracy must not be negative")
	}

	teamMemberID := req.TeamMemberID
	if teamMemberID == "" {
		teamMemberID = actor.TeamMemberID
	}
	if teamMemberID == "" {
		return nil, errors.Validationf("team_member_id is required")
	}
	// team 只能为自己上报
	if actor.Role == domain.RoleTeam && teamMemberID != actor.TeamMemberID {
		return nil, errors.Permissionf("team members may only record their own location")
	}
	tm, err := s.store.Repos().Profiles.GetTeamMember(ctx, teamMemberID)
	if err != nil {
		return nil, err
	}
	if tm.CompanyID != actor.CompanyID {
		return nil, errors.NotFoundf("team member %s not found", teamMemberID)
	}

	loc := &domain.TeamLocation{
		TeamMemberID: teamMemberID,
		Latitude:     point.Latitude,
		Longitude:    point.Longitude,
		Accuracy:     req.Accuracy,
	}
	if req.Timestamp != nil {
		loc.RecordedAt = req.Timestamp.UTC()
	}
	if err := s.store.Repos().Locations.InsertLocation(ctx, loc); err != nil {
		return nil, err
	}

	source := req.Source
	if source == "" {
		source = LocationSourceHTTP
	}
	s.metrics.RecordLocation(source)
	s.refreshCache(ctx, loc)
	return loc, nil
}

// refreshCache 样本可能是补传的旧点，缓存只接受更新的样本
func (s *LocationService) refreshCache(ctx context.Context, loc *domain.TeamLocation) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Put(ctx, loc); err != nil {
		s.logger.Warn("Failed to refresh location cache", zap.String("team_member_id", loc.TeamMemberID), zap.Error(err))
	}
}

// GetLatestLocation 最新定位；无记录时返回 nil
func (s *LocationService) GetLatestLocation(ctx context.Context, actor *domain.Actor, teamMemberID string) (*domain.TeamLocation, error) {
	if _, err := s.authz.RequireTeamMemberScope(ctx, actor, ActionReadLocation, teamMemberID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		loc, err := s.cache.Get(ctx, teamMemberID)
		if err == nil {
			return loc, nil
		}
		if !errors.Is(err, store.ErrMiss) {
			s.logger.Warn("Location cache read failed", zap.String("team_member_id", teamMemberID), zap.Error(err))
		}
	}

	loc, err := s.store.Repos().Locations.GetLatest(ctx, teamMemberID)
	if err != nil {
		return nil, err
	}
	if loc != nil && s.cache != nil {
		if _, err := s.cache.Put(ctx, loc); err != nil {
			s.logger.Warn("Failed to fill location cache", zap.String("team_member_id", teamMemberID), zap.Error(err))
		}
	}
	return loc, nil
}

// GetCompanyLocations 公司内每个员工的最新定位
func (s *LocationService) GetCompanyLocations(ctx context.Context, actor *domain.Actor, companyID string) ([]*domain.TeamLocation, error) {
	if err := s.authz.Require(actor, ActionCompanyLocations); err != nil {
		return nil, err
	}
	if companyID == "" {
		companyID = actor.CompanyID
	}
	if companyID != actor.CompanyID {
		return nil, errors.Permissionf("no access to company %s", companyID)
	}
	return s.store.Repos().Locations.ListLatestByCompany(ctx, companyID)
}

// ListHistoryRequest 历史轨迹请求
type ListHistoryRequest struct {
	Actor        *domain.Actor
	TeamMemberID string
	Since        *time.Time
	Limit        int
}

// ListHistory 历史轨迹（倒序）
func (s *LocationService) ListHistory(ctx context.Context, req ListHistoryRequest) ([]*domain.TeamLocation, error) {
	if _, err := s.authz.RequireTeamMemberScope(ctx, req.Actor, ActionReadLocation, req.TeamMemberID); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	return s.store.Repos().Locations.ListHistory(ctx, req.TeamMemberID, req.Since, limit)
}

// DeleteHistory 删除员工全部定位（本人或 admin / manager）
func (s *LocationService) DeleteHistory(ctx context.Context, actor *domain.Actor, teamMemberID string) (int64, error) {
	if _, err := s.authz.RequireTeamMemberScope(ctx, actor, ActionDeleteLocations, teamMemberID); err != nil {
		return 0, err
	}
	n, err := s.store.Repos().Locations.DeleteHistory(ctx, teamMemberID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, teamMemberID); err != nil {
			s.logger.Warn("Failed to invalidate location cache", zap.String("team_member_id", teamMemberID), zap.Error(err))
		}
	}
	s.logger.Info("Location history deleted",
		zap.String("team_member_id", teamMemberID),
		zap.Int64("rows", n),
		zap.String("actor", actor.ProfileID),
	)
	return n, nil
}
