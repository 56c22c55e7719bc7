package repository

import (
	"context"
	"time"

	"fieldops/internal/domain"
)

// TeamLocationsRepository 人员定位Repository接口
type TeamLocationsRepository interface {
	// InsertLocation 追加定位样本，回填 LocationID / RecordedAt
	InsertLocation(ctx context.Context, loc *domain.TeamLocation) error

	// GetLatest 最新一条；没有记录时返回 nil, nil
	GetLatest(ctx context.Context, teamMemberID string) (*domain.TeamLocation, error)

	// ListLatestByCompany 公司内每个员工的最新定位
	ListLatestByCompany(ctx context.Context, companyID string) ([]*domain.TeamLocation, error)

	// ListHistory 历史轨迹（倒序）
	ListHistory(ctx context.Context, teamMemberID string, since *time.Time, limit int) ([]*domain.TeamLocation, error)

	// DeleteHistory 删除员工全部定位，返回删除条数
	DeleteHistory(ctx context.Context, teamMemberID string) (int64, error)
}
