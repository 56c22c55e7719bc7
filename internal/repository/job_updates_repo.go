package repository

import (
	"context"

	"fieldops/internal/domain"
)

// JobUpdatesRepository 工单动态Repository接口（只追加）
type JobUpdatesRepository interface {
	// CreateUpdate 追加动态，回填 UpdateID / CreatedAt
	CreateUpdate(ctx context.Context, u *domain.JobUpdate) error

	// ListUpdates 按 created_at 倒序，带作者资料
	ListUpdates(ctx context.Context, jobID string) ([]*domain.JobUpdate, error)
}
