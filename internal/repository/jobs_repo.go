package repository

import (
	"context"

	"fieldops/internal/domain"
)

// JobFilters 工单查询过滤器
type JobFilters struct {
	Status       string // 状态
	Priority     string // 优先级
	Date         string // scheduled_date, YYYY-MM-DD
	CustomerID   string // 客户
	TeamMemberID string // 派工人员（存在派工记录）
}

// JobsRepository 工单Repository接口
type JobsRepository interface {
	// GetJob 获取工单（不含 items）
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	// ListJobs 按公司查询工单（支持过滤和分页），返回总数
	ListJobs(ctx context.Context, companyID string, filters *JobFilters, limit, offset int) ([]*domain.Job, int, error)

	// CreateJob 创建工单及其 items
	CreateJob(ctx context.Context, job *domain.Job) error

	// UpdateJob 更新可编辑字段与状态，刷新 updated_at
	UpdateJob(ctx context.Context, job *domain.Job) error

	// SetJobStatus 仅更新状态
	SetJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error

	// DeleteJob 物理删除（items / assignments / updates 级联删除）
	DeleteJob(ctx context.Context, jobID string) error

	// ListItems 工单明细
	ListItems(ctx context.Context, jobID string) ([]domain.JobItem, error)
}
