package repository

import (
	"context"

	"fieldops/internal/domain"
)

// AssignmentsRepository 派工Repository接口
type AssignmentsRepository interface {
	// CreateAssignment 创建派工；(job_id, team_member_id) 重复时返回 ErrConflict
	CreateAssignment(ctx context.Context, a *domain.Assignment) error

	// GetAssignment 获取派工
	GetAssignment(ctx context.Context, assignmentID string) (*domain.Assignment, error)

	// ListAssignments 工单的派工列表（带人员资料）
	ListAssignments(ctx context.Context, jobID string) ([]*domain.Assignment, error)

	// ExistsAssignment 是否已派工
	ExistsAssignment(ctx context.Context, jobID, teamMemberID string) (bool, error)

	// DeleteAssignment 删除派工
	DeleteAssignment(ctx context.Context, assignmentID string) error
}
