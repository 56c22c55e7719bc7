package repository

import (
	"context"

	"fieldops/internal/domain"
)

// ProfilesRepository 用户 / 客户 / 员工查询
type ProfilesRepository interface {
	// GetActor profile 加上其客户与员工记录
	GetActor(ctx context.Context, profileID string) (*domain.Actor, error)

	// ListProfileIDsByRole 公司内某角色的全部 profile
	ListProfileIDsByRole(ctx context.Context, companyID string, role domain.Role) ([]string, error)

	// GetTeamMember 获取员工
	GetTeamMember(ctx context.Context, teamMemberID string) (*domain.TeamMember, error)

	// GetCustomer 获取客户
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)

	// ServiceTypeExists 服务类型是否存在于该公司
	ServiceTypeExists(ctx context.Context, companyID, serviceTypeID string) (bool, error)
}
