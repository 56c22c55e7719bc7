package repository

import (
	"context"
	"database/sql"

	"fieldops/common/errors"
	"fieldops/internal/domain"
)

// PostgresProfilesRepository 用户 / 客户 / 员工查询实现
type PostgresProfilesRepository struct {
	db DBTX
}

// NewPostgresProfilesRepository 创建Repository
func NewPostgresProfilesRepository(db DBTX) *PostgresProfilesRepository {
	return &PostgresProfilesRepository{db: db}
}

var _ ProfilesRepository = (*PostgresProfilesRepository)(nil)

// GetActor profile + 客户记录 + 员工记录（LEFT JOIN，缺失时为空串）
func (r *PostgresProfilesRepository) GetActor(ctx context.Context, profileID string) (*domain.Actor, error) {
	var a domain.Actor
	var role string
	var customerID, teamMemberID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT
			p.profile_id::text,
			p.company_id::text,
			p.role,
			p.full_name,
			c.customer_id::text,
			tm.team_member_id::text
		 FROM profiles p
		 LEFT JOIN customers c ON c.profile_id = p.profile_id
		 LEFT JOIN team_members tm ON tm.profile_id = p.profile_id
		 WHERE p.profile_id = $1`,
		profileID,
	).Scan(&a.ProfileID, &a.CompanyID, &role, &a.FullName, &customerID, &teamMemberID)
	if err != nil {
		return nil, wrapNotFound(err, "failed to get profile %s", profileID)
	}
	a.Role = domain.Role(role)
	a.CustomerID = customerID.String
	a.TeamMemberID = teamMemberID.String
	return &a, nil
}

// ListProfileIDsByRole 公司内某角色的全部 profile
func (r *PostgresProfilesRepository) ListProfileIDsByRole(ctx context.Context, companyID string, role domain.Role) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT profile_id::text FROM profiles WHERE company_id = $1 AND role = $2 ORDER BY created_at`,
		companyID, string(role),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list profiles by role")
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan profile id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate profiles")
	}
	return ids, nil
}

// GetTeamMember 获取员工
func (r *PostgresProfilesRepository) GetTeamMember(ctx context.Context, teamMemberID string) (*domain.TeamMember, error) {
	var tm domain.TeamMember
	err := r.db.QueryRowContext(ctx,
		`SELECT team_member_id::text, company_id::text, profile_id::text, is_active
		 FROM team_members
		 WHERE team_member_id = $1`,
		teamMemberID,
	).Scan(&tm.TeamMemberID, &tm.CompanyID, &tm.ProfileID, &tm.IsActive)
	if err != nil {
		return nil, wrapNotFound(err, "failed to get team member %s", teamMemberID)
	}
	return &tm, nil
}

// GetCustomer 获取客户
func (r *PostgresProfilesRepository) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	var profileID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT customer_id::text, company_id::text, profile_id::text, name
		 FROM customers
		 WHERE customer_id = $1`,
		customerID,
	).Scan(&c.CustomerID, &c.CompanyID, &profileID, &c.Name)
	if err != nil {
		return nil, wrapNotFound(err, "failed to get customer %s", customerID)
	}
	c.ProfileID = profileID.String
	return &c, nil
}

// ServiceTypeExists 服务类型是否存在
func (r *PostgresProfilesRepository) ServiceTypeExists(ctx context.Context, companyID, serviceTypeID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM service_types WHERE service_type_id = $1 AND company_id = $2)`,
		serviceTypeID, companyID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check service type")
	}
	return exists, nil
}
