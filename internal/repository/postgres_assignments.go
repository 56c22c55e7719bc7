package repository

import (
	"context"
	"database/sql"

	"fieldops/common/errors"
	"fieldops/internal/domain"
)

// PostgresAssignmentsRepository 派工Repository实现
type PostgresAssignmentsRepository struct {
	db DBTX
}

// NewPostgresAssignmentsRepository 创建派工Repository
func NewPostgresAssignmentsRepository(db DBTX) *PostgresAssignmentsRepository {
	return &PostgresAssignmentsRepository{db: db}
}

var _ AssignmentsRepository = (*PostgresAssignmentsRepository)(nil)

// CreateAssignment 创建派工
func (r *PostgresAssignmentsRepository) CreateAssignment(ctx context.Context, a *domain.Assignment) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO job_assignments (job_id, team_member_id, role, assigned_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING assignment_id::text, assigned_at`,
		a.JobID, a.TeamMemberID, string(a.Role), nullString(a.AssignedBy),
	).Scan(&a.AssignmentID, &a.AssignedAt)
	if err != nil {
		return wrapConflict(err, "failed to create assignment")
	}
	return nil
}

// GetAssignment 获取派工
func (r *PostgresAssignmentsRepository) GetAssignment(ctx context.Context, assignmentID string) (*domain.Assignment, error) {
	var a domain.Assignment
	var role string
	var assignedBy sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT assignment_id::text, job_id::text, team_member_id::text, role, assigned_by::text, assigned_at
		 FROM job_assignments
		 WHERE assignment_id = $1`,
		assignmentID,
	).Scan(&a.AssignmentID, &a.JobID, &a.TeamMemberID, &role, &assignedBy, &a.AssignedAt)
	if err != nil {
		return nil, wrapNotFound(err, "failed to get assignment %s", assignmentID)
	}
	a.Role = domain.AssignmentRole(role)
	a.AssignedBy = assignedBy.String
	return &a, nil
}

// ListAssignments 工单派工列表；人员资料在这里规整成单个对象
func (r *PostgresAssignmentsRepository) ListAssignments(ctx context.Context, jobID string) ([]*domain.Assignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT
			a.assignment_id::text,
			a.job_id::text,
			a.team_member_id::text,
			a.role,
			a.assigned_by::text,
			a.assigned_at,
			tm.profile_id::text,
			tm.is_active,
			p.full_name,
			p.email
		 FROM job_assignments a
		 JOIN team_members tm ON tm.team_member_id = a.team_member_id
		 LEFT JOIN profiles p ON p.profile_id = tm.profile_id
		 WHERE a.job_id = $1
		 ORDER BY a.assigned_at ASC`,
		jobID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list assignments")
	}
	defer rows.Close()

	out := []*domain.Assignment{}
	for rows.Next() {
		var a domain.Assignment
		var role string
		var assignedBy, fullName, email sql.NullString
		var profileID string
		var isActive bool
		if err := rows.Scan(
			&a.AssignmentID,
			&a.JobID,
			&a.TeamMemberID,
			&role,
			&assignedBy,
			&a.AssignedAt,
			&profileID,
			&isActive,
			&fullName,
			&email,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan assignment")
		}
		a.Role = domain.AssignmentRole(role)
		a.AssignedBy = assignedBy.String
		a.Assignee = &domain.AssigneeProfile{
			TeamMemberID: a.TeamMemberID,
			ProfileID:    profileID,
			FullName:     fullName.String,
			Email:        email.String,
			IsActive:     isActive,
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate assignments")
	}
	return out, nil
}

// ExistsAssignment 是否已派工
func (r *PostgresAssignmentsRepository) ExistsAssignment(ctx context.Context, jobID, teamMemberID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM job_assignments WHERE job_id = $1 AND team_member_id = $2)`,
		jobID, teamMemberID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check assignment")
	}
	return exists, nil
}

// DeleteAssignment 删除派工
func (r *PostgresAssignmentsRepository) DeleteAssignment(ctx context.Context, assignmentID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM job_assignments WHERE assignment_id = $1`, assignmentID)
	if err != nil {
		return wrapNotFound(err, "failed to delete assignment %s", assignmentID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("assignment %s not found", assignmentID)
	}
	return nil
}
