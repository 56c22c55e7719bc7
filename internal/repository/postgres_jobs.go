package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"fieldops/common/errors"
	"fieldops/internal/domain"
)

// PostgresJobsRepository 工单Repository实现
type PostgresJobsRepository struct {
	db DBTX
}

// NewPostgresJobsRepository 创建工单Repository
func NewPostgresJobsRepository(db DBTX) *PostgresJobsRepository {
	return &PostgresJobsRepository{db: db}
}

// 确保实现了接口
var _ JobsRepository = (*PostgresJobsRepository)(nil)

const jobColumns = `
	j.job_id::text,
	j.company_id::text,
	j.customer_id::text,
	j.service_type_id::text,
	j.title,
	j.description,
	j.service_address,
	to_char(j.scheduled_date, 'YYYY-MM-DD'),
	j.scheduled_time,
	j.estimated_duration,
	j.status,
	j.priority,
	j.special_instructions,
	j.estimated_price,
	j.final_price,
	j.created_by::text,
	j.assigned_manager_id::text,
	j.created_at,
	j.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var description, instructions, managerID sql.NullString
	var duration sql.NullInt64
	var estimated, final sql.NullFloat64
	var status, priority string

	if err := row.Scan(
		&job.JobID,
		&job.CompanyID,
		&job.CustomerID,
		&job.ServiceTypeID,
		&job.Title,
		&description,
		&job.ServiceAddress,
		&job.ScheduledDate,
		&job.ScheduledTime,
		&duration,
		&status,
		&priority,
		&instructions,
		&estimated,
		&final,
		&job.CreatedBy,
		&managerID,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	job.Priority = domain.JobPriority(priority)
	job.Description = description.String
	job.SpecialInstructions = instructions.String
	job.AssignedManagerID = managerID.String
	job.EstimatedDuration = intPtr(duration)
	job.EstimatedPrice = floatPtr(estimated)
	job.FinalPrice = floatPtr(final)
	return &job, nil
}

// GetJob 获取工单
func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if jobID == "" {
		return nil, errors.NotFoundf("job not found")
	}

	query := `SELECT ` + jobColumns + ` FROM jobs j WHERE j.job_id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if err != nil {
		return nil, wrapNotFound(err, "failed to get job %s", jobID)
	}
	return job, nil
}

// ListJobs 按公司查询工单（支持过滤和分页）
func (r *PostgresJobsRepository) ListJobs(ctx context.Context, companyID string, filters *JobFilters, limit, offset int) ([]*domain.Job, int, error) {
	if companyID == "" {
		return []*domain.Job{}, 0, nil
	}

	where := []string{"j.company_id = $1"}
	args := []any{companyID}
	argN := 2

	if filters != nil {
		if filters.Status != "" {
			where = append(where, fmt.Sprintf("j.status = $%d", argN))
			args = append(args, filters.Status)
			argN++
		}
		if filters.Priority != "" {
			where = append(where, fmt.Sprintf("j.priority = $%d", argN))
			args = append(args, filters.Priority)
			argN++
		}
		if filters.Date != "" {
			where = append(where, fmt.Sprintf("j.scheduled_date = $%d", argN))
			args = append(args, filters.Date)
			argN++
		}
		if filters.CustomerID != "" {
			where = append(where, fmt.Sprintf("j.customer_id = $%d", argN))
			args = append(args, filters.CustomerID)
			argN++
		}
		if filters.TeamMemberID != "" {
			where = append(where, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM job_assignments a WHERE a.job_id = j.job_id AND a.team_member_id = $%d)", argN))
			args = append(args, filters.TeamMemberID)
			argN++
		}
	}

	// 查询总数
	queryCount := `SELECT COUNT(*) FROM jobs j WHERE ` + strings.Join(where, " AND ")
	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count jobs")
	}

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	argsList := append(args, limit, offset)
	query := `SELECT ` + jobColumns + `
		FROM jobs j
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY j.scheduled_date ASC, j.scheduled_time ASC, j.created_at ASC
		LIMIT $` + fmt.Sprintf("%d", argN) + ` OFFSET $` + fmt.Sprintf("%d", argN+1)

	rows, err := r.db.QueryContext(ctx, query, argsList...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	jobs := []*domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to iterate jobs")
	}

	return jobs, total, nil
}

// CreateJob 创建工单及 items（调用方负责事务）
func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	if job.JobID == "" {
		return errors.New("job_id is required")
	}

	query := `
		INSERT INTO jobs (
			job_id, company_id, customer_id, service_type_id, title, description,
			service_address, scheduled_date, scheduled_time, estimated_duration,
			status, priority, special_instructions, estimated_price, final_price,
			created_by, assigned_manager_id
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17
		)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		job.JobID,
		job.CompanyID,
		job.CustomerID,
		job.ServiceTypeID,
		job.Title,
		nullString(job.Description),
		job.ServiceAddress,
		job.ScheduledDate,
		job.ScheduledTime,
		nullInt(job.EstimatedDuration),
		string(job.Status),
		string(job.Priority),
		nullString(job.SpecialInstructions),
		nullFloat(job.EstimatedPrice),
		nullFloat(job.FinalPrice),
		job.CreatedBy,
		nullString(job.AssignedManagerID),
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	for i := range job.Items {
		item := &job.Items[i]
		item.JobID = job.JobID
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO job_items (item_id, job_id, position, description, quantity, unit_price)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ItemID, item.JobID, i, item.Description, item.Quantity, item.UnitPrice,
		); err != nil {
			return errors.Wrapf(err, "failed to create job item %d", i)
		}
	}

	return nil
}

// UpdateJob 更新工单
func (r *PostgresJobsRepository) UpdateJob(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs SET
			title = $2,
			description = $3,
			service_address = $4,
			scheduled_date = $5,
			scheduled_time = $6,
			estimated_duration = $7,
			status = $8,
			priority = $9,
			special_instructions = $10,
			estimated_price = $11,
			final_price = $12,
			assigned_manager_id = $13,
			updated_at = CURRENT_TIMESTAMP
		WHERE job_id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		job.JobID,
		job.Title,
		nullString(job.Description),
		job.ServiceAddress,
		job.ScheduledDate,
		job.ScheduledTime,
		nullInt(job.EstimatedDuration),
		string(job.Status),
		string(job.Priority),
		nullString(job.SpecialInstructions),
		nullFloat(job.EstimatedPrice),
		nullFloat(job.FinalPrice),
		nullString(job.AssignedManagerID),
	).Scan(&job.UpdatedAt)
	return wrapNotFound(err, "failed to update job %s", job.JobID)
}

// SetJobStatus 更新工单状态
func (r *PostgresJobsRepository) SetJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = $2, updated_at = CURRENT_TIMESTAMP WHERE job_id = $1`,
		jobID, string(status),
	)
	if err != nil {
		return wrapNotFound(err, "failed to set job status %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("job %s not found", jobID)
	}
	return nil
}

// DeleteJob 删除工单
func (r *PostgresJobsRepository) DeleteJob(ctx context.Context, jobID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return wrapNotFound(err, "failed to delete job %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("job %s not found", jobID)
	}
	return nil
}

// ListItems 工单明细
func (r *PostgresJobsRepository) ListItems(ctx context.Context, jobID string) ([]domain.JobItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item_id::text, job_id::text, description, quantity, unit_price
		 FROM job_items
		 WHERE job_id = $1
		 ORDER BY position`,
		jobID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list job items")
	}
	defer rows.Close()

	items := []domain.JobItem{}
	for rows.Next() {
		var item domain.JobItem
		if err := rows.Scan(&item.ItemID, &item.JobID, &item.Description, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, errors.Wrap(err, "failed to scan job item")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate job items")
	}
	return items, nil
}
