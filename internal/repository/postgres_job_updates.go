package repository

import (
	"context"
	"database/sql"

	"fieldops/common/errors"
	"fieldops/internal/domain"

	"github.com/lib/pq"
)

// PostgresJobUpdatesRepository 工单动态Repository实现
type PostgresJobUpdatesRepository struct {
	db DBTX
}

// NewPostgresJobUpdatesRepository 创建工单动态Repository
func NewPostgresJobUpdatesRepository(db DBTX) *PostgresJobUpdatesRepository {
	return &PostgresJobUpdatesRepository{db: db}
}

var _ JobUpdatesRepository = (*PostgresJobUpdatesRepository)(nil)

// CreateUpdate 追加动态；location 以 WKT 写入 geography 列
func (r *PostgresJobUpdatesRepository) CreateUpdate(ctx context.Context, u *domain.JobUpdate) error {
	var status sql.NullString
	if u.Status != nil {
		status = sql.NullString{String: string(*u.Status), Valid: true}
	}
	var location sql.NullString
	if u.Location != nil {
		location = sql.NullString{String: u.Location.WKT(), Valid: true}
	}
	photos := u.Photos
	if photos == nil {
		photos = []string{}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO job_updates (job_id, author_id, status, notes, location, photos)
		 VALUES ($1, $2, $3, $4, ST_GeogFromText($5), $6)
		 RETURNING update_id::text, created_at`,
		u.JobID, u.AuthorID, status, u.Notes, location, pq.Array(photos),
	).Scan(&u.UpdateID, &u.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to create job update")
	}
	u.Photos = photos
	return nil
}

// ListUpdates 工单动态（倒序）
func (r *PostgresJobUpdatesRepository) ListUpdates(ctx context.Context, jobID string) ([]*domain.JobUpdate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT
			u.update_id::text,
			u.job_id::text,
			u.author_id::text,
			u.status,
			u.notes,
			ST_AsText(u.location),
			u.photos,
			u.created_at,
			p.full_name,
			p.role
		 FROM job_updates u
		 LEFT JOIN profiles p ON p.profile_id = u.author_id
		 WHERE u.job_id = $1
		 ORDER BY u.created_at DESC`,
		jobID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list job updates")
	}
	defer rows.Close()

	out := []*domain.JobUpdate{}
	for rows.Next() {
		var u domain.JobUpdate
		var status, location, fullName, role sql.NullString
		var photos pq.StringArray
		if err := rows.Scan(
			&u.UpdateID,
			&u.JobID,
			&u.AuthorID,
			&status,
			&u.Notes,
			&location,
			&photos,
			&u.CreatedAt,
			&fullName,
			&role,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan job update")
		}
		if status.Valid {
			s := domain.JobStatus(status.String)
			u.Status = &s
		}
		if location.Valid {
			p, err := domain.ParseWKTPoint(location.String)
			if err != nil {
				return nil, errors.Wrapf(err, "job update %s", u.UpdateID)
			}
			u.Location = p
		}
		u.Photos = []string(photos)
		if u.Photos == nil {
			u.Photos = []string{}
		}
		if role.Valid {
			u.Author = &domain.ProfileSummary{
				ProfileID: u.AuthorID,
				FullName:  fullName.String,
				Role:      domain.Role(role.String),
			}
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate job updates")
	}
	return out, nil
}
