package repository

import (
	"context"
	"database/sql"
	"time"

	"fieldops/common/errors"
	"fieldops/internal/domain"
)

// PostgresTeamLocationsRepository 人员定位Repository实现
type PostgresTeamLocationsRepository struct {
	db DBTX
}

// NewPostgresTeamLocationsRepository 创建人员定位Repository
func NewPostgresTeamLocationsRepository(db DBTX) *PostgresTeamLocationsRepository {
	return &PostgresTeamLocationsRepository{db: db}
}

var _ TeamLocationsRepository = (*PostgresTeamLocationsRepository)(nil)

func scanLocation(row rowScanner) (*domain.TeamLocation, error) {
	var loc domain.TeamLocation
	var accuracy sql.NullFloat64
	if err := row.Scan(
		&loc.LocationID,
		&loc.TeamMemberID,
		&loc.Latitude,
		&loc.Longitude,
		&accuracy,
		&loc.RecordedAt,
	); err != nil {
		return nil, err
	}
	loc.Accuracy = floatPtr(accuracy)
	return &loc, nil
}

// InsertLocation 追加定位
func (r *PostgresTeamLocationsRepository) InsertLocation(ctx context.Context, loc *domain.TeamLocation) error {
	var recordedAt any
	if !loc.RecordedAt.IsZero() {
		recordedAt = loc.RecordedAt
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO team_locations (team_member_id, latitude, longitude, accuracy, recorded_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, CURRENT_TIMESTAMP))
		 RETURNING location_id, recorded_at`,
		loc.TeamMemberID, loc.Latitude, loc.Longitude, nullFloat(loc.Accuracy), recordedAt,
	).Scan(&loc.LocationID, &loc.RecordedAt)
	if err != nil {
		return errors.Wrap(err, "failed to insert team location")
	}
	return nil
}

// GetLatest 最新定位
func (r *PostgresTeamLocationsRepository) GetLatest(ctx context.Context, teamMemberID string) (*domain.TeamLocation, error) {
	loc, err := scanLocation(r.db.QueryRowContext(ctx,
		`SELECT location_id, team_member_id::text, latitude, longitude, accuracy, recorded_at
		 FROM team_locations
		 WHERE team_member_id = $1
		 ORDER BY recorded_at DESC, location_id DESC
		 LIMIT 1`,
		teamMemberID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest team location")
	}
	return loc, nil
}

// ListLatestByCompany 公司内每个员工的最新定位
func (r *PostgresTeamLocationsRepository) ListLatestByCompany(ctx context.Context, companyID string) ([]*domain.TeamLocation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT ON (l.team_member_id)
			l.location_id, l.team_member_id::text, l.latitude, l.longitude, l.accuracy, l.recorded_at
		 FROM team_locations l
		 JOIN team_members tm ON tm.team_member_id = l.team_member_id
		 WHERE tm.company_id = $1
		 ORDER BY l.team_member_id, l.recorded_at DESC, l.location_id DESC`,
		companyID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list company locations")
	}
	return collectLocations(rows)
}

// ListHistory 历史轨迹
func (r *PostgresTeamLocationsRepository) ListHistory(ctx context.Context, teamMemberID string, since *time.Time, limit int) ([]*domain.TeamLocation, error) {
	if limit <= 0 {
		limit = 100
	}
	var sinceArg any
	if since != nil {
		sinceArg = *since
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT location_id, team_member_id::text, latitude, longitude, accuracy, recorded_at
		 FROM team_locations
		 WHERE team_member_id = $1
		   AND ($2::timestamptz IS NULL OR recorded_at >= $2)
		 ORDER BY recorded_at DESC, location_id DESC
		 LIMIT $3`,
		teamMemberID, sinceArg, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list location history")
	}
	return collectLocations(rows)
}

// DeleteHistory 删除员工全部定位
func (r *PostgresTeamLocationsRepository) DeleteHistory(ctx context.Context, teamMemberID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM team_locations WHERE team_member_id = $1`, teamMemberID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete location history")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func collectLocations(rows *sql.Rows) ([]*domain.TeamLocation, error) {
	defer rows.Close()
	out := []*domain.TeamLocation{}
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan team location")
		}
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate team locations")
	}
	return out, nil
}
