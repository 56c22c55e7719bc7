package repository

import (
	"context"
	"database/sql"

	"fieldops/common/errors"
)

// PostgresStore Postgres 实现的 Store
type PostgresStore struct {
	db    *sql.DB
	repos *Repositories
}

// NewPostgresStore 创建 Postgres Store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, repos: newPostgresRepositories(db)}
}

var _ Store = (*PostgresStore)(nil)

func newPostgresRepositories(q DBTX) *Repositories {
	return &Repositories{
		Jobs:          NewPostgresJobsRepository(q),
		Assignments:   NewPostgresAssignmentsRepository(q),
		Updates:       NewPostgresJobUpdatesRepository(q),
		Locations:     NewPostgresTeamLocationsRepository(q),
		Notifications: NewPostgresNotificationsRepository(q),
		Profiles:      NewPostgresProfilesRepository(q),
	}
}

// Repos 非事务 repo
func (s *PostgresStore) Repos() *Repositories {
	return s.repos
}

// WithinTx 在单个事务中执行 fn
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(repos *Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(newPostgresRepositories(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}
