package repository

import (
	"context"
	"database/sql"
	"io/fs"
	"sort"
	"strings"
	"time"

	"fieldops/common/errors"
)

// Migrator 按文件名顺序执行 *.sql，已执行的记录在 schema_migrations
type Migrator struct {
	db    *sql.DB
	files fs.FS
}

func NewMigrator(db *sql.DB, files fs.FS) *Migrator {
	return &Migrator{db: db, files: files}
}

// MigrationStatus 单个迁移文件状态
type MigrationStatus struct {
	Version   string
	Applied   bool
	AppliedAt *time.Time
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`)
	return errors.Wrap(err, "failed to create schema_migrations")
}

func (m *Migrator) listFiles() ([]string, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list migrations")
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query schema_migrations")
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var version string
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, errors.Wrap(err, "failed to scan schema_migrations")
		}
		out[version] = at
	}
	return out, rows.Err()
}

// Status 列出所有迁移及是否已执行
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	files, err := m.listFiles()
	if err != nil {
		return nil, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		st := MigrationStatus{Version: f}
		if at, ok := done[f]; ok {
			at := at
			st.Applied = true
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}

// Up 执行全部未执行的迁移，返回本次执行的文件名
// 每个文件一个事务；失败时停止，之前的文件保持已提交
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	var ran []string
	for _, st := range status {
		if st.Applied {
			continue
		}
		if err := m.apply(ctx, st.Version); err != nil {
			return ran, err
		}
		ran = append(ran, st.Version)
	}
	return ran, nil
}

func (m *Migrator) apply(ctx context.Context, file string) error {
	body, err := fs.ReadFile(m.files, file)
	if err != nil {
		return errors.Wrapf(err, "failed to read migration %s", file)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return errors.Wrapf(err, "apply migration %s", file)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, file, time.Now().UTC()); err != nil {
		return errors.Wrapf(err, "record migration %s", file)
	}
	return errors.Wrapf(tx.Commit(), "commit migration %s", file)
}
