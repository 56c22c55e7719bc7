package repository

import (
	"context"
	"database/sql"

	"fieldops/common/errors"

	"github.com/lib/pq"
)

// DBTX *sql.DB 与 *sql.Tx 的公共子集，Postgres repo 对两者都可用
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repositories 一次请求（或一个事务）内使用的全部 repo
type Repositories struct {
	Jobs          JobsRepository
	Assignments   AssignmentsRepository
	Updates       JobUpdatesRepository
	Locations     TeamLocationsRepository
	Notifications NotificationsRepository
	Profiles      ProfilesRepository
}

// Store 提供 repo 以及显式事务边界
type Store interface {
	// Repos 非事务 repo
	Repos() *Repositories
	// WithinTx fn 返回 nil 时提交，否则回滚
	WithinTx(ctx context.Context, fn func(repos *Repositories) error) error
}

const (
	// pgUniqueViolation unique_violation
	pgUniqueViolation = "23505"
	// pgInvalidText invalid_text_representation，如 uuid 列收到非法字符串
	pgInvalidText = "22P02"
)

// wrapNotFound sql.ErrNoRows 与非法 id 标记为 ErrNotFound，其他错误附加上下文
func wrapNotFound(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || isPgCode(err, pgInvalidText) {
		return errors.Mark(errors.Wrapf(err, format, args...), errors.ErrNotFound)
	}
	return errors.Wrapf(err, format, args...)
}

func isPgCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

// wrapConflict 唯一约束冲突标记为 ErrConflict
func wrapConflict(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if isPgCode(err, pgUniqueViolation) {
		return errors.Mark(errors.Wrapf(err, format, args...), errors.ErrConflict)
	}
	return errors.Wrapf(err, format, args...)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
