//go:build integration
// +build integration

package repository

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"testing"
	"time"

	"fieldops/common/config"
	"fieldops/common/database"
	"fieldops/common/errors"
	"fieldops/db/migrations"
	"fieldops/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

// 获取测试数据库连接并执行迁移
func getTestDB(t *testing.T) *sql.DB {
	cfg := &config.DatabaseConfig{
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     getEnvInt("TEST_DB_PORT", 5432),
		User:     getEnv("TEST_DB_USER", "postgres"),
		Password: getEnv("TEST_DB_PASSWORD", "postgres"),
		Database: getEnv("TEST_DB_NAME", "fieldops_test"),
		SSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil
	}
	if _, err := NewMigrator(db, migrations.Files).Up(context.Background()); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fixture struct {
	companyID, managerID, customerProfileID, customerID, teamProfileID, teamMemberID, serviceTypeID string
}

// 种子数据：一个公司、经理、客户、员工、服务类型
func seed(t *testing.T, db *sql.DB) fixture {
	f := fixture{
		companyID:         uuid.NewString(),
		managerID:         uuid.NewString(),
		customerProfileID: uuid.NewString(),
		customerID:        uuid.NewString(),
		teamProfileID:     uuid.NewString(),
		teamMemberID:      uuid.NewString(),
		serviceTypeID:     uuid.NewString(),
	}
	stmts := []struct {
		q    string
		args []any
	}{
		{`INSERT INTO companies (company_id, name) VALUES ($1, 'Integration Co')`, []any{f.companyID}},
		{`INSERT INTO profiles (profile_id, company_id, role, full_name) VALUES ($1, $2, 'manager', 'Max')`, []any{f.managerID, f.companyID}},
		{`INSERT INTO profiles (profile_id, company_id, role, full_name) VALUES ($1, $2, 'customer', 'Cora')`, []any{f.customerProfileID, f.companyID}},
		{`INSERT INTO profiles (profile_id, company_id, role, full_name) VALUES ($1, $2, 'team', 'Tess')`, []any{f.teamProfileID, f.companyID}},
		{`INSERT INTO customers (customer_id, company_id, profile_id, name) VALUES ($1, $2, $3, 'Cora')`, []any{f.customerID, f.companyID, f.customerProfileID}},
		{`INSERT INTO team_members (team_member_id, company_id, profile_id) VALUES ($1, $2, $3)`, []any{f.teamMemberID, f.companyID, f.teamProfileID}},
		{`INSERT INTO service_types (service_type_id, company_id, name) VALUES ($1, $2, 'Deep clean')`, []any{f.serviceTypeID, f.companyID}},
	}
	for _, s := range stmts {
		_, err := db.Exec(s.q, s.args...)
		require.NoError(t, err, s.q)
	}
	t.Cleanup(func() { cleanup(db, f) })
	return f
}

func cleanup(db *sql.DB, f fixture) {
	db.Exec(`DELETE FROM notifications WHERE user_id IN ($1, $2, $3)`, f.managerID, f.customerProfileID, f.teamProfileID)
	db.Exec(`DELETE FROM team_locations WHERE team_member_id = $1`, f.teamMemberID)
	db.Exec(`DELETE FROM jobs WHERE company_id = $1`, f.companyID)
	db.Exec(`DELETE FROM service_types WHERE company_id = $1`, f.companyID)
	db.Exec(`DELETE FROM team_members WHERE company_id = $1`, f.companyID)
	db.Exec(`DELETE FROM customers WHERE company_id = $1`, f.companyID)
	db.Exec(`DELETE FROM profiles WHERE company_id = $1`, f.companyID)
	db.Exec(`DELETE FROM companies WHERE company_id = $1`, f.companyID)
}

func TestPostgresStore_JobLifecycle(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()
	f := seed(t, db)
	st := NewPostgresStore(db)
	ctx := context.Background()

	actor, err := st.Repos().Profiles.GetActor(ctx, f.teamProfileID)
	require.NoError(t, err)
	assert.Equal(t, f.teamMemberID, actor.TeamMemberID)

	job := &domain.Job{
		JobID:          uuid.NewString(),
		CompanyID:      f.companyID,
		CustomerID:     f.customerID,
		ServiceTypeID:  f.serviceTypeID,
		Title:          "Deep clean",
		ServiceAddress: "1 Main St",
		ScheduledDate:  time.Now().AddDate(0, 0, 1).Format(domain.DateLayout),
		ScheduledTime:  "09:30",
		Status:         domain.JobStatusScheduled,
		Priority:       domain.PriorityMedium,
		CreatedBy:      f.managerID,
		Items:          []domain.JobItem{{ItemID: uuid.NewString(), Description: "Oven", Quantity: 1, UnitPrice: 40}},
	}
	require.NoError(t, st.WithinTx(ctx, func(repos *Repositories) error {
		return repos.Jobs.CreateJob(ctx, job)
	}))

	got, err := st.Repos().Jobs.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.ScheduledDate, got.ScheduledDate)
	assert.Equal(t, "09:30", got.ScheduledTime)
	items, err := st.Repos().Jobs.ListItems(ctx, job.JobID)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	a := &domain.Assignment{JobID: job.JobID, TeamMemberID: f.teamMemberID, Role: domain.AssignmentRoleCleaner, AssignedBy: f.managerID}
	require.NoError(t, st.Repos().Assignments.CreateAssignment(ctx, a))
	dup := &domain.Assignment{JobID: job.JobID, TeamMemberID: f.teamMemberID, Role: domain.AssignmentRoleLead, AssignedBy: f.managerID}
	err = st.Repos().Assignments.CreateAssignment(ctx, dup)
	assert.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)

	// 事务内失败整体回滚
	err = st.WithinTx(ctx, func(repos *Repositories) error {
		if err := repos.Jobs.SetJobStatus(ctx, job.JobID, domain.JobStatusInProgress); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)
	got, err = st.Repos().Jobs.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusScheduled, got.Status)

	status := domain.JobStatusInProgress
	u := &domain.JobUpdate{
		JobID:    job.JobID,
		AuthorID: f.teamProfileID,
		Status:   &status,
		Notes:    "Arrived",
		Location: &domain.GeoPoint{Latitude: 51.5, Longitude: -0.12},
		Photos:   []string{"https://cdn.test/a.jpg"},
	}
	require.NoError(t, st.Repos().Updates.CreateUpdate(ctx, u))
	updates, err := st.Repos().Updates.ListUpdates(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Location)
	assert.InDelta(t, 51.5, updates[0].Location.Latitude, 1e-9)
	assert.Equal(t, []string{"https://cdn.test/a.jpg"}, updates[0].Photos)
}

func TestPostgresTeamLocations_Latest(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()
	f := seed(t, db)
	repo := NewPostgresTeamLocationsRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, at := range []time.Time{base.Add(-2 * time.Minute), base, base.Add(-time.Minute)} {
		require.NoError(t, repo.InsertLocation(ctx, &domain.TeamLocation{
			TeamMemberID: f.teamMemberID,
			Latitude:     51.5 + float64(i)/1000,
			Longitude:    -0.12,
			RecordedAt:   at,
		}))
	}

	latest, err := repo.GetLatest(ctx, f.teamMemberID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.RecordedAt.Equal(base))

	all, err := repo.ListLatestByCompany(ctx, f.companyID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].RecordedAt.Equal(base))

	n, err := repo.DeleteHistory(ctx, f.teamMemberID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	latest, err = repo.GetLatest(ctx, f.teamMemberID)
	require.NoError(t, err)
	assert.Nil(t, latest)
}
