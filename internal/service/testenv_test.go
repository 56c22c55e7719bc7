package service

import (
	"context"
	"testing"
	"time"

	"fieldops/internal/domain"
	"fieldops/internal/repository"
	"fieldops/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	companyID      = "c1"
	otherCompanyID = "c2"
	serviceTypeID  = "s1"
	customerC1     = "C1"
	customerC2     = "C2"
	memberT1       = "T1"
	memberT2       = "T2"
	memberT3       = "T3" // 停用
)

// fixedNow 2026-11-01 10:00 UTC
var fixedNow = time.Date(2026, 11, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	store         *repository.MemoryStore
	authz         *Authorizer
	notifications *NotificationService
	jobs          *JobService
	assignments   *AssignmentService
	updates       *JobUpdateService
	locations     *LocationService
	photos        *fakePhotoStorage
	published     *recordingPublisher
	redis         *miniredis.Miniredis

	admin, manager, manager2, customer, customer2, team1, team2, outsider *domain.Actor
}

type recordingPublisher struct {
	got []*domain.Notification
}

func (p *recordingPublisher) Publish(ctx context.Context, n *domain.Notification) error {
	p.got = append(p.got, n)
	return nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := repository.NewMemoryStore()

	profiles := []domain.Profile{
		{ProfileID: "p-admin", CompanyID: companyID, Role: domain.RoleAdmin, FullName: "Ada Admin"},
		{ProfileID: "p-m1", CompanyID: companyID, Role: domain.RoleManager, FullName: "Max Manager"},
		{ProfileID: "p-m2", CompanyID: companyID, Role: domain.RoleManager, FullName: "Mia Manager"},
		{ProfileID: "p-cu1", CompanyID: companyID, Role: domain.RoleCustomer, FullName: "Cora Customer"},
		{ProfileID: "p-cu2", CompanyID: companyID, Role: domain.RoleCustomer, FullName: "Cal Customer"},
		{ProfileID: "p-t1", CompanyID: companyID, Role: domain.RoleTeam, FullName: "Tess Team"},
		{ProfileID: "p-t2", CompanyID: companyID, Role: domain.RoleTeam, FullName: "Tom Team"},
		{ProfileID: "p-t3", CompanyID: companyID, Role: domain.RoleTeam, FullName: "Tia Team"},
		{ProfileID: "p-x", CompanyID: otherCompanyID, Role: domain.RoleAdmin, FullName: "Xavier Outside"},
	}
	for _, p := range profiles {
		st.AddProfile(p)
	}
	st.AddCustomer(domain.Customer{CustomerID: customerC1, CompanyID: companyID, ProfileID: "p-cu1", Name: "Cora"})
	st.AddCustomer(domain.Customer{CustomerID: customerC2, CompanyID: companyID, ProfileID: "p-cu2", Name: "Cal"})
	st.AddTeamMember(domain.TeamMember{TeamMemberID: memberT1, CompanyID: companyID, ProfileID: "p-t1", IsActive: true})
	st.AddTeamMember(domain.TeamMember{TeamMemberID: memberT2, CompanyID: companyID, ProfileID: "p-t2", IsActive: true})
	st.AddTeamMember(domain.TeamMember{TeamMemberID: memberT3, CompanyID: companyID, ProfileID: "p-t3", IsActive: false})
	st.AddServiceType(companyID, serviceTypeID)

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	logger := zap.NewNop()
	pub := &recordingPublisher{}
	authz := NewAuthorizer(st)
	notifier := NewNotificationService(st, nil, logger, pub)
	jobs := NewJobService(st, authz, notifier, nil, logger)
	jobs.now = func() time.Time { return fixedNow }
	photos := &fakePhotoStorage{}

	env := &testEnv{
		store:         st,
		authz:         authz,
		notifications: notifier,
		jobs:          jobs,
		assignments:   NewAssignmentService(st, authz, notifier, logger),
		updates:       NewJobUpdateService(st, authz, notifier, photos, nil, logger),
		locations:     NewLocationService(st, authz, store.NewLocationCache(store.NewRedisKV(rc), time.Minute), nil, logger),
		photos:        photos,
		published:     pub,
		redis:         mr,
	}
	env.admin = env.actor(t, "p-admin")
	env.manager = env.actor(t, "p-m1")
	env.manager2 = env.actor(t, "p-m2")
	env.customer = env.actor(t, "p-cu1")
	env.customer2 = env.actor(t, "p-cu2")
	env.team1 = env.actor(t, "p-t1")
	env.team2 = env.actor(t, "p-t2")
	env.outsider = env.actor(t, "p-x")
	return env
}

func (e *testEnv) actor(t *testing.T, profileID string) *domain.Actor {
	t.Helper()
	a, err := e.store.Repos().Profiles.GetActor(context.Background(), profileID)
	require.NoError(t, err)
	return a
}

func tomorrow() string {
	return fixedNow.AddDate(0, 0, 1).Format(domain.DateLayout)
}

func (e *testEnv) createJob(t *testing.T, mutate ...func(*CreateJobRequest)) *domain.Job {
	t.Helper()
	req := CreateJobRequest{
		Actor:          e.admin,
		CustomerID:     customerC1,
		ServiceTypeID:  serviceTypeID,
		Title:          "Deep clean",
		ServiceAddress: "1 Main St",
		ScheduledDate:  tomorrow(),
		ScheduledTime:  "09:30",
	}
	for _, m := range mutate {
		m(&req)
	}
	job, err := e.jobs.CreateJob(context.Background(), req)
	require.NoError(t, err)
	return job
}

func (e *testEnv) assign(t *testing.T, jobID, teamMemberID string) *domain.Assignment {
	t.Helper()
	a, err := e.assignments.Assign(context.Background(), AssignRequest{
		Actor: e.manager, JobID: jobID, TeamMemberID: teamMemberID, Role: "cleaner",
	})
	require.NoError(t, err)
	return a
}

func (e *testEnv) notificationsFor(t *testing.T, profileID string) []*domain.Notification {
	t.Helper()
	items, _, err := e.store.Repos().Notifications.ListNotifications(context.Background(), profileID, false, 100, 0)
	require.NoError(t, err)
	return items
}

func strPtr(s string) *string { return &s }
