package service

import (
	"context"
	"testing"

	"fieldops/common/errors"
	"fieldops/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJob_NotifiesEveryManager(t *testing.T) {
	env := newTestEnv(t)

	job := env.createJob(t)

	assert.Equal(t, domain.JobStatusScheduled, job.Status)
	assert.Equal(t, domain.PriorityMedium, job.Priority)
	assert.Equal(t, companyID, job.CompanyID)
	assert.Equal(t, "p-admin", job.CreatedBy)

	for _, m := range []string{"p-m1", "p-m2"} {
		notes := env.notificationsFor(t, m)
		require.Len(t, notes, 1, m)
		assert.Equal(t, domain.NotificationJobCreated, notes[0].Type)
		assert.Equal(t, job.JobID, notes[0].RelatedJobID)
	}
	assert.Len(t, env.published.got, 2)
}

func TestCreateJob_AssignedManagerOnly(t *testing.T) {
	env := newTestEnv(t)

	env.createJob(t, func(r *CreateJobRequest) { r.AssignedManagerID = "p-m2" })

	assert.Empty(t, env.notificationsFor(t, "p-m1"))
	assert.Len(t, env.notificationsFor(t, "p-m2"), 1)
}

func TestCreateJob_AssignedManagerMustBeManager(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.jobs.CreateJob(context.Background(), CreateJobRequest{
		Actor: env.admin, CustomerID: customerC1, ServiceTypeID: serviceTypeID,
		Title: "x", ServiceAddress: "y", ScheduledDate: tomorrow(), ScheduledTime: "10:00",
		AssignedManagerID: "p-t1",
	})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestCreateJob_DateBoundary(t *testing.T) {
	env := newTestEnv(t)
	today := fixedNow.Format(domain.DateLayout)
	yesterday := fixedNow.AddDate(0, 0, -1).Format(domain.DateLayout)

	job := env.createJob(t, func(r *CreateJobRequest) { r.ScheduledDate = today })
	assert.Equal(t, today, job.ScheduledDate)

	_, err := env.jobs.CreateJob(context.Background(), CreateJobRequest{
		Actor: env.admin, CustomerID: customerC1, ServiceTypeID: serviceTypeID,
		Title: "x", ServiceAddress: "y", ScheduledDate: yesterday, ScheduledTime: "10:00",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestCreateJob_Validation(t *testing.T) {
	env := newTestEnv(t)
	base := func() CreateJobRequest {
		return CreateJobRequest{
			Actor: env.admin, CustomerID: customerC1, ServiceTypeID: serviceTypeID,
			Title: "Deep clean", ServiceAddress: "1 Main St", ScheduledDate: tomorrow(), ScheduledTime: "09:30",
		}
	}

	cases := map[string]func(r *CreateJobRequest){
		"missing title":        func(r *CreateJobRequest) { r.Title = " " },
		"missing address":      func(r *CreateJobRequest) { r.ServiceAddress = "" },
		"missing customer":     func(r *CreateJobRequest) { r.CustomerID = "" },
		"missing service type": func(r *CreateJobRequest) { r.ServiceTypeID = "" },
		"bad date":             func(r *CreateJobRequest) { r.ScheduledDate = "11/02/2026" },
		"bad time":             func(r *CreateJobRequest) { r.ScheduledTime = "25:00" },
		"bad priority":         func(r *CreateJobRequest) { r.Priority = "asap" },
		"unknown service type": func(r *CreateJobRequest) { r.ServiceTypeID = "nope" },
		"unknown customer":     func(r *CreateJobRequest) { r.CustomerID = "nope" },
		"bad item":             func(r *CreateJobRequest) { r.Items = []JobItemInput{{Description: "Oven", Quantity: 0}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := base()
			mutate(&req)
			_, err := env.jobs.CreateJob(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrValidation), err.Error())
		})
	}
}

func TestCreateJob_CustomerForOtherCustomerIsForbidden(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.jobs.CreateJob(context.Background(), CreateJobRequest{
		Actor: env.customer, CustomerID: customerC2, ServiceTypeID: serviceTypeID,
		Title: "x", ServiceAddress: "y", ScheduledDate: tomorrow(), ScheduledTime: "10:00",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPermission))

	job := env.createJob(t, func(r *CreateJobRequest) { r.Actor = env.customer })
	assert.Equal(t, customerC1, job.CustomerID)
}

func TestCreateJob_TeamIsForbidden(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.jobs.CreateJob(context.Background(), CreateJobRequest{Actor: env.team1})
	assert.True(t, errors.Is(err, errors.ErrPermission))
}

func TestCreateJob_ItemsPersistedWithJob(t *testing.T) {
	env := newTestEnv(t)

	job := env.createJob(t, func(r *CreateJobRequest) {
		r.Items = []JobItemInput{
			{Description: "Oven", Quantity: 1, UnitPrice: 40},
			{Description: "Windows", Quantity: 6, UnitPrice: 5},
		}
	})

	got, err := env.jobs.GetJob(context.Background(), env.manager, job.JobID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Oven", got.Items[0].Description)
	assert.Equal(t, "Windows", got.Items[1].Description)
}

func TestCreateJob_NotificationFailureDoesNotFailCreate(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetNotificationError(errors.New("db down"))

	job := env.createJob(t)

	got, err := env.jobs.GetJob(context.Background(), env.admin, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)
	assert.Empty(t, env.published.got)
}

func TestGetJob_Access(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t)
	ctx := context.Background()

	_, err := env.jobs.GetJob(ctx, env.customer, job.JobID)
	assert.NoError(t, err)

	_, err = env.jobs.GetJob(ctx, env.customer2, job.JobID)
	assert.True(t, errors.Is(err, errors.ErrPermission))

	_, err = env.jobs.GetJob(ctx, env.team1, job.JobID)
	assert.True(t, errors.Is(err, errors.ErrPermission))

	env.assign(t, job.JobID, memberT1)
	_, err = env.jobs.GetJob(ctx, env.team1, job.JobID)
	assert.NoError(t, err)

	_, err = env.jobs.GetJob(ctx, env.outsider, job.JobID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = env.jobs.GetJob(ctx, env.admin, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestListJobs_RoleScoped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	j1 := env.createJob(t)
	j2 := env.createJob(t, func(r *CreateJobRequest) { r.CustomerID = customerC2; r.Priority = "urgent" })
	env.assign(t, j2.JobID, memberT1)

	all, err := env.jobs.ListJobs(ctx, ListJobsRequest{Actor: env.manager})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)
	assert.Equal(t, 20, all.Limit)

	mine, err := env.jobs.ListJobs(ctx, ListJobsRequest{Actor: env.customer})
	require.NoError(t, err)
	require.Len(t, mine.Jobs, 1)
	assert.Equal(t, j1.JobID, mine.Jobs[0].JobID)

	// 客户不能通过过滤器看到别人的工单
	other, err := env.jobs.ListJobs(ctx, ListJobsRequest{Actor: env.customer, CustomerID: customerC2})
	require.NoError(t, err)
	assert.Empty(t, other.Jobs)

	assigned, err := env.jobs.ListJobs(ctx, ListJobsRequest{Actor: env.team1})
	require.NoError(t, err)
	require.Len(t, assigned.Jobs, 1)
	assert.Equal(t, j2.JobID, assigned.Jobs[0].JobID)

	none, err := env.jobs.ListJobs(ctx, ListJobsRequest{Actor: env.team2})
	require.NoError(t, err)
	assert.Equal(t, 0, none.Total)

	urgent, err := env.jobs.ListJobs(ctx, ListJobsRequest{Actor: env.admin, Priority: "urgent"})
	require.NoError(t, err)
	assert.Equal(t, 1, urgent.Total)

	outside, err := env.jobs.ListJobs(ctx, ListJobsRequest{Actor: env.outsider})
	require.NoError(t, err)
	assert.Equal(t, 0, outside.Total)
}

func TestListJobs_Paging(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.createJob(t)
	}

	page, err := env.jobs.ListJobs(context.Background(), ListJobsRequest{Actor: env.admin, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Jobs, 1)

	big, err := env.jobs.ListJobs(context.Background(), ListJobsRequest{Actor: env.admin, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, big.Limit)

	_, err = env.jobs.ListJobs(context.Background(), ListJobsRequest{Actor: env.admin, Status: "done"})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestUpdateJob_Permissions(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t)
	env.assign(t, job.JobID, memberT1)
	ctx := context.Background()

	_, err := env.jobs.UpdateJob(ctx, UpdateJobRequest{Actor: env.team1, JobID: job.JobID, Title: strPtr("x")})
	assert.True(t, errors.Is(err, errors.ErrPermission))

	_, err = env.jobs.UpdateJob(ctx, UpdateJobRequest{Actor: env.customer, JobID: job.JobID, Title: strPtr("x")})
	assert.True(t, errors.Is(err, errors.ErrPermission))

	_, err = env.jobs.UpdateJob(ctx, UpdateJobRequest{Actor: env.manager, JobID: "missing"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	updated, err := env.jobs.UpdateJob(ctx, UpdateJobRequest{Actor: env.manager, JobID: job.JobID, Title: strPtr("Spring clean")})
	require.NoError(t, err)
	assert.Equal(t, "Spring clean", updated.Title)
	assert.False(t, updated.UpdatedAt.Before(job.UpdatedAt))
}

func TestUpdateJob_StateMachine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t)

	set := func(status string) error {
		_, err := env.jobs.UpdateJob(ctx, UpdateJobRequest{Actor: env.manager, JobID: job.JobID, Status: strPtr(status)})
		return err
	}

	assert.True(t, errors.Is(set("completed"), errors.ErrInvalidState), "scheduled -> completed")
	require.NoError(t, set("scheduled"), "same status is a no-op")
	require.NoError(t, set("issue"))
	assert.True(t, errors.Is(set("completed"), errors.ErrInvalidState), "issue -> completed")
	require.NoError(t, set("in-progress"))
	require.NoError(t, set("completed"))

	// 终态后一切修改都被拒绝
	assert.True(t, errors.Is(set("cancelled"), errors.ErrInvalidState))
	_, err := env.jobs.UpdateJob(ctx, UpdateJobRequest{Actor: env.manager, JobID: job.JobID, ScheduledDate: strPtr(tomorrow())})
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	got, err := env.jobs.GetJob(ctx, env.admin, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)

	// 状态变化通知客户
	var statusNotes int
	for _, n := range env.notificationsFor(t, "p-cu1") {
		if n.Type == domain.NotificationJobStatusChanged {
			statusNotes++
		}
	}
	assert.Equal(t, 3, statusNotes)
}

func TestUpdateJob_CancelledIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t)

	_, err := env.jobs.UpdateJob(ctx, UpdateJobRequest{Actor: env.admin, JobID: job.JobID, Status: strPtr("cancelled")})
	require.NoError(t, err)

	_, err = env.jobs.UpdateJob(ctx, UpdateJobRequest{Actor: env.admin, JobID: job.JobID, Status: strPtr("scheduled")})
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestUpdateJob_TerminalCheckedBeforeAmounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t)

	_, err := env.jobs.UpdateJob(ctx, UpdateJobRequest{Actor: env.admin, JobID: job.JobID, Status: strPtr("cancelled")})
	require.NoError(t, err)

	// 终态工单即使金额非法也报状态错误
	_, err = env.jobs.UpdateJob(ctx, UpdateJobRequest{Actor: env.admin, JobID: job.JobID, FinalPrice: floatPtr(-10)})
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
	assert.False(t, errors.Is(err, errors.ErrValidation))

	// 非终态工单仍校验金额
	open := env.createJob(t)
	_, err = env.jobs.UpdateJob(ctx, UpdateJobRequest{Actor: env.admin, JobID: open.JobID, EstimatedPrice: floatPtr(-1)})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestUpdateJob_InvalidEditRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t)

	_, err := env.jobs.UpdateJob(ctx, UpdateJobRequest{
		Actor: env.manager, JobID: job.JobID, Title: strPtr("Renamed"), Priority: strPtr("whenever"),
	})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	got, err := env.jobs.GetJob(ctx, env.manager, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "Deep clean", got.Title)
}

func TestDeleteJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := env.createJob(t)
	assert.True(t, errors.Is(env.jobs.DeleteJob(ctx, env.manager, job.JobID), errors.ErrPermission))
	require.NoError(t, env.jobs.DeleteJob(ctx, env.admin, job.JobID))
	_, err := env.jobs.GetJob(ctx, env.admin, job.JobID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	done := env.createJob(t)
	for _, s := range []string{"in-progress", "completed"} {
		_, err := env.jobs.UpdateJob(ctx, UpdateJobRequest{Actor: env.admin, JobID: done.JobID, Status: strPtr(s)})
		require.NoError(t, err)
	}
	assert.True(t, errors.Is(env.jobs.DeleteJob(ctx, env.admin, done.JobID), errors.ErrInvalidState))

	cancelled := env.createJob(t)
	_, err = env.jobs.UpdateJob(ctx, UpdateJobRequest{Actor: env.admin, JobID: cancelled.JobID, Status: strPtr("cancelled")})
	require.NoError(t, err)
	assert.NoError(t, env.jobs.DeleteJob(ctx, env.admin, cancelled.JobID))
}
