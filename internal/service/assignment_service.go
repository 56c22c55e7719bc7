package service

import (
	"context"
	"fmt"
	"strings"

	"fieldops/common/errors"
	"fieldops/internal/domain"
	"fieldops/internal/repository"

	"go.uber.org/zap"
)

// AssignmentService 派工服务
type AssignmentService struct {
	store    repository.Store
	authz    *Authorizer
	notifier *NotificationService
	logger   *zap.Logger
}

// NewAssignmentService 创建派工服务
func NewAssignmentService(store repository.Store, authz *Authorizer, notifier *NotificationService, logger *zap.Logger) *AssignmentService {
	return &AssignmentService{
		store:    store,
		authz:    authz,
		notifier: notifier,
		logger:   logger,
	}
}

// AssignRequest 派工请求
type AssignRequest struct {
	Actor *domain.Actor `json:"-"`
	JobID string        `json:"-"`

	TeamMemberID string `json:"team_member_id"`
	Role         string `json:"role"`
}

// Assign 派工；同一 (job, team_member) 只能有一条
func (s *AssignmentService) Assign(ctx context.Context, req AssignRequest) (*domain.Assignment, error) {
	actor := req.Actor
	job, err := s.authz.LoadJob(ctx, actor, ActionAssign, req.JobID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.TeamMemberID) == "" {
		return nil, errors.Validationf("team_member_id is required")
	}
	role := domain.AssignmentRole(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.AssignmentRoleCleaner
	}
	if !role.Valid() {
		return nil, errors.Validationf("invalid assignment role: %s", req.Role)
	}
	if job.Status.IsTerminal() {
		return nil, errors.InvalidStatef("job %s is %s and cannot be assigned", job.JobID, job.Status)
	}

	repos := s.store.Repos()
	tm, err := repos.Profiles.GetTeamMember(ctx, req.TeamMemberID)
	if err != nil {
		return nil, err
	}
	if tm.CompanyID != job.CompanyID || !tm.IsActive {
		return nil, errors.NotFoundf("team member %s not found", req.TeamMemberID)
	}
	exists, err := repos.Assignments.ExistsAssignment(ctx, job.JobID, tm.TeamMemberID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.Conflictf("team member %s is already assigned to job %s", tm.TeamMemberID, job.JobID)
	}

	a := &domain.Assignment{
		JobID:        job.JobID,
		TeamMemberID: tm.TeamMemberID,
		Role:         role,
		AssignedBy:   actor.ProfileID,
	}
	// 唯一索引兜底并发重复派工
	if err := repos.Assignments.CreateAssignment(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("Team member assigned",
		zap.String("job_id", job.JobID),
		zap.String("team_member_id", tm.TeamMemberID),
		zap.String("role", string(role)),
	)
	s.notifier.FanOut(ctx, []*domain.Notification{{
		UserID:       tm.ProfileID,
		Type:         domain.NotificationJobAssigned,
		Title:        "New job assignment",
		Message:      fmt.Sprintf("You have been assigned as %s to %s on %s at %s", role, job.Title, job.ScheduledDate, job.ScheduledTime),
		RelatedJobID: job.JobID,
	}})
	return a, nil
}

// ListAssignments 工单派工列表
func (s *AssignmentService) ListAssignments(ctx context.Context, actor *domain.Actor, jobID string) ([]*domain.Assignment, error) {
	if _, err := s.authz.LoadJob(ctx, actor, ActionReadJob, jobID); err != nil {
		return nil, err
	}
	return s.store.Repos().Assignments.ListAssignments(ctx, jobID)
}

// Unassign 取消派工；终态工单的派工冻结
func (s *AssignmentService) Unassign(ctx context.Context, actor *domain.Actor, jobID, assignmentID string) error {
	job, err := s.authz.LoadJob(ctx, actor, ActionUnassign, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return errors.InvalidStatef("job %s is %s and its assignments are frozen", job.JobID, job.Status)
	}
	repos := s.store.Repos()
	a, err := repos.Assignments.GetAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	if a.JobID != job.JobID {
		return errors.NotFoundf("assignment %s not found", assignmentID)
	}
	if err := repos.Assignments.DeleteAssignment(ctx, assignmentID); err != nil {
		return err
	}
	s.logger.Info("Team member unassigned",
		zap.String("job_id", job.JobID),
		zap.String("assignment_id", assignmentID),
	)
	return nil
}

// ShareRoute 派工人员通知客户已出发
func (s *AssignmentService) ShareRoute(ctx context.Context, actor *domain.Actor, jobID string) (*domain.Notification, error) {
	job, err := s.authz.LoadJob(ctx, actor, ActionShareRoute, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, errors.InvalidStatef("job %s is %s", job.JobID, job.Status)
	}
	recipient := customerProfileID(ctx, s.store.Repos(), job.CustomerID, s.logger)
	if recipient == "" {
		return nil, errors.Validationf("customer of job %s has no account to notify", job.JobID)
	}

	name := actor.FullName
	if name == "" {
		name = "Your cleaner"
	}
	created := s.notifier.FanOut(ctx, []*domain.Notification{{
		UserID:       recipient,
		Type:         domain.NotificationRouteShared,
		Title:        "Your cleaner is on the way",
		Message:      fmt.Sprintf("%s is heading to %s", name, job.ServiceAddress),
		RelatedJobID: job.JobID,
	}})
	if len(created) == 0 {
		return nil, errors.New("failed to share route")
	}
	return created[0], nil
}
