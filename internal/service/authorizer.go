package service

import (
	"context"

	"fieldops/common/errors"
	"fieldops/internal/domain"
	"fieldops/internal/repository"
)

// Action 需要授权的操作
type Action string

const (
	ActionCreateJob        Action = "job:create"
	ActionReadJob          Action = "job:read"
	ActionUpdateJob        Action = "job:update"
	ActionDeleteJob        Action = "job:delete"
	ActionImportJobs       Action = "job:import"
	ActionAssign           Action = "assignment:create"
	ActionUnassign         Action = "assignment:delete"
	ActionCreateUpdate     Action = "update:create"
	ActionUploadPhoto      Action = "photo:upload"
	ActionShareRoute       Action = "route:share"
	ActionRecordLocation   Action = "location:record"
	ActionReadLocation     Action = "location:read"
	ActionCompanyLocations Action = "location:company"
	ActionDeleteLocations  Action = "location:delete"
)

var (
	privileged   = []domain.Role{domain.RoleAdmin, domain.RoleManager}
	allRoles     = []domain.Role{domain.RoleAdmin, domain.RoleManager, domain.RoleCustomer, domain.RoleTeam}
	staffRoles   = []domain.Role{domain.RoleAdmin, domain.RoleManager, domain.RoleTeam}
	trackerRoles = []domain.Role{domain.RoleTeam, domain.RoleManager}
)

// capabilities 操作 -> 允许的角色
var capabilities = map[Action][]domain.Role{
	ActionCreateJob:        {domain.RoleAdmin, domain.RoleManager, domain.RoleCustomer},
	ActionReadJob:          allRoles,
	ActionUpdateJob:        privileged,
	ActionDeleteJob:        {domain.RoleAdmin},
	ActionImportJobs:       privileged,
	ActionAssign:           privileged,
	ActionUnassign:         privileged,
	ActionCreateUpdate:     staffRoles,
	ActionUploadPhoto:      staffRoles,
	ActionShareRoute:       {domain.RoleTeam},
	ActionRecordLocation:   trackerRoles,
	ActionReadLocation:     staffRoles,
	ActionCompanyLocations: privileged,
	ActionDeleteLocations:  staffRoles,
}

// Authorizer 角色能力表 + 工单访问判定
type Authorizer struct {
	store repository.Store
}

// NewAuthorizer 创建 Authorizer
func NewAuthorizer(store repository.Store) *Authorizer {
	return &Authorizer{store: store}
}

// Allowed 角色是否具备该能力
func (a *Authorizer) Allowed(role domain.Role, action Action) bool {
	for _, r := range capabilities[action] {
		if r == role {
			return true
		}
	}
	return false
}

// Require 无能力时返回 PermissionError
func (a *Authorizer) Require(actor *domain.Actor, action Action) error {
	if actor == nil {
		return errors.Authenticationf("authentication required")
	}
	if !a.Allowed(actor.Role, action) {
		return errors.Permissionf("role %s may not perform %s", actor.Role, action)
	}
	return nil
}

// CanAccessJob 工单访问判定
//   - admin / manager：同公司即可
//   - customer：job.customer_id 为本人的客户记录
//   - team：存在本人的派工记录
func (a *Authorizer) CanAccessJob(ctx context.Context, actor *domain.Actor, job *domain.Job) (bool, error) {
	if actor == nil || job == nil || actor.CompanyID != job.CompanyID {
		return false, nil
	}
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleManager:
		return true, nil
	case domain.RoleCustomer:
		return actor.CustomerID != "" && actor.CustomerID == job.CustomerID, nil
	case domain.RoleTeam:
		if actor.TeamMemberID == "" {
			return false, nil
		}
		ok, err := a.store.Repos().Assignments.ExistsAssignment(ctx, job.JobID, actor.TeamMemberID)
		if err != nil {
			return false, errors.Wrap(err, "failed to check job assignment")
		}
		return ok, nil
	}
	return false, nil
}

// AuthorizeJob 能力 + 访问判定；其他公司的工单视为不存在
func (a *Authorizer) AuthorizeJob(ctx context.Context, actor *domain.Actor, action Action, job *domain.Job) error {
	if actor == nil {
		return errors.Authenticationf("authentication required")
	}
	if job.CompanyID != actor.CompanyID {
		return errors.NotFoundf("job %s not found", job.JobID)
	}
	if err := a.Require(actor, action); err != nil {
		return err
	}
	ok, err := a.CanAccessJob(ctx, actor, job)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Permissionf("no access to job %s", job.JobID)
	}
	return nil
}

// LoadJob 读取工单并授权
func (a *Authorizer) LoadJob(ctx context.Context, actor *domain.Actor, action Action, jobID string) (*domain.Job, error) {
	if jobID == "" {
		return nil, errors.Validationf("job id is required")
	}
	job, err := a.store.Repos().Jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := a.AuthorizeJob(ctx, actor, action, job); err != nil {
		return nil, err
	}
	return job, nil
}

// RequireTeamMemberScope 本人，或同公司的 admin / manager
func (a *Authorizer) RequireTeamMemberScope(ctx context.Context, actor *domain.Actor, action Action, teamMemberID string) (*domain.TeamMember, error) {
	if err := a.Require(actor, action); err != nil {
		return nil, err
	}
	if teamMemberID == "" {
		return nil, errors.Validationf("team member id is required")
	}
	tm, err := a.store.Repos().Profiles.GetTeamMember(ctx, teamMemberID)
	if err != nil {
		return nil, err
	}
	if tm.CompanyID != actor.CompanyID {
		return nil, errors.NotFoundf("team member %s not found", teamMemberID)
	}
	if actor.Role.IsPrivileged() || actor.TeamMemberID == teamMemberID {
		return tm, nil
	}
	return nil, errors.Permissionf("team member %s belongs to another user", teamMemberID)
}
