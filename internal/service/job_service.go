package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fieldops/common/errors"
	"fieldops/internal/domain"
	"fieldops/internal/metrics"
	"fieldops/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// JobService 工单服务
type JobService struct {
	store    repository.Store
	authz    *Authorizer
	notifier *NotificationService
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time
}

// NewJobService 创建工单服务
func NewJobService(store repository.Store, authz *Authorizer, notifier *NotificationService, m *metrics.Collector, logger *zap.Logger) *JobService {
	return &JobService{
		store:    store,
		authz:    authz,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// JobItemInput 工单明细输入
type JobItemInput struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// CreateJobRequest 创建工单请求
type CreateJobRequest struct {
	Actor *domain.Actor `json:"-"`

	CustomerID          string         `json:"customer_id"`
	ServiceTypeID       string         `json:"service_type_id"`
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	ServiceAddress      string         `json:"service_address"`
	ScheduledDate       string         `json:"scheduled_date"`
	ScheduledTime       string         `json:"scheduled_time"`
	EstimatedDuration   *int           `json:"estimated_duration"`
	Priority            string         `json:"priority"`
	SpecialInstructions string         `json:"special_instructions"`
	EstimatedPrice      *float64       `json:"estimated_price"`
	AssignedManagerID   string         `json:"assigned_manager_id"`
	Items               []JobItemInput `json:"items"`
}

// CreateJob 创建工单（含 items，单事务），提交后通知经理
func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (*domain.Job, error) {
	actor := req.Actor
	if err := s.authz.Require(actor, ActionCreateJob); err != nil {
		return nil, err
	}

	// 必填字段
	missing := []string{}
	for _, f := range []struct{ name, value string }{
		{"title", req.Title},
		{"service_address", req.ServiceAddress},
		{"scheduled_date", req.ScheduledDate},
		{"scheduled_time", req.ScheduledTime},
		{"customer_id", req.CustomerID},
		{"service_type_id", req.ServiceTypeID},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Validationf("missing required fields: %s", strings.Join(missing, ", "))
	}

	date, err := s.validateDate(req.ScheduledDate)
	if err != nil {
		return nil, err
	}
	clock, err := normalizeTime(req.ScheduledTime)
	if err != nil {
		return nil, err
	}

	priority := domain.JobPriority(strings.TrimSpace(req.Priority))
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return nil, errors.Validationf("invalid priority: %s", req.Priority)
	}
	if err := validateAmounts(req.EstimatedDuration, req.EstimatedPrice, nil); err != nil {
		return nil, err
	}

	// 客户只能为自己的客户记录下单
	if actor.Role == domain.RoleCustomer && (actor.CustomerID == "" || actor.CustomerID != req.CustomerID) {
		return nil, errors.Permissionf("customers may only create jobs for their own account")
	}

	repos := s.store.Repos()
	customer, err := repos.Profiles.GetCustomer(ctx, req.CustomerID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	if customer == nil || customer.CompanyID != actor.CompanyID {
		return nil, errors.Validationf("unknown customer_id: %s", req.CustomerID)
	}
	ok, err := repos.Profiles.ServiceTypeExists(ctx, actor.CompanyID, req.ServiceTypeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Validationf("unknown service_type_id: %s", req.ServiceTypeID)
	}
	if req.AssignedManagerID != "" {
		if err := s.checkManager(ctx, actor.CompanyID, req.AssignedManagerID); err != nil {
			return nil, err
		}
	}

	job := &domain.Job{
		JobID:               uuid.New().String(),
		CompanyID:           actor.CompanyID,
		CustomerID:          req.CustomerID,
		ServiceTypeID:       req.ServiceTypeID,
		Title:               strings.TrimSpace(req.Title),
		Description:         strings.TrimSpace(req.Description),
		ServiceAddress:      strings.TrimSpace(req.ServiceAddress),
		ScheduledDate:       date,
		ScheduledTime:       clock,
		EstimatedDuration:   req.EstimatedDuration,
		Status:              domain.JobStatusScheduled,
		Priority:            priority,
		SpecialInstructions: strings.TrimSpace(req.SpecialInstructions),
		EstimatedPrice:      req.EstimatedPrice,
		CreatedBy:           actor.ProfileID,
		AssignedManagerID:   req.AssignedManagerID,
	}
	for i, in := range req.Items {
		if strings.TrimSpace(in.Description) == "" {
			return nil, errors.Validationf("items[%d]: description is required", i)
		}
		if in.Quantity <= 0 {
			return nil, errors.Validationf("items[%d]: quantity must be positive", i)
		}
		if in.UnitPrice < 0 {
			return nil, errors.Validationf("items[%d]: unit_price must not be negative", i)
		}
		job.Items = append(job.Items, domain.JobItem{
			ItemID:      uuid.New().String(),
			Description: strings.TrimSpace(in.Description),
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
		})
	}

	if err := s.store.WithinTx(ctx, func(tx *repository.Repositories) error {
		return tx.Jobs.CreateJob(ctx, job)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Job created",
		zap.String("job_id", job.JobID),
		zap.String("company_id", job.CompanyID),
		zap.String("created_by", actor.ProfileID),
	)
	s.notifyJobCreated(ctx, job)
	return job, nil
}

func (s *JobService) notifyJobCreated(ctx context.Context, job *domain.Job) {
	recipients := []string{}
	if job.AssignedManagerID != "" {
		recipients = append(recipients, job.AssignedManagerID)
	} else {
		ids, err := s.store.Repos().Profiles.ListProfileIDsByRole(ctx, job.CompanyID, domain.RoleManager)
		if err != nil {
			s.logger.Warn("Failed to list managers for job notification", zap.String("job_id", job.JobID), zap.Error(err))
			return
		}
		recipients = ids
	}

	notes := make([]*domain.Notification, 0, len(recipients))
	for _, id := range recipients {
		notes = append(notes, &domain.Notification{
			UserID:       id,
			Type:         domain.NotificationJobCreated,
			Title:        "New job scheduled",
			Message:      fmt.Sprintf("%s is scheduled for %s at %s", job.Title, job.ScheduledDate, job.ScheduledTime),
			RelatedJobID: job.JobID,
		})
	}
	s.notifier.FanOut(ctx, notes)
}

// GetJob 获取工单（含 items）
func (s *JobService) GetJob(ctx context.Context, actor *domain.Actor, jobID string) (*domain.Job, error) {
	job, err := s.authz.LoadJob(ctx, actor, ActionReadJob, jobID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.Repos().Jobs.ListItems(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job.Items = items
	return job, nil
}

// ListJobsRequest 工单列表请求
type ListJobsRequest struct {
	Actor        *domain.Actor
	Status       string
	Priority     string
	Date         string
	CustomerID   string
	TeamMemberID string
	Limit        int
	Offset       int
}

// ListJobsResponse 工单列表响应
type ListJobsResponse struct {
	Jobs   []*domain.Job `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListJobs 按角色限定范围：customer 只看自己的，team 只看已派工的
func (s *JobService) ListJobs(ctx context.Context, req ListJobsRequest) (*ListJobsResponse, error) {
	actor := req.Actor
	if err := s.authz.Require(actor, ActionReadJob); err != nil {
		return nil, err
	}
	limit, offset, err := normalizePage(req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}
	if req.Status != "" && !domain.JobStatus(req.Status).Valid() {
		return nil, errors.Validationf("invalid status filter: %s", req.Status)
	}
	if req.Priority != "" && !domain.JobPriority(req.Priority).Valid() {
		return nil, errors.Validationf("invalid priority filter: %s", req.Priority)
	}
	if req.Date != "" {
		if _, err := domain.ParseScheduledDate(req.Date); err != nil {
			return nil, errors.Validationf("invalid date filter: %s", req.Date)
		}
	}

	filters := &repository.JobFilters{
		Status:       req.Status,
		Priority:     req.Priority,
		Date:         req.Date,
		CustomerID:   req.CustomerID,
		TeamMemberID: req.TeamMemberID,
	}
	empty := &ListJobsResponse{Jobs: []*domain.Job{}, Limit: limit, Offset: offset}
	switch actor.Role {
	case domain.RoleCustomer:
		if actor.CustomerID == "" || (req.CustomerID != "" && req.CustomerID != actor.CustomerID) {
			return empty, nil
		}
		filters.CustomerID = actor.CustomerID
	case domain.RoleTeam:
		if actor.TeamMemberID == "" || (req.TeamMemberID != "" && req.TeamMemberID != actor.TeamMemberID) {
			return empty, nil
		}
		filters.TeamMemberID = actor.TeamMemberID
	}

	jobs, total, err := s.store.Repos().Jobs.ListJobs(ctx, actor.CompanyID, filters, limit, offset)
	if err != nil {
		return nil, err
	}
	return &ListJobsResponse{Jobs: jobs, Total: total, Limit: limit, Offset: offset}, nil
}

// UpdateJobRequest 更新工单请求；nil 字段不修改
type UpdateJobRequest struct {
	Actor *domain.Actor `json:"-"`
	JobID string        `json:"-"`

	Title               *string  `json:"title"`
	Description         *string  `json:"description"`
	ServiceAddress      *string  `json:"service_address"`
	ScheduledDate       *string  `json:"scheduled_date"`
	ScheduledTime       *string  `json:"scheduled_time"`
	EstimatedDuration   *int     `json:"estimated_duration"`
	Status              *string  `json:"status"`
	Priority            *string  `json:"priority"`
	SpecialInstructions *string  `json:"special_instructions"`
	EstimatedPrice      *float64 `json:"estimated_price"`
	FinalPrice          *float64 `json:"final_price"`
	AssignedManagerID   *string  `json:"assigned_manager_id"`
}

// UpdateJob 直接编辑工单（admin / manager）；终态工单拒绝一切修改
func (s *JobService) UpdateJob(ctx context.Context, req UpdateJobRequest) (*domain.Job, error) {
	actor := req.Actor
	if _, err := s.authz.LoadJob(ctx, actor, ActionUpdateJob, req.JobID); err != nil {
		return nil, err
	}

	var updated *domain.Job
	var from domain.JobStatus
	err := s.store.WithinTx(ctx, func(tx *repository.Repositories) error {
		job, err := tx.Jobs.GetJob(ctx, req.JobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return errors.InvalidStatef("job %s is %s and can no longer be edited", job.JobID, job.Status)
		}
		if err := validateAmounts(req.EstimatedDuration, req.EstimatedPrice, req.FinalPrice); err != nil {
			return err
		}
		from = job.Status

		if err := s.applyJobEdits(ctx, job, req); err != nil {
			return err
		}
		if err := tx.Jobs.UpdateJob(ctx, job); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	items, err := s.store.Repos().Jobs.ListItems(ctx, updated.JobID)
	if err != nil {
		s.logger.Warn("Failed to load job items", zap.String("job_id", updated.JobID), zap.Error(err))
	}
	updated.Items = items

	if updated.Status != from {
		s.metrics.RecordTransition(string(from), string(updated.Status))
		s.logger.Info("Job status changed",
			zap.String("job_id", updated.JobID),
			zap.String("from", string(from)),
			zap.String("to", string(updated.Status)),
			zap.String("actor", actor.ProfileID),
		)
		s.notifyStatusChanged(ctx, updated, actor.ProfileID)
	}
	return updated, nil
}

func (s *JobService) applyJobEdits(ctx context.Context, job *domain.Job, req UpdateJobRequest) error {
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return errors.Validationf("title must not be empty")
		}
		job.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		job.Description = strings.TrimSpace(*req.Description)
	}
	if req.ServiceAddress != nil {
		if strings.TrimSpace(*req.ServiceAddress) == "" {
			return errors.Validationf("service_address must not be empty")
		}
		job.ServiceAddress = strings.TrimSpace(*req.ServiceAddress)
	}
	if req.ScheduledDate != nil && *req.ScheduledDate != job.ScheduledDate {
		date, err := s.validateDate(*req.ScheduledDate)
		if err != nil {
			return err
		}
		job.ScheduledDate = date
	}
	if req.ScheduledTime != nil {
		clock, err := normalizeTime(*req.ScheduledTime)
		if err != nil {
			return err
		}
		job.ScheduledTime = clock
	}
	if req.EstimatedDuration != nil {
		job.EstimatedDuration = req.EstimatedDuration
	}
	if req.Priority != nil {
		p := domain.JobPriority(strings.TrimSpace(*req.Priority))
		if !p.Valid() {
			return errors.Validationf("invalid priority: %s", *req.Priority)
		}
		job.Priority = p
	}
	if req.SpecialInstructions != nil {
		job.SpecialInstructions = strings.TrimSpace(*req.SpecialInstructions)
	}
	if req.EstimatedPrice != nil {
		job.EstimatedPrice = req.EstimatedPrice
	}
	if req.FinalPrice != nil {
		job.FinalPrice = req.FinalPrice
	}
	if req.AssignedManagerID != nil {
		if *req.AssignedManagerID != "" && *req.AssignedManagerID != job.AssignedManagerID {
			if err := s.checkManager(ctx, job.CompanyID, *req.AssignedManagerID); err != nil {
				return err
			}
		}
		job.AssignedManagerID = *req.AssignedManagerID
	}
	if req.Status != nil {
		to := domain.JobStatus(strings.TrimSpace(*req.Status))
		if !to.Valid() {
			return errors.Validationf("invalid status: %s", *req.Status)
		}
		if !domain.CanTransition(job.Status, to) {
			return errors.InvalidStatef("cannot change job status from %s to %s", job.Status, to)
		}
		job.Status = to
	}
	return nil
}

func (s *JobService) notifyStatusChanged(ctx context.Context, job *domain.Job, authorID string) {
	recipient := customerProfileID(ctx, s.store.Repos(), job.CustomerID, s.logger)
	if recipient == "" || recipient == authorID {
		return
	}
	s.notifier.FanOut(ctx, []*domain.Notification{{
		UserID:       recipient,
		Type:         domain.NotificationJobStatusChanged,
		Title:        "Job status updated",
		Message:      fmt.Sprintf("%s is now %s", job.Title, job.Status),
		RelatedJobID: job.JobID,
	}})
}

// DeleteJob 物理删除（仅 admin）；已完成工单不可删除
func (s *JobService) DeleteJob(ctx context.Context, actor *domain.Actor, jobID string) error {
	job, err := s.authz.LoadJob(ctx, actor, ActionDeleteJob, jobID)
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusCompleted {
		return errors.InvalidStatef("completed job %s cannot be deleted", jobID)
	}
	if err := s.store.Repos().Jobs.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("Job deleted", zap.String("job_id", jobID), zap.String("actor", actor.ProfileID))
	return nil
}

// validateDate 格式 YYYY-MM-DD，且不早于今天
func (s *JobService) validateDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	d, err := domain.ParseScheduledDate(value)
	if err != nil {
		return "", errors.Validationf("invalid scheduled_date %q, expected YYYY-MM-DD", value)
	}
	normalized := d.Format(domain.DateLayout)
	if normalized < s.now().Format(domain.DateLayout) {
		return "", errors.Validationf("scheduled_date %s is in the past", normalized)
	}
	return normalized, nil
}

func (s *JobService) checkManager(ctx context.Context, companyID, profileID string) error {
	ids, err := s.store.Repos().Profiles.ListProfileIDsByRole(ctx, companyID, domain.RoleManager)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == profileID {
			return nil
		}
	}
	return errors.Validationf("assigned_manager_id %s is not a manager of this company", profileID)
}

// normalizeTime 接受 HH:MM 或 HH:MM:SS，统一为 HH:MM
func normalizeTime(value string) (string, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{domain.TimeLayout, "15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(domain.TimeLayout), nil
		}
	}
	return "", errors.Validationf("invalid scheduled_time %q, expected HH:MM", value)
}

func validateAmounts(duration *int, estimated, final *float64) error {
	if duration != nil && *duration < 0 {
		return errors.Validationf("estimated_duration must not be negative")
	}
	if estimated != nil && *estimated < 0 {
		return errors.Validationf("estimated_price must not be negative")
	}
	if final != nil && *final < 0 {
		return errors.Validationf("final_price must not be negative")
	}
	return nil
}

// normalizePage limit 默认 20，上限 100
func normalizePage(limit, offset int) (int, int, error) {
	if offset < 0 {
		return 0, 0, errors.Validationf("offset must not be negative")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, offset, nil
}
