package service

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"fieldops/common/errors"
	"fieldops/internal/domain"
	"fieldops/internal/metrics"
	"fieldops/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PhotoStorage 照片对象存储
type PhotoStorage interface {
	// Put 上传对象并返回可访问的 URL
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// JobUpdateService 工单动态 / 照片核验
type JobUpdateService struct {
	store    repository.Store
	authz    *Authorizer
	notifier *NotificationService
	photos   PhotoStorage
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewJobUpdateService photos 可以为 nil（未配置对象存储时不支持上传）
func NewJobUpdateService(store repository.Store, authz *Authorizer, notifier *NotificationService, photos PhotoStorage, m *metrics.Collector, logger *zap.Logger) *JobUpdateService {
	return &JobUpdateService{
		store:    store,
		authz:    authz,
		notifier: notifier,
		photos:   photos,
		metrics:  m,
		logger:   logger,
	}
}

// CreateUpdateRequest 新增动态请求
type CreateUpdateRequest struct {
	Actor *domain.Actor `json:"-"`
	JobID string        `json:"-"`

	Status   *string          `json:"status"`
	Notes    string           `json:"notes"`
	Location *domain.GeoPoint `json:"location"`
	Photos   []string         `json:"photos"`
}

// CreateUpdate 追加动态；带 status 时同一事务内推进工单状态
func (s *JobUpdateService) CreateUpdate(ctx context.Context, req CreateUpdateRequest) (*domain.JobUpdate, error) {
	actor := req.Actor
	if err := s.authz.Require(actor, ActionCreateUpdate); err != nil {
		return nil, err
	}

	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		return nil, errors.Validationf("notes is required")
	}
	if req.Location != nil {
		if err := req.Location.Validate(); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "invalid location"), errors.ErrValidation)
		}
	}
	photos := make([]string, 0, len(req.Photos))
	for i, p := range req.Photos {
		p = strings.TrimSpace(p)
		if !isHTTPURL(p) {
			return nil, errors.Validationf("photos[%d] is not an http(s) URL", i)
		}
		photos = append(photos, p)
	}
	var status *domain.JobStatus
	if req.Status != nil && strings.TrimSpace(*req.Status) != "" {
		st := domain.JobStatus(strings.TrimSpace(*req.Status))
		if !st.Valid() {
			return nil, errors.Validationf("invalid status: %s", *req.Status)
		}
		status = &st
	}

	if _, err := s.authz.LoadJob(ctx, actor, ActionCreateUpdate, req.JobID); err != nil {
		return nil, err
	}

	update := &domain.JobUpdate{
		JobID:    req.JobID,
		AuthorID: actor.ProfileID,
		Status:   status,
		Notes:    notes,
		Location: req.Location,
		Photos:   photos,
	}
	var job *domain.Job
	var from domain.JobStatus
	err := s.store.WithinTx(ctx, func(tx *repository.Repositories) error {
		var err error
		job, err = tx.Jobs.GetJob(ctx, req.JobID)
		if err != nil {
			return err
		}
		from = job.Status
		if job.Status.IsTerminal() {
			return errors.InvalidStatef("job %s is %s and accepts no further updates", job.JobID, job.Status)
		}
		if status != nil && !domain.CanTransition(job.Status, *status) {
			return errors.InvalidStatef("cannot change job status from %s to %s", job.Status, *status)
		}
		if err := tx.Updates.CreateUpdate(ctx, update); err != nil {
			return err
		}
		if status != nil && *status != job.Status {
			if err := tx.Jobs.SetJobStatus(ctx, job.JobID, *status); err != nil {
				return err
			}
			job.Status = *status
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	update.Author = &domain.ProfileSummary{ProfileID: actor.ProfileID, FullName: actor.FullName, Role: actor.Role}
	if job.Status != from {
		s.metrics.RecordTransition(string(from), string(job.Status))
	}
	s.logger.Info("Job update recorded",
		zap.String("job_id", job.JobID),
		zap.String("update_id", update.UpdateID),
		zap.String("author_id", actor.ProfileID),
		zap.String("status", string(job.Status)),
	)
	s.notifyUpdate(ctx, job, update)
	return update, nil
}

// notifyUpdate 通知客户，以及（非作者本人时）负责经理
func (s *JobUpdateService) notifyUpdate(ctx context.Context, job *domain.Job, u *domain.JobUpdate) {
	typ := domain.NotificationJobUpdated
	title := "Job update"
	message := fmt.Sprintf("%s: %s", job.Title, u.Notes)
	if u.Status != nil {
		typ = domain.NotificationJobStatusChanged
		title = "Job status updated"
		message = fmt.Sprintf("%s is now %s", job.Title, *u.Status)
	}

	notes := []*domain.Notification{}
	if customer := customerProfileID(ctx, s.store.Repos(), job.CustomerID, s.logger); customer != "" {
		notes = append(notes, &domain.Notification{
			UserID: customer, Type: typ, Title: title, Message: message, RelatedJobID: job.JobID,
		})
	}
	if job.AssignedManagerID != "" && job.AssignedManagerID != u.AuthorID {
		notes = append(notes, &domain.Notification{
			UserID: job.AssignedManagerID, Type: typ, Title: title, Message: message, RelatedJobID: job.JobID,
		})
	}
	s.notifier.FanOut(ctx, notes)
}

// ListUpdates 工单动态（倒序）
func (s *JobUpdateService) ListUpdates(ctx context.Context, actor *domain.Actor, jobID string) ([]*domain.JobUpdate, error) {
	if _, err := s.authz.LoadJob(ctx, actor, ActionReadJob, jobID); err != nil {
		return nil, err
	}
	return s.store.Repos().Updates.ListUpdates(ctx, jobID)
}

// PhotoComparison 完工前后照片
type PhotoComparison struct {
	Before []string `json:"before"`
	After  []string `json:"after"`
}

// PhotoComparison 第一条 completed 动态之前的照片为 before，之后（含）为 after
func (s *JobUpdateService) PhotoComparison(ctx context.Context, actor *domain.Actor, jobID string) (*PhotoComparison, error) {
	updates, err := s.ListUpdates(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}
	out := &PhotoComparison{Before: []string{}, After: []string{}}
	completed := false
	for i := len(updates) - 1; i >= 0; i-- {
		u := updates[i]
		if u.Status != nil && *u.Status == domain.JobStatusCompleted {
			completed = true
		}
		if completed {
			out.After = append(out.After, u.Photos...)
		} else {
			out.Before = append(out.Before, u.Photos...)
		}
	}
	return out, nil
}

// UploadPhotoRequest 照片上传请求
type UploadPhotoRequest struct {
	Actor       *domain.Actor
	JobID       string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadPhoto 上传到 jobs/<job_id>/<uuid><ext>，返回 URL
func (s *JobUpdateService) UploadPhoto(ctx context.Context, req UploadPhotoRequest) (string, error) {
	job, err := s.authz.LoadJob(ctx, req.Actor, ActionUploadPhoto, req.JobID)
	if err != nil {
		return "", err
	}
	if job.Status.IsTerminal() {
		return "", errors.InvalidStatef("job %s is %s", job.JobID, job.Status)
	}
	if !strings.HasPrefix(req.ContentType, "image/") {
		return "", errors.Validationf("unsupported photo content type: %q", req.ContentType)
	}
	if s.photos == nil {
		return "", errors.New("photo storage is not configured")
	}

	ext := strings.ToLower(path.Ext(req.Filename))
	key := fmt.Sprintf("jobs/%s/%s%s", job.JobID, uuid.New().String(), ext)
	u, err := s.photos.Put(ctx, key, req.ContentType, req.Body, req.Size)
	if err != nil {
		return "", errors.Wrapf(err, "failed to store photo %s", key)
	}
	return u, nil
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
