package httpapi

import (
	"bytes"
	"mime"
	"net/http"
	"path"

	"fieldops/common/errors"
	"fieldops/internal/service"

	"go.uber.org/zap"
)

const (
	maxPhotoBytes  = 10 << 20
	maxImportBytes = 5 << 20
)

// JobsHandler /jobs 及其子资源
type JobsHandler struct {
	auth        *Authenticator
	jobs        *service.JobService
	assignments *service.AssignmentService
	updates     *service.JobUpdateService
	logger      *zap.Logger
}

// NewJobsHandler 创建工单 Handler
func NewJobsHandler(
	auth *Authenticator,
	jobs *service.JobService,
	assignments *service.AssignmentService,
	updates *service.JobUpdateService,
	logger *zap.Logger,
) *JobsHandler {
	return &JobsHandler{
		auth:        auth,
		jobs:        jobs,
		assignments: assignments,
		updates:     updates,
		logger:      logger,
	}
}

// ServeHTTP 路由分发
func (h *JobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	seg := pathSegments(r.URL.Path)
	if len(seg) == 0 || seg[0] != "jobs" {
		notFound(w)
		return
	}

	switch {
	case len(seg) == 1:
		switch r.Method {
		case http.MethodGet:
			h.ListJobs(w, r)
		case http.MethodPost:
			h.CreateJob(w, r)
		default:
			methodNotAllowed(w)
		}

	case len(seg) == 2 && seg[1] == "import":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.ImportJobs(w, r)
	case len(seg) == 3 && seg[1] == "import" && seg[2] == "template":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.ImportTemplate(w, r)

	case len(seg) == 2:
		switch r.Method {
		case http.MethodGet:
			h.GetJob(w, r, seg[1])
		case http.MethodPut:
			h.UpdateJob(w, r, seg[1])
		case http.MethodDelete:
			h.DeleteJob(w, r, seg[1])
		default:
			methodNotAllowed(w)
		}

	case len(seg) == 3 && seg[2] == "assignments":
		switch r.Method {
		case http.MethodGet:
			h.ListAssignments(w, r, seg[1])
		case http.MethodPost:
			h.Assign(w, r, seg[1])
		default:
			methodNotAllowed(w)
		}
	case len(seg) == 4 && seg[2] == "assignments":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		h.Unassign(w, r, seg[1], seg[3])

	case len(seg) == 3 && seg[2] == "updates":
		switch r.Method {
		case http.MethodGet:
			h.ListUpdates(w, r, seg[1])
		case http.MethodPost:
			h.CreateUpdate(w, r, seg[1])
		default:
			methodNotAllowed(w)
		}

	case len(seg) == 3 && seg[2] == "photos":
		switch r.Method {
		case http.MethodGet:
			h.PhotoComparison(w, r, seg[1])
		case http.MethodPost:
			h.UploadPhoto(w, r, seg[1])
		default:
			methodNotAllowed(w)
		}

	case len(seg) == 3 && seg[2] == "share-route":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.ShareRoute(w, r, seg[1])

	default:
		notFound(w)
	}
}

// ListJobs GET /jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := parseInt(q.Get("limit"), 0)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	offset, err := parseInt(q.Get("offset"), 0)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.jobs.ListJobs(r.Context(), service.ListJobsRequest{
		Actor:        actor,
		Status:       q.Get("status"),
		Priority:     q.Get("priority"),
		Date:         q.Get("date"),
		CustomerID:   q.Get("customer_id"),
		TeamMemberID: q.Get("team_member_id"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateJob POST /jobs
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	var req service.CreateJobRequest
	if err := readBodyJSON(r, maxJSONBody, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.Actor = actor

	job, err := h.jobs.CreateJob(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job": job})
}

// GetJob GET /jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.GetJob(r.Context(), actor, jobID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// UpdateJob PUT /jobs/{id}
func (h *JobsHandler) UpdateJob(w http.ResponseWriter, r *http.Request, jobID string) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	var req service.UpdateJobRequest
	if err := readBodyJSON(r, maxJSONBody, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.Actor = actor
	req.JobID = jobID

	job, err := h.jobs.UpdateJob(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// DeleteJob DELETE /jobs/{id}
func (h *JobsHandler) DeleteJob(w http.ResponseWriter, r *http.Request, jobID string) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	if err := h.jobs.DeleteJob(r.Context(), actor, jobID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, successOK)
}

// ListAssignments GET /jobs/{id}/assignments
func (h *JobsHandler) ListAssignments(w http.ResponseWriter, r *http.Request, jobID string) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	list, err := h.assignments.ListAssignments(r.Context(), actor, jobID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": list})
}

// Assign POST /jobs/{id}/assignments
func (h *JobsHandler) Assign(w http.ResponseWriter, r *http.Request, jobID string) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	var req service.AssignRequest
	if err := readBodyJSON(r, maxJSONBody, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.Actor = actor
	req.JobID = jobID

	a, err := h.assignments.Assign(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"assignment": a})
}

// Unassign DELETE /jobs/{id}/assignments/{assignmentId}
func (h *JobsHandler) Unassign(w http.ResponseWriter, r *http.Request, jobID, assignmentID string) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	if err := h.assignments.Unassign(r.Context(), actor, jobID, assignmentID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, successOK)
}

// ListUpdates GET /jobs/{id}/updates
func (h *JobsHandler) ListUpdates(w http.ResponseWriter, r *http.Request, jobID string) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	updates, err := h.updates.ListUpdates(r.Context(), actor, jobID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": updates})
}

// CreateUpdate POST /jobs/{id}/updates
func (h *JobsHandler) CreateUpdate(w http.ResponseWriter, r *http.Request, jobID string) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	var req service.CreateUpdateRequest
	if err := readBodyJSON(r, maxJSONBody, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.Actor = actor
	req.JobID = jobID

	u, err := h.updates.CreateUpdate(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"update": u})
}

// PhotoComparison GET /jobs/{id}/photos
func (h *JobsHandler) PhotoComparison(w http.ResponseWriter, r *http.Request, jobID string) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	cmp, err := h.updates.PhotoComparison(r.Context(), actor, jobID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"photos": cmp})
}

// UploadPhoto POST /jobs/{id}/photos（multipart 字段 photo）
func (h *JobsHandler) UploadPhoto(w http.ResponseWriter, r *http.Request, jobID string) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes)
	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		writeError(w, r, h.logger, errors.Mark(errors.Wrap(err, "invalid multipart form"), errors.ErrValidation))
		return
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		writeError(w, r, h.logger, errors.Validationf("photo file is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(path.Ext(header.Filename))
	}

	url, err := h.updates.UploadPhoto(r.Context(), service.UploadPhotoRequest{
		Actor:       actor,
		JobID:       jobID,
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"photo": map[string]string{"url": url}})
}

// ShareRoute POST /jobs/{id}/share-route
func (h *JobsHandler) ShareRoute(w http.ResponseWriter, r *http.Request, jobID string) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	n, err := h.assignments.ShareRoute(r.Context(), actor, jobID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"notification": n})
}

// ImportTemplate GET /jobs/import/template
func (h *JobsHandler) ImportTemplate(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.auth.Actor(w, r); !ok {
		return
	}
	data, err := service.GenerateJobImportTemplate()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="job_import_template.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ImportJobs POST /jobs/import（multipart 字段 file）
func (h *JobsHandler) ImportJobs(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		writeError(w, r, h.logger, errors.Mark(errors.Wrap(err, "invalid multipart form"), errors.ErrValidation))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, h.logger, errors.Validationf("file is required"))
		return
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(file); err != nil {
		writeError(w, r, h.logger, errors.Wrap(err, "failed to read upload"))
		return
	}
	resp, err := h.jobs.ImportJobs(r.Context(), actor, &buf)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
