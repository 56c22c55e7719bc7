package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"fieldops/common/errors"
	"fieldops/internal/domain"

	"github.com/google/uuid"
)

// MemoryStore 内存实现的 Store，用于本地开发与测试
// WithinTx 串行执行，fn 出错时整体恢复到事务开始前的快照；
// 事务进行中，非事务写入阻塞到事务结束，回滚不会覆盖它们
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data *memoryData

	notifyErr error
	repos     *Repositories
	txRepos   *Repositories
}

type memoryData struct {
	seq          int64
	profiles     map[string]*domain.Profile
	customers    map[string]*domain.Customer
	teamMembers  map[string]*domain.TeamMember
	serviceTypes map[string]string // service_type_id -> company_id

	jobs          map[string]*domain.Job
	jobSeq        map[string]int64
	items         map[string][]domain.JobItem
	assignments   map[string]*domain.Assignment
	assignSeq     map[string]int64
	updates       []*domain.JobUpdate
	locations     []*domain.TeamLocation
	notifications []*domain.Notification
}

// NewMemoryStore 创建内存 Store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{data: &memoryData{
		profiles:     map[string]*domain.Profile{},
		customers:    map[string]*domain.Customer{},
		teamMembers:  map[string]*domain.TeamMember{},
		serviceTypes: map[string]string{},
		jobs:         map[string]*domain.Job{},
		jobSeq:       map[string]int64{},
		items:        map[string][]domain.JobItem{},
		assignments:  map[string]*domain.Assignment{},
		assignSeq:    map[string]int64{},
	}}
	s.repos = s.newRepos(false)
	s.txRepos = s.newRepos(true)
	return s
}

func (s *MemoryStore) newRepos(tx bool) *Repositories {
	return &Repositories{
		Jobs:          &memoryJobs{s: s, tx: tx},
		Assignments:   &memoryAssignments{s: s, tx: tx},
		Updates:       &memoryUpdates{s: s, tx: tx},
		Locations:     &memoryLocations{s: s, tx: tx},
		Notifications: &memoryNotifications{s: s, tx: tx},
		Profiles:      &memoryProfiles{s: s, tx: tx},
	}
}

// writeLock 非事务写入先拿 txMu，与进行中的事务互斥
func (s *MemoryStore) writeLock(inTx bool) func() {
	if !inTx {
		s.txMu.Lock()
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if !inTx {
			s.txMu.Unlock()
		}
	}
}

var _ Store = (*MemoryStore)(nil)

// Repos 非事务 repo
func (s *MemoryStore) Repos() *Repositories {
	return s.repos
}

// WithinTx fn 出错时回滚到快照
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(repos *Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(s.txRepos); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// SetNotificationError 让后续 CreateNotification 返回 err（nil 恢复）
func (s *MemoryStore) SetNotificationError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyErr = err
}

// AddProfile 写入 profile
func (s *MemoryStore) AddProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.profiles[p.ProfileID] = &p
}

// AddCustomer 写入客户
func (s *MemoryStore) AddCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.customers[c.CustomerID] = &c
}

// AddTeamMember 写入员工
func (s *MemoryStore) AddTeamMember(tm domain.TeamMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.teamMembers[tm.TeamMemberID] = &tm
}

// AddServiceType 写入服务类型
func (s *MemoryStore) AddServiceType(companyID, serviceTypeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.serviceTypes[serviceTypeID] = companyID
}

func (d *memoryData) nextSeq() int64 {
	d.seq++
	return d.seq
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		seq:          d.seq,
		profiles:     make(map[string]*domain.Profile, len(d.profiles)),
		customers:    make(map[string]*domain.Customer, len(d.customers)),
		teamMembers:  make(map[string]*domain.TeamMember, len(d.teamMembers)),
		serviceTypes: make(map[string]string, len(d.serviceTypes)),
		jobs:         make(map[string]*domain.Job, len(d.jobs)),
		jobSeq:       make(map[string]int64, len(d.jobSeq)),
		items:        make(map[string][]domain.JobItem, len(d.items)),
		assignments:  make(map[string]*domain.Assignment, len(d.assignments)),
		assignSeq:    make(map[string]int64, len(d.assignSeq)),
	}
	for k, v := range d.profiles {
		p := *v
		c.profiles[k] = &p
	}
	for k, v := range d.customers {
		cu := *v
		c.customers[k] = &cu
	}
	for k, v := range d.teamMembers {
		tm := *v
		c.teamMembers[k] = &tm
	}
	for k, v := range d.serviceTypes {
		c.serviceTypes[k] = v
	}
	for k, v := range d.jobs {
		c.jobs[k] = copyJob(v)
	}
	for k, v := range d.jobSeq {
		c.jobSeq[k] = v
	}
	for k, v := range d.items {
		c.items[k] = append([]domain.JobItem(nil), v...)
	}
	for k, v := range d.assignments {
		a := *v
		c.assignments[k] = &a
	}
	for k, v := range d.assignSeq {
		c.assignSeq[k] = v
	}
	for _, u := range d.updates {
		c.updates = append(c.updates, copyUpdate(u))
	}
	for _, l := range d.locations {
		loc := *l
		c.locations = append(c.locations, &loc)
	}
	for _, n := range d.notifications {
		cp := *n
		c.notifications = append(c.notifications, &cp)
	}
	return c
}

func copyJob(j *domain.Job) *domain.Job {
	cp := *j
	cp.Items = nil
	return &cp
}

func copyUpdate(u *domain.JobUpdate) *domain.JobUpdate {
	cp := *u
	cp.Photos = append([]string{}, u.Photos...)
	if u.Status != nil {
		s := *u.Status
		cp.Status = &s
	}
	if u.Location != nil {
		l := *u.Location
		cp.Location = &l
	}
	cp.Author = nil
	return &cp
}

// ---- jobs ----

type memoryJobs struct {
	s  *MemoryStore
	tx bool
}

func (r *memoryJobs) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.data.jobs[jobID]
	if !ok {
		return nil, errors.NotFoundf("job %s not found", jobID)
	}
	return copyJob(j), nil
}

func (r *memoryJobs) ListJobs(ctx context.Context, companyID string, filters *JobFilters, limit, offset int) ([]*domain.Job, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d := r.s.data

	matched := []*domain.Job{}
	for _, j := range d.jobs {
		if j.CompanyID != companyID {
			continue
		}
		if filters != nil {
			if filters.Status != "" && string(j.Status) != filters.Status {
				continue
			}
			if filters.Priority != "" && string(j.Priority) != filters.Priority {
				continue
			}
			if filters.Date != "" && j.ScheduledDate != filters.Date {
				continue
			}
			if filters.CustomerID != "" && j.CustomerID != filters.CustomerID {
				continue
			}
			if filters.TeamMemberID != "" && !d.hasAssignment(j.JobID, filters.TeamMemberID) {
				continue
			}
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(a, b int) bool {
		x, y := matched[a], matched[b]
		if x.ScheduledDate != y.ScheduledDate {
			return x.ScheduledDate < y.ScheduledDate
		}
		if x.ScheduledTime != y.ScheduledTime {
			return x.ScheduledTime < y.ScheduledTime
		}
		return d.jobSeq[x.JobID] < d.jobSeq[y.JobID]
	})

	total := len(matched)
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	out := []*domain.Job{}
	for i := offset; i < total && len(out) < limit; i++ {
		out = append(out, copyJob(matched[i]))
	}
	return out, total, nil
}

func (r *memoryJobs) CreateJob(ctx context.Context, job *domain.Job) error {
	if job.JobID == "" {
		return errors.New("job_id is required")
	}
	defer r.s.writeLock(r.tx)()
	d := r.s.data
	if _, ok := d.jobs[job.JobID]; ok {
		return errors.Conflictf("job %s already exists", job.JobID)
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	items := make([]domain.JobItem, len(job.Items))
	for i := range job.Items {
		job.Items[i].JobID = job.JobID
		items[i] = job.Items[i]
	}
	d.jobs[job.JobID] = copyJob(job)
	d.jobSeq[job.JobID] = d.nextSeq()
	d.items[job.JobID] = items
	return nil
}

func (r *memoryJobs) UpdateJob(ctx context.Context, job *domain.Job) error {
	defer r.s.writeLock(r.tx)()
	existing, ok := r.s.data.jobs[job.JobID]
	if !ok {
		return errors.NotFoundf("job %s not found", job.JobID)
	}
	job.UpdatedAt = time.Now().UTC()
	job.CompanyID = existing.CompanyID
	job.CreatedAt = existing.CreatedAt
	job.CreatedBy = existing.CreatedBy
	r.s.data.jobs[job.JobID] = copyJob(job)
	return nil
}

func (r *memoryJobs) SetJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	defer r.s.writeLock(r.tx)()
	j, ok := r.s.data.jobs[jobID]
	if !ok {
		return errors.NotFoundf("job %s not found", jobID)
	}
	j.Status = status
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memoryJobs) DeleteJob(ctx context.Context, jobID string) error {
	defer r.s.writeLock(r.tx)()
	d := r.s.data
	if _, ok := d.jobs[jobID]; !ok {
		return errors.NotFoundf("job %s not found", jobID)
	}
	delete(d.jobs, jobID)
	delete(d.jobSeq, jobID)
	delete(d.items, jobID)
	for id, a := range d.assignments {
		if a.JobID == jobID {
			delete(d.assignments, id)
			delete(d.assignSeq, id)
		}
	}
	kept := d.updates[:0]
	for _, u := range d.updates {
		if u.JobID != jobID {
			kept = append(kept, u)
		}
	}
	d.updates = kept
	for _, n := range d.notifications {
		if n.RelatedJobID == jobID {
			n.RelatedJobID = ""
		}
	}
	return nil
}

func (r *memoryJobs) ListItems(ctx context.Context, jobID string) ([]domain.JobItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]domain.JobItem{}, r.s.data.items[jobID]...), nil
}

// ---- assignments ----

type memoryAssignments struct {
	s  *MemoryStore
	tx bool
}

func (d *memoryData) hasAssignment(jobID, teamMemberID string) bool {
	for _, a := range d.assignments {
		if a.JobID == jobID && a.TeamMemberID == teamMemberID {
			return true
		}
	}
	return false
}

func (r *memoryAssignments) CreateAssignment(ctx context.Context, a *domain.Assignment) error {
	defer r.s.writeLock(r.tx)()
	d := r.s.data
	if d.hasAssignment(a.JobID, a.TeamMemberID) {
		return errors.Conflictf("team member %s already assigned to job %s", a.TeamMemberID, a.JobID)
	}
	a.AssignmentID = uuid.New().String()
	a.AssignedAt = time.Now().UTC()
	cp := *a
	cp.Assignee = nil
	d.assignments[a.AssignmentID] = &cp
	d.assignSeq[a.AssignmentID] = d.nextSeq()
	return nil
}

func (r *memoryAssignments) GetAssignment(ctx context.Context, assignmentID string) (*domain.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.assignments[assignmentID]
	if !ok {
		return nil, errors.NotFoundf("assignment %s not found", assignmentID)
	}
	cp := *a
	return &cp, nil
}

func (r *memoryAssignments) ListAssignments(ctx context.Context, jobID string) ([]*domain.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d := r.s.data
	out := []*domain.Assignment{}
	for _, a := range d.assignments {
		if a.JobID != jobID {
			continue
		}
		cp := *a
		assignee := &domain.AssigneeProfile{TeamMemberID: a.TeamMemberID}
		if tm, ok := d.teamMembers[a.TeamMemberID]; ok {
			assignee.ProfileID = tm.ProfileID
			assignee.IsActive = tm.IsActive
			if p, ok := d.profiles[tm.ProfileID]; ok {
				assignee.FullName = p.FullName
				assignee.Email = p.Email
			}
		}
		cp.Assignee = assignee
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return d.assignSeq[out[i].AssignmentID] < d.assignSeq[out[j].AssignmentID]
	})
	return out, nil
}

func (r *memoryAssignments) ExistsAssignment(ctx context.Context, jobID, teamMemberID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.data.hasAssignment(jobID, teamMemberID), nil
}

func (r *memoryAssignments) DeleteAssignment(ctx context.Context, assignmentID string) error {
	defer r.s.writeLock(r.tx)()
	if _, ok := r.s.data.assignments[assignmentID]; !ok {
		return errors.NotFoundf("assignment %s not found", assignmentID)
	}
	delete(r.s.data.assignments, assignmentID)
	delete(r.s.data.assignSeq, assignmentID)
	return nil
}

// ---- job updates ----

type memoryUpdates struct {
	s  *MemoryStore
	tx bool
}

func (r *memoryUpdates) CreateUpdate(ctx context.Context, u *domain.JobUpdate) error {
	defer r.s.writeLock(r.tx)()
	u.UpdateID = uuid.New().String()
	u.CreatedAt = time.Now().UTC()
	if u.Photos == nil {
		u.Photos = []string{}
	}
	r.s.data.updates = append(r.s.data.updates, copyUpdate(u))
	return nil
}

func (r *memoryUpdates) ListUpdates(ctx context.Context, jobID string) ([]*domain.JobUpdate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d := r.s.data
	out := []*domain.JobUpdate{}
	// 追加顺序即时间顺序，倒序遍历得到 newest first
	for i := len(d.updates) - 1; i >= 0; i-- {
		u := d.updates[i]
		if u.JobID != jobID {
			continue
		}
		cp := copyUpdate(u)
		if p, ok := d.profiles[u.AuthorID]; ok {
			cp.Author = &domain.ProfileSummary{ProfileID: p.ProfileID, FullName: p.FullName, Role: p.Role}
		}
		out = append(out, cp)
	}
	return out, nil
}

// ---- team locations ----

type memoryLocations struct {
	s  *MemoryStore
	tx bool
}

func (r *memoryLocations) InsertLocation(ctx context.Context, loc *domain.TeamLocation) error {
	defer r.s.writeLock(r.tx)()
	d := r.s.data
	loc.LocationID = d.nextSeq()
	if loc.RecordedAt.IsZero() {
		loc.RecordedAt = time.Now().UTC()
	}
	cp := *loc
	d.locations = append(d.locations, &cp)
	return nil
}

// newer recorded_at 较大者为新；相同时 location_id 较大者为新
func newer(a, b *domain.TeamLocation) bool {
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.After(b.RecordedAt)
	}
	return a.LocationID > b.LocationID
}

func (r *memoryLocations) GetLatest(ctx context.Context, teamMemberID string) (*domain.TeamLocation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *domain.TeamLocation
	for _, l := range r.s.data.locations {
		if l.TeamMemberID == teamMemberID && (latest == nil || newer(l, latest)) {
			latest = l
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memoryLocations) ListLatestByCompany(ctx context.Context, companyID string) ([]*domain.TeamLocation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d := r.s.data
	latest := map[string]*domain.TeamLocation{}
	for _, l := range d.locations {
		tm, ok := d.teamMembers[l.TeamMemberID]
		if !ok || tm.CompanyID != companyID {
			continue
		}
		if cur, ok := latest[l.TeamMemberID]; !ok || newer(l, cur) {
			latest[l.TeamMemberID] = l
		}
	}
	out := make([]*domain.TeamLocation, 0, len(latest))
	for _, l := range latest {
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamMemberID < out[j].TeamMemberID })
	return out, nil
}

func (r *memoryLocations) ListHistory(ctx context.Context, teamMemberID string, since *time.Time, limit int) ([]*domain.TeamLocation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	matched := []*domain.TeamLocation{}
	for _, l := range r.s.data.locations {
		if l.TeamMemberID != teamMemberID {
			continue
		}
		if since != nil && l.RecordedAt.Before(*since) {
			continue
		}
		cp := *l
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return newer(matched[i], matched[j]) })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *memoryLocations) DeleteHistory(ctx context.Context, teamMemberID string) (int64, error) {
	defer r.s.writeLock(r.tx)()
	d := r.s.data
	var n int64
	kept := d.locations[:0]
	for _, l := range d.locations {
		if l.TeamMemberID == teamMemberID {
			n++
			continue
		}
		kept = append(kept, l)
	}
	d.locations = kept
	return n, nil
}

// ---- notifications ----

type memoryNotifications struct {
	s  *MemoryStore
	tx bool
}

func (r *memoryNotifications) CreateNotification(ctx context.Context, n *domain.Notification) error {
	defer r.s.writeLock(r.tx)()
	if r.s.notifyErr != nil {
		return r.s.notifyErr
	}
	n.NotificationID = uuid.New().String()
	n.CreatedAt = time.Now().UTC()
	n.IsRead = false
	cp := *n
	r.s.data.notifications = append(r.s.data.notifications, &cp)
	return nil
}

func (r *memoryNotifications) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*domain.Notification, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	matched := []*domain.Notification{}
	all := r.s.data.notifications
	for i := len(all) - 1; i >= 0; i-- {
		n := all[i]
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		matched = append(matched, n)
	}
	total := len(matched)
	out := []*domain.Notification{}
	for i := offset; i < total && len(out) < limit; i++ {
		cp := *matched[i]
		out = append(out, &cp)
	}
	return out, total, nil
}

func (r *memoryNotifications) MarkRead(ctx context.Context, userID, notificationID string) error {
	defer r.s.writeLock(r.tx)()
	for _, n := range r.s.data.notifications {
		if n.NotificationID == notificationID && n.UserID == userID {
			n.IsRead = true
			return nil
		}
	}
	return errors.NotFoundf("notification %s not found", notificationID)
}

func (r *memoryNotifications) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	defer r.s.writeLock(r.tx)()
	var count int64
	for _, n := range r.s.data.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

// ---- profiles ----

type memoryProfiles struct {
	s  *MemoryStore
	tx bool
}

func (r *memoryProfiles) GetActor(ctx context.Context, profileID string) (*domain.Actor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d := r.s.data
	p, ok := d.profiles[profileID]
	if !ok {
		return nil, errors.NotFoundf("profile %s not found", profileID)
	}
	a := &domain.Actor{
		ProfileID: p.ProfileID,
		CompanyID: p.CompanyID,
		Role:      p.Role,
		FullName:  p.FullName,
	}
	for _, c := range d.customers {
		if c.ProfileID == profileID {
			a.CustomerID = c.CustomerID
		}
	}
	for _, tm := range d.teamMembers {
		if tm.ProfileID == profileID {
			a.TeamMemberID = tm.TeamMemberID
		}
	}
	return a, nil
}

func (r *memoryProfiles) ListProfileIDsByRole(ctx context.Context, companyID string, role domain.Role) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := []string{}
	for _, p := range r.s.data.profiles {
		if p.CompanyID == companyID && p.Role == role {
			ids = append(ids, p.ProfileID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memoryProfiles) GetTeamMember(ctx context.Context, teamMemberID string) (*domain.TeamMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tm, ok := r.s.data.teamMembers[teamMemberID]
	if !ok {
		return nil, errors.NotFoundf("team member %s not found", teamMemberID)
	}
	cp := *tm
	return &cp, nil
}

func (r *memoryProfiles) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.data.customers[customerID]
	if !ok {
		return nil, errors.NotFoundf("customer %s not found", customerID)
	}
	cp := *c
	return &cp, nil
}

func (r *memoryProfiles) ServiceTypeExists(ctx context.Context, companyID, serviceTypeID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	owner, ok := r.s.data.serviceTypes[serviceTypeID]
	return ok && owner == companyID, nil
}
