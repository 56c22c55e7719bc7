package domain

import "time"

// JobStatus 工单状态
type JobStatus string

const (
	JobStatusScheduled  JobStatus = "scheduled"
	JobStatusInProgress JobStatus = "in-progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusIssue      JobStatus = "issue"
)

// JobPriority 工单优先级
type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityMedium JobPriority = "medium"
	PriorityHigh   JobPriority = "high"
	PriorityUrgent JobPriority = "urgent"
)

// DateLayout scheduled_date 格式
const DateLayout = "2006-01-02"

// TimeLayout scheduled_time 格式
const TimeLayout = "15:04"

// Job 工单领域模型（对应 jobs 表）
type Job struct {
	JobID               string      `json:"id"`
	CompanyID           string      `json:"company_id"`
	CustomerID          string      `json:"customer_id"`
	ServiceTypeID       string      `json:"service_type_id"`
	Title               string      `json:"title"`
	Description         string      `json:"description,omitempty"`
	ServiceAddress      string      `json:"service_address"`
	ScheduledDate       string      `json:"scheduled_date"`               // YYYY-MM-DD
	ScheduledTime       string      `json:"scheduled_time"`               // HH:MM
	EstimatedDuration   *int        `json:"estimated_duration,omitempty"` // minutes
	Status              JobStatus   `json:"status"`
	Priority            JobPriority `json:"priority"`
	SpecialInstructions string      `json:"special_instructions,omitempty"`
	EstimatedPrice      *float64    `json:"estimated_price,omitempty"`
	FinalPrice          *float64    `json:"final_price,omitempty"`
	CreatedBy           string      `json:"created_by"`
	AssignedManagerID   string      `json:"assigned_manager_id,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`

	Items []JobItem `json:"items,omitempty"`
}

// JobItem 工单明细（对应 job_items 表），随工单一起创建
type JobItem struct {
	ItemID      string  `json:"id"`
	JobID       string  `json:"job_id"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// IsTerminal completed / cancelled 之后工单只读
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// Valid 是否为已知状态
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusScheduled, JobStatusInProgress, JobStatusCompleted, JobStatusCancelled, JobStatusIssue:
		return true
	}
	return false
}

// Valid 是否为已知优先级
func (p JobPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// jobTransitions 合法状态迁移
// issue 可恢复为 in-progress 或取消，不能直接完成
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusScheduled:  {JobStatusInProgress, JobStatusCancelled, JobStatusIssue},
	JobStatusInProgress: {JobStatusCompleted, JobStatusCancelled, JobStatusIssue},
	JobStatusIssue:      {JobStatusInProgress, JobStatusCancelled},
}

// CanTransition 判断 from -> to 是否合法；相同状态视为无变化，非终态时允许
func CanTransition(from, to JobStatus) bool {
	if !to.Valid() {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseScheduledDate 解析 scheduled_date
func ParseScheduledDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
