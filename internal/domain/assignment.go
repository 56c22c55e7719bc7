package domain

import "time"

// AssignmentRole 派工角色
type AssignmentRole string

const (
	AssignmentRoleCleaner    AssignmentRole = "cleaner"
	AssignmentRoleLead       AssignmentRole = "lead"
	AssignmentRoleSupervisor AssignmentRole = "supervisor"
)

// Valid 是否为已知派工角色
func (r AssignmentRole) Valid() bool {
	switch r {
	case AssignmentRoleCleaner, AssignmentRoleLead, AssignmentRoleSupervisor:
		return true
	}
	return false
}

// Assignment 派工记录（对应 job_assignments 表）
// (job_id, team_member_id) 唯一
type Assignment struct {
	AssignmentID string         `json:"id"`
	JobID        string         `json:"job_id"`
	TeamMemberID string         `json:"team_member_id"`
	Role         AssignmentRole `json:"role"`
	AssignedBy   string         `json:"assigned_by,omitempty"`
	AssignedAt   time.Time      `json:"assigned_at"`

	// Assignee 关联的人员资料，仅查询时填充
	Assignee *AssigneeProfile `json:"team_member,omitempty"`
}

// AssigneeProfile 派工人员资料（team_members JOIN profiles）
type AssigneeProfile struct {
	TeamMemberID string `json:"id"`
	ProfileID    string `json:"profile_id"`
	FullName     string `json:"full_name"`
	Email        string `json:"email,omitempty"`
	IsActive     bool   `json:"is_active"`
}
