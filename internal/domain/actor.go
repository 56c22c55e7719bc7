package domain

// Role 用户角色
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleCustomer Role = "customer"
	RoleTeam     Role = "team"
)

// IsPrivileged admin / manager
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleManager
}

// Profile 用户资料（对应 profiles 表）
type Profile struct {
	ProfileID string `json:"id"`
	CompanyID string `json:"company_id"`
	Role      Role   `json:"role"`
	FullName  string `json:"full_name"`
	Email     string `json:"email,omitempty"`
}

// TeamMember 员工（对应 team_members 表）
type TeamMember struct {
	TeamMemberID string `json:"id"`
	CompanyID    string `json:"company_id"`
	ProfileID    string `json:"profile_id"`
	IsActive     bool   `json:"is_active"`
}

// Customer 客户（对应 customers 表）
type Customer struct {
	CustomerID string `json:"id"`
	CompanyID  string `json:"company_id"`
	ProfileID  string `json:"profile_id,omitempty"`
	Name       string `json:"name"`
}

// Actor 当前请求的调用者：profile 加上它拥有的客户 / 员工记录
// CustomerID / TeamMemberID 不存在时为空串
type Actor struct {
	ProfileID    string
	CompanyID    string
	Role         Role
	FullName     string
	CustomerID   string
	TeamMemberID string
}
