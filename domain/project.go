package domain

import "time"

// Role is a project membership role. Roles are ordered by privilege;
// compare with AtLeast rather than string equality.
type Role string

const (
	RoleViewer Role = "VIEWER"
	RoleMember Role = "MEMBER"
	RoleAdmin  Role = "ADMIN"
	RoleOwner  Role = "OWNER"
)

var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleMember: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r carries at least the privilege of other.
// Unknown roles rank below every known role.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectArchived  ProjectStatus = "ARCHIVED"
	ProjectCompleted ProjectStatus = "COMPLETED"
)

// ProjectMember ties a user to a project with a role.
type ProjectMember struct {
	UserID   string    `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ProjectSettings carries per-project behaviour flags. TaskPrefix mirrors
// the project key unless explicitly overridden.
type ProjectSettings struct {
	Visibility        bool   `json:"visibility"`
	ExternalSharing   bool   `json:"externalSharing"`
	DefaultAssigneeID string `json:"defaultAssigneeId,omitempty"`
	TaskPrefix        string `json:"taskPrefix"`
}

// Project is a workspace grouping tasks and members. Exactly one member
// holds RoleOwner at all times and the key is globally unique and immutable.
type Project struct {
	ID          string          `json:"id"`
	Key         string          `json:"key"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Status      ProjectStatus   `json:"status"`
	OwnerID     string          `json:"ownerId"`
	Members     []ProjectMember `json:"members"`
	Settings    ProjectSettings `json:"settings"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Member returns the membership entry for userID, if any.
func (p *Project) Member(userID string) (ProjectMember, bool) {
	for _, m := range p.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return ProjectMember{}, false
}

// RoleOf returns the role userID holds on the project, or "" for non-members.
func (p *Project) RoleOf(userID string) Role {
	if m, ok := p.Member(userID); ok {
		return m.Role
	}
	return ""
}
