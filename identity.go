package orgchart

import (
	"context"
	"errors"
	"time"
)

// ErrRoleNotFound is returned by a RoleService when the role no longer exists.
var ErrRoleNotFound = errors.New("role not found")

// Role is a role owned by the identity service.
type Role struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// RoleService provisions the identity role that backs every department.
type RoleService interface {
	CreateRole(ctx context.Context, name string) (Role, error)
	UpdateRole(ctx context.Context, id uint, name string) error
	DeleteRole(ctx context.Context, id uint) error
}

// User is the identity-side account of an employee.
type User struct {
	UID       uint       `json:"uid"`
	RoleID    uint       `json:"rid"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Nickname  string     `json:"nickname"`
	Mobile    string     `json:"mobile"`
	Block     bool       `json:"block"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// UserService manages identity accounts.
type UserService interface {
	CreateUser(ctx context.Context, u User) (User, error)
	EditUser(ctx context.Context, u User) error
	GetUserInfo(ctx context.Context, uid uint) (User, error)
	ListUsers(ctx context.Context, uids []uint) ([]User, error)
}

// MembershipMove is one employee leaving a department.
type MembershipMove struct {
	EmployeeID       uint `json:"employee_id"`
	RoleID           uint `json:"role_id"`
	FromDepartmentID uint `json:"from_department_id"`
}

// MembershipChange tells the identity service that employees changed department.
type MembershipChange struct {
	EventID        string           `json:"event_id"`
	ToDepartmentID uint             `json:"to_department_id"`
	ToRoleID       uint             `json:"to_role_id"`
	Moves          []MembershipMove `json:"moves"`
}

// Notifier receives membership changes. Implementations must tolerate
// receiving the same EventID more than once.
type Notifier interface {
	NotifyMembership(ctx context.Context, change MembershipChange) error
}
