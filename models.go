package orgchart

import (
	"time"

	"gorm.io/gorm"
)

// RootParentID is the parent reference carried by root departments.
const RootParentID = -1

// Department represents one node of the organization (e.g., Sales, HR).
type Department struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Name       string         `gorm:"size:255;not null;index" json:"name"`
	ParentID   int            `gorm:"not null;default:-1;index" json:"parent_id"`
	DirectorID uint           `gorm:"not null;default:0;index" json:"director_id"`
	SortValue  int            `gorm:"not null;default:0" json:"sort_value"`
	RoleID     uint           `gorm:"not null;default:0" json:"role_id"` // Backing identity role
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsRoot reports whether the department sits at the top of a tree.
func (d Department) IsRoot() bool {
	return d.ParentID == RootParentID
}

// Employee is a member of at most one department.
type Employee struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Username           string         `gorm:"size:255;not null;index" json:"username"`
	Email              string         `gorm:"size:255;not null;index" json:"email"`
	Nickname           string         `gorm:"size:255;not null;default:''" json:"nickname"`
	Mobile             string         `gorm:"size:64;not null;default:''" json:"mobile"`
	Sex                string         `gorm:"size:16;not null;default:''" json:"sex"`
	PositionName       string         `gorm:"size:255;not null;default:''" json:"position_name"`
	DepartmentID       uint           `gorm:"not null;default:0;index" json:"department_id"` // 0 = unassigned
	DirectSupervisorID uint           `gorm:"not null;default:0;index" json:"direct_supervisor_id"`
	Block              bool           `gorm:"not null;default:false" json:"block"`
	IdentityUID        uint           `gorm:"not null;default:0;index" json:"identity_uid"`
	RoleID             uint           `gorm:"not null;default:0" json:"role_id"`
	LastLogin          *time.Time     `json:"last_login"`
	EntryDate          *time.Time     `json:"entry_date"`
	LeaveDate          *time.Time     `json:"leave_date"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

// AuditLog tracks department and employee mutations.
type AuditLog struct {
	ID         uint   `gorm:"primaryKey"`
	ActorUID   uint   `gorm:"index;not null;default:0"`
	Action     string `gorm:"not null"`
	TargetType string `gorm:"not null;index"`
	TargetID   uint   `gorm:"index;not null"`
	Details    string
	CreatedAt  time.Time
}

// IntentStatus is the lifecycle state of a saga intent.
type IntentStatus string

const (
	IntentPending  IntentStatus = "pending"
	IntentDone     IntentStatus = "done"
	IntentFailed   IntentStatus = "failed"
	IntentAborted  IntentStatus = "aborted"
	IntentOrphaned IntentStatus = "orphaned"
)

// IntentKind names the identity call an intent guards.
type IntentKind string

const (
	IntentRoleCreate IntentKind = "role.create"
	IntentRoleRename IntentKind = "role.rename"
	IntentRoleDelete IntentKind = "role.delete"
)

// Intent is the durable record written before a role call so that a crash
// between the call and the local write can be detected and replayed.
type Intent struct {
	ID           string       `gorm:"primaryKey;size:36"`
	Kind         IntentKind   `gorm:"size:32;not null;index"`
	Status       IntentStatus `gorm:"size:16;not null;index"`
	DepartmentID uint         `gorm:"not null;default:0"`
	RoleID       uint         `gorm:"not null;default:0"`
	Name         string       `gorm:"size:255"`
	Attempts     int          `gorm:"not null;default:0"`
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OutboxStatus is the delivery state of an outbox event.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxSent       OutboxStatus = "sent"
	OutboxFailed     OutboxStatus = "failed"
	OutboxDead       OutboxStatus = "dead"
)

// OutboxEvent is an outbound notification stored in the same database as the
// change that produced it.
type OutboxEvent struct {
	ID          string       `gorm:"primaryKey;size:36"`
	EventType   string       `gorm:"size:64;not null;index"`
	Payload     string       `gorm:"type:text;not null"`
	Status      OutboxStatus `gorm:"size:16;not null;index"`
	RetryCount  int          `gorm:"not null;default:0"`
	MaxRetries  int          `gorm:"not null;default:5"`
	LastError   string
	NextRetryAt *time.Time `gorm:"index"`
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AllModels lists every table owned by this package, in migration order.
func AllModels() []any {
	return []any{&Department{}, &Employee{}, &AuditLog{}, &Intent{}, &OutboxEvent{}}
}
