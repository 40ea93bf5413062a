package tenancy

import "time"

// SystemRole is the coarse platform-wide role of a principal.
type SystemRole string

const (
	SystemRoleRoot   SystemRole = "SYSTEM_ROOT"
	SystemRoleSystem SystemRole = "SYSTEM"
	SystemRoleAdmin  SystemRole = "SYSTEM_ADMIN"
	SystemRoleUser   SystemRole = "SYSTEM_USER"
	SystemRoleClient SystemRole = "SYSTEM_CLIENT"
)

var systemRoleRank = map[SystemRole]int{
	SystemRoleRoot:   5,
	SystemRoleSystem: 4,
	SystemRoleAdmin:  3,
	SystemRoleUser:   2,
	SystemRoleClient: 1,
}

// AtLeast reports whether the role ranks at or above the required role.
func (role SystemRole) AtLeast(required SystemRole) bool {
	return systemRoleRank[role] >= systemRoleRank[required]
}

// Principal captures a platform account.
type Principal struct {
	ID          string     `gorm:"column:id;primaryKey;size:36;not null"`
	DisplayName string     `gorm:"column:display_name;size:255;not null"`
	Email       string     `gorm:"column:email;size:320;not null;uniqueIndex"`
	SystemRole  SystemRole `gorm:"column:system_role;size:32;not null"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt   *time.Time `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (Principal) TableName() string {
	return "principals"
}

// Membership binds a principal to an organization. Every document belongs to
// exactly one organization and collaboration access requires a membership row.
type Membership struct {
	OrgID       string    `gorm:"column:org_id;primaryKey;size:36;not null"`
	PrincipalID string    `gorm:"column:principal_id;primaryKey;size:36;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "org_principals"
}
