package rbac

import "time"

// Role levels run 1 (highest privilege) to 5 (lowest). Level 1 roles bypass
// mapping lookups entirely.
type Role struct {
	ID           int64     `gorm:"primaryKey"`
	Code         string    `gorm:"column:code;uniqueIndex;not null"`
	Name         string    `gorm:"column:name;not null"`
	Level        int       `gorm:"column:level;not null"`
	IsSystemRole bool      `gorm:"column:is_system_role;default:false"`
	IsActive     bool      `gorm:"column:is_active;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt    time.Time `gorm:"column:updated_at;default:now()"`
}

func (Role) TableName() string { return "roles" }

type RoleHierarchy struct {
	ID                   int64     `gorm:"primaryKey"`
	ParentRoleID         int64     `gorm:"column:parent_role_id;not null;uniqueIndex:idx_role_hierarchy_edge"`
	ChildRoleID          int64     `gorm:"column:child_role_id;not null;uniqueIndex:idx_role_hierarchy_edge"`
	CanAssign            bool      `gorm:"column:can_assign;not null"`
	CanRevoke            bool      `gorm:"column:can_revoke;not null"`
	CanModifyPermissions bool      `gorm:"column:can_modify_permissions;default:false"`
	CreatedAt            time.Time `gorm:"column:created_at;default:now()"`
}

func (RoleHierarchy) TableName() string { return "role_hierarchies" }

// App is a grantable module boundary. Apps form a tree via ParentAppID.
type App struct {
	ID          int64     `gorm:"primaryKey"`
	Code        string    `gorm:"column:code;uniqueIndex;not null"`
	Name        string    `gorm:"column:name;not null"`
	ParentAppID *int64    `gorm:"column:parent_app_id"`
	IsActive    bool      `gorm:"column:is_active;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt   time.Time `gorm:"column:updated_at;default:now()"`
}

func (App) TableName() string { return "apps" }

type Feature struct {
	ID          int64     `gorm:"primaryKey"`
	AppID       int64     `gorm:"column:app_id;not null;uniqueIndex:idx_features_app_code"`
	Code        string    `gorm:"column:code;not null;uniqueIndex:idx_features_app_code"`
	Name        string    `gorm:"column:name;not null"`
	FeatureType string    `gorm:"column:feature_type;not null"`
	IsActive    bool      `gorm:"column:is_active;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;default:now()"`
}

func (Feature) TableName() string { return "features" }

type RoleAppMapping struct {
	ID        int64     `gorm:"primaryKey"`
	RoleID    int64     `gorm:"column:role_id;not null;uniqueIndex:idx_role_app"`
	AppID     int64     `gorm:"column:app_id;not null;uniqueIndex:idx_role_app"`
	CanView   bool      `gorm:"column:can_view;default:false"`
	CanCreate bool      `gorm:"column:can_create;default:false"`
	CanUpdate bool      `gorm:"column:can_update;default:false"`
	CanDelete bool      `gorm:"column:can_delete;default:false"`
	IsActive  bool      `gorm:"column:is_active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;default:now()"`
}

func (RoleAppMapping) TableName() string { return "role_app_mappings" }

type RoleFeatureMapping struct {
	ID        int64     `gorm:"primaryKey"`
	RoleID    int64     `gorm:"column:role_id;not null;uniqueIndex:idx_role_feature"`
	FeatureID int64     `gorm:"column:feature_id;not null;uniqueIndex:idx_role_feature"`
	CanView   bool      `gorm:"column:can_view;default:false"`
	CanCreate bool      `gorm:"column:can_create;default:false"`
	CanUpdate bool      `gorm:"column:can_update;default:false"`
	CanDelete bool      `gorm:"column:can_delete;default:false"`
	IsActive  bool      `gorm:"column:is_active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;default:now()"`
}

func (RoleFeatureMapping) TableName() string { return "role_feature_mappings" }

// UserRoleAssignment validity is the half-open window [ValidFrom, ValidUntil).
// A nil ValidUntil means unbounded.
type UserRoleAssignment struct {
	ID         int64      `gorm:"primaryKey"`
	UserID     string     `gorm:"column:user_id;not null;index"`
	RoleID     int64      `gorm:"column:role_id;not null;index"`
	IsPrimary  bool       `gorm:"column:is_primary;default:false"`
	ValidFrom  time.Time  `gorm:"column:valid_from;not null"`
	ValidUntil *time.Time `gorm:"column:valid_until"`
	IsActive   bool       `gorm:"column:is_active;not null"`
	AssignedBy string     `gorm:"column:assigned_by"`
	CreatedAt  time.Time  `gorm:"column:created_at;default:now()"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;default:now()"`
}

func (UserRoleAssignment) TableName() string { return "user_role_assignments" }

// ValidAt reports whether the assignment is in its validity window.
func (a UserRoleAssignment) ValidAt(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if now.Before(a.ValidFrom) {
		return false
	}
	if a.ValidUntil != nil && !now.Before(*a.ValidUntil) {
		return false
	}
	return true
}
