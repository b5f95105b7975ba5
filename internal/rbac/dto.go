package rbac

import (
	"time"

	"github.com/frahmantamala/access-management/internal"
)

type CreateRoleDTO struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	Level        int    `json:"level"`
	IsSystemRole bool   `json:"is_system_role"`
}

func (d CreateRoleDTO) Validate() error {
	if d.Code == "" {
		return internal.NewValidationFieldError("code", "code is required", internal.ErrCodeValidationFailed)
	}
	if d.Name == "" {
		return internal.NewValidationFieldError("name", "name is required", internal.ErrCodeValidationFailed)
	}
	if d.Level < 1 || d.Level > 5 {
		return internal.NewValidationFieldError("level", "level must be between 1 and 5", internal.ErrCodeValidationFailed)
	}
	return nil
}

type HierarchyEdgeDTO struct {
	ParentRoleID         int64 `json:"parent_role_id"`
	ChildRoleID          int64 `json:"child_role_id"`
	CanAssign            bool  `json:"can_assign"`
	CanRevoke            bool  `json:"can_revoke"`
	CanModifyPermissions bool  `json:"can_modify_permissions"`
}

func (d HierarchyEdgeDTO) Validate() error {
	if d.ParentRoleID == 0 {
		return internal.NewValidationFieldError("parent_role_id", "parent_role_id is required", internal.ErrCodeValidationFailed)
	}
	if d.ChildRoleID == 0 {
		return internal.NewValidationFieldError("child_role_id", "child_role_id is required", internal.ErrCodeValidationFailed)
	}
	return nil
}

type AppMappingDTO struct {
	RoleID int64           `json:"role_id"`
	AppID  int64           `json:"app_id"`
	Flags  PermissionFlags `json:"flags"`
}

func (d AppMappingDTO) Validate() error {
	if d.RoleID == 0 {
		return internal.NewValidationFieldError("role_id", "role_id is required", internal.ErrCodeValidationFailed)
	}
	if d.AppID == 0 {
		return internal.NewValidationFieldError("app_id", "app_id is required", internal.ErrCodeValidationFailed)
	}
	return nil
}

type FeatureMappingDTO struct {
	RoleID    int64           `json:"role_id"`
	FeatureID int64           `json:"feature_id"`
	Flags     PermissionFlags `json:"flags"`
}

func (d FeatureMappingDTO) Validate() error {
	if d.RoleID == 0 {
		return internal.NewValidationFieldError("role_id", "role_id is required", internal.ErrCodeValidationFailed)
	}
	if d.FeatureID == 0 {
		return internal.NewValidationFieldError("feature_id", "feature_id is required", internal.ErrCodeValidationFailed)
	}
	return nil
}

// BulkAppMappingDTO applies one shared flag set to several apps,
// all-or-nothing.
type BulkAppMappingDTO struct {
	RoleID int64           `json:"role_id"`
	AppIDs []int64         `json:"app_ids"`
	Flags  PermissionFlags `json:"flags"`
}

func (d BulkAppMappingDTO) Validate() error {
	if d.RoleID == 0 {
		return internal.NewValidationFieldError("role_id", "role_id is required", internal.ErrCodeValidationFailed)
	}
	if len(d.AppIDs) == 0 {
		return internal.NewValidationFieldError("app_ids", "app_ids must not be empty", internal.ErrCodeValidationFailed)
	}
	return nil
}

type BulkFeatureMappingDTO struct {
	RoleID     int64           `json:"role_id"`
	FeatureIDs []int64         `json:"feature_ids"`
	Flags      PermissionFlags `json:"flags"`
}

func (d BulkFeatureMappingDTO) Validate() error {
	if d.RoleID == 0 {
		return internal.NewValidationFieldError("role_id", "role_id is required", internal.ErrCodeValidationFailed)
	}
	if len(d.FeatureIDs) == 0 {
		return internal.NewValidationFieldError("feature_ids", "feature_ids must not be empty", internal.ErrCodeValidationFailed)
	}
	return nil
}

type AssignRoleDTO struct {
	UserID     string     `json:"user_id"`
	RoleID     int64      `json:"role_id"`
	IsPrimary  bool       `json:"is_primary"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

func (d AssignRoleDTO) Validate() error {
	if d.UserID == "" {
		return internal.NewValidationFieldError("user_id", "user_id is required", internal.ErrCodeValidationFailed)
	}
	if d.RoleID == 0 {
		return internal.NewValidationFieldError("role_id", "role_id is required", internal.ErrCodeValidationFailed)
	}
	if d.ValidFrom != nil && d.ValidUntil != nil && !d.ValidFrom.Before(*d.ValidUntil) {
		return internal.NewValidationFieldError("valid_until", "valid_until must be after valid_from", internal.ErrCodeValidationFailed)
	}
	return nil
}
