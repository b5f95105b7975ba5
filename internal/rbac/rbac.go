package rbac

import (
	"context"
	"time"

	rbacDatamodel "github.com/frahmantamala/access-management/internal/core/datamodel/rbac"
)

// Tier tags how a snapshot was produced: level-1 roles short-circuit mapping
// lookups entirely, everything else is the union of mapping rows.
type Tier string

const (
	TierSuper  Tier = "super"
	TierMapped Tier = "mapped"
)

// Permission names one CRUD flag.
type Permission string

const (
	PermissionView   Permission = "view"
	PermissionCreate Permission = "create"
	PermissionUpdate Permission = "update"
	PermissionDelete Permission = "delete"
)

const (
	FeatureTypeView    = "VIEW"
	FeatureTypeAction  = "ACTION"
	FeatureTypeReport  = "REPORT"
	FeatureTypeSetting = "SETTING"
)

// SuperuserLevel is the role level that grants every flag on every active app
// and feature without consulting mappings.
const SuperuserLevel = 1

// PermissionFlags is a fixed record of the four CRUD booleans. Keeping it a
// struct makes union-merge and equality well-defined.
type PermissionFlags struct {
	CanView   bool `json:"can_view"`
	CanCreate bool `json:"can_create"`
	CanUpdate bool `json:"can_update"`
	CanDelete bool `json:"can_delete"`
}

// Union combines two flag sets with per-flag logical OR.
func (f PermissionFlags) Union(o PermissionFlags) PermissionFlags {
	return PermissionFlags{
		CanView:   f.CanView || o.CanView,
		CanCreate: f.CanCreate || o.CanCreate,
		CanUpdate: f.CanUpdate || o.CanUpdate,
		CanDelete: f.CanDelete || o.CanDelete,
	}
}

func (f PermissionFlags) Has(p Permission) bool {
	switch p {
	case PermissionView:
		return f.CanView
	case PermissionCreate:
		return f.CanCreate
	case PermissionUpdate:
		return f.CanUpdate
	case PermissionDelete:
		return f.CanDelete
	}
	return false
}

func AllPermissions() PermissionFlags {
	return PermissionFlags{CanView: true, CanCreate: true, CanUpdate: true, CanDelete: true}
}

// RoleInfo is the display shape of an assigned role inside a snapshot.
type RoleInfo struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Level     int    `json:"level"`
	IsPrimary bool   `json:"is_primary"`
}

type FeatureGrant struct {
	FeatureCode string `json:"feature_code"`
	FeatureType string `json:"feature_type"`
	PermissionFlags
}

type AppGrant struct {
	AppCode string `json:"app_code"`
	PermissionFlags
	Features []FeatureGrant `json:"features,omitempty"`
}

// CapabilitySnapshot is the resolved, immutable permission set for a
// principal at a point in time. It is embedded into access tokens and can be
// re-resolved live after administrative permission changes.
type CapabilitySnapshot struct {
	UserID      string     `json:"user_id"`
	Tier        Tier       `json:"tier"`
	Roles       []RoleInfo `json:"roles"`
	PrimaryRole string     `json:"primary_role,omitempty"`
	Apps        []AppGrant `json:"apps"`
	ResolvedAt  time.Time  `json:"resolved_at"`
}

// RoleCodes lists the snapshot's role codes for token claims.
func (s CapabilitySnapshot) RoleCodes() []string {
	codes := make([]string, 0, len(s.Roles))
	for _, r := range s.Roles {
		codes = append(codes, r.Code)
	}
	return codes
}

// Allows answers "does this principal have permission p on appCode
// (optionally scoped to featureCode)". The super tier allows everything;
// with no valid assignments the snapshot has no apps and denies everything.
func (s CapabilitySnapshot) Allows(appCode, featureCode string, p Permission) bool {
	if s.Tier == TierSuper {
		return true
	}
	for _, app := range s.Apps {
		if app.AppCode != appCode {
			continue
		}
		if featureCode == "" {
			return app.Has(p)
		}
		for _, feat := range app.Features {
			if feat.FeatureCode == featureCode {
				return feat.Has(p)
			}
		}
		return false
	}
	return false
}

// AssignmentWithRole joins a user role assignment with its role row.
type AssignmentWithRole struct {
	Assignment rbacDatamodel.UserRoleAssignment
	Role       rbacDatamodel.Role
}

// AppGrantRow is an active role→app mapping joined with its active app.
type AppGrantRow struct {
	RoleID  int64
	AppID   int64
	AppCode string
	Flags   PermissionFlags
}

// FeatureGrantRow is an active role→feature mapping joined with its feature
// and the feature's active app.
type FeatureGrantRow struct {
	RoleID      int64
	FeatureID   int64
	FeatureCode string
	FeatureType string
	AppID       int64
	AppCode     string
	Flags       PermissionFlags
}

// ActiveFeature is a feature of an active app, used for super-tier snapshots.
type ActiveFeature struct {
	FeatureID   int64
	FeatureCode string
	FeatureType string
	AppID       int64
	AppCode     string
}

// RepositoryAPI is the persistence contract for roles, hierarchy edges, apps,
// features, mappings and assignments.
type RepositoryAPI interface {
	CreateRole(ctx context.Context, role *rbacDatamodel.Role) error
	GetRoleByID(ctx context.Context, id int64) (*rbacDatamodel.Role, error)
	GetRoleByCode(ctx context.Context, code string) (*rbacDatamodel.Role, error)
	DeactivateRole(ctx context.Context, id int64) error
	DeleteRole(ctx context.Context, id int64) error

	ListHierarchyEdges(ctx context.Context) ([]rbacDatamodel.RoleHierarchy, error)
	CreateHierarchyEdge(ctx context.Context, edge *rbacDatamodel.RoleHierarchy) error

	GetAppByID(ctx context.Context, id int64) (*rbacDatamodel.App, error)
	GetAppByCode(ctx context.Context, code string) (*rbacDatamodel.App, error)
	GetFeatureByID(ctx context.Context, id int64) (*rbacDatamodel.Feature, error)
	ListActiveApps(ctx context.Context) ([]rbacDatamodel.App, error)
	ListActiveFeatures(ctx context.Context) ([]ActiveFeature, error)

	GetAppMapping(ctx context.Context, roleID, appID int64) (*rbacDatamodel.RoleAppMapping, error)
	GetFeatureMapping(ctx context.Context, roleID, featureID int64) (*rbacDatamodel.RoleFeatureMapping, error)
	UpsertAppMapping(ctx context.Context, mapping *rbacDatamodel.RoleAppMapping) error
	UpsertFeatureMapping(ctx context.Context, mapping *rbacDatamodel.RoleFeatureMapping) error
	// Bulk upserts run inside one transaction: all rows or none.
	BulkUpsertAppMappings(ctx context.Context, mappings []rbacDatamodel.RoleAppMapping) error
	BulkUpsertFeatureMappings(ctx context.Context, mappings []rbacDatamodel.RoleFeatureMapping) error

	CreateAssignment(ctx context.Context, assignment *rbacDatamodel.UserRoleAssignment) error
	DeactivateAssignment(ctx context.Context, userID string, roleID int64) error
	ListValidAssignments(ctx context.Context, userID string, now time.Time) ([]AssignmentWithRole, error)

	ListAppGrants(ctx context.Context, roleIDs []int64) ([]AppGrantRow, error)
	ListFeatureGrants(ctx context.Context, roleIDs []int64) ([]FeatureGrantRow, error)
}

// ResolverAPI computes capability snapshots. Pure read path, trivially
// parallel across users.
type ResolverAPI interface {
	Snapshot(ctx context.Context, userID string) (*CapabilitySnapshot, error)
}

// ServiceAPI is the administrative surface of the role hierarchy and
// permission graph.
type ServiceAPI interface {
	CreateRole(ctx context.Context, dto CreateRoleDTO, actor Actor) (*rbacDatamodel.Role, error)
	DeactivateRole(ctx context.Context, roleID int64, actor Actor) error
	DeleteRole(ctx context.Context, roleID int64, actor Actor) error
	AddHierarchyEdge(ctx context.Context, dto HierarchyEdgeDTO, actor Actor) error
	IsAncestor(ctx context.Context, ancestorRoleID, descendantRoleID int64) (bool, error)

	MapRoleToApp(ctx context.Context, dto AppMappingDTO, actor Actor) error
	MapRoleToFeature(ctx context.Context, dto FeatureMappingDTO, actor Actor) error
	BulkMapApps(ctx context.Context, dto BulkAppMappingDTO, actor Actor) error
	BulkMapFeatures(ctx context.Context, dto BulkFeatureMappingDTO, actor Actor) error

	AssignRole(ctx context.Context, dto AssignRoleDTO, actor Actor) error
	RevokeRole(ctx context.Context, userID string, roleID int64, actor Actor) error
}

// Actor identifies who performs an administrative mutation, for audit trails
// and hierarchy checks.
type Actor struct {
	UserID    string
	IPAddress string
	// RoleIDs of the actor's currently-valid roles; empty means the check is
	// skipped (trusted internal caller, e.g. the seeder).
	RoleIDs []int64
	// SuperTier is true when any of the actor's roles is level 1.
	SuperTier bool
}
