package audit

import (
	"context"
	"time"
)

// Entry is one authorization-relevant state change. Old and New are
// structured snapshots serialized by the recorder.
type Entry struct {
	Action      string
	EntityType  string
	EntityID    string
	Old         interface{}
	New         interface{}
	PerformedBy string
	IPAddress   string
	OccurredAt  time.Time
}

// Recorder appends entries to the audit log. Record is synchronous: callers
// must not return their response until the entry is written.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// RepositoryAPI is the persistence contract for audit entries. Append-only:
// there is deliberately no update or delete.
type RepositoryAPI interface {
	Append(ctx context.Context, entry Entry) error
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]Entry, error)
}

const (
	ActionLogin            = "auth.login"
	ActionLoginFailed      = "auth.login_failed"
	ActionLogout           = "auth.logout"
	ActionLogoutAll        = "auth.logout_all"
	ActionTokenRefresh     = "auth.token_refresh"
	ActionSessionSupersede = "session.superseded"
	ActionLockoutEscalated = "lockout.escalated"
	ActionAccountBlocked   = "lockout.blocked"
	ActionAccountUnblocked = "lockout.unblocked"

	ActionRoleCreated        = "rbac.role_created"
	ActionRoleDeactivated    = "rbac.role_deactivated"
	ActionHierarchyEdge      = "rbac.hierarchy_edge_added"
	ActionRoleAssigned       = "rbac.role_assigned"
	ActionRoleRevoked        = "rbac.role_revoked"
	ActionAppMapped          = "rbac.app_mapped"
	ActionFeatureMapped      = "rbac.feature_mapped"
	ActionBulkAppsMapped     = "rbac.apps_bulk_mapped"
	ActionBulkFeaturesMapped = "rbac.features_bulk_mapped"
)

const (
	EntityRole           = "role"
	EntityHierarchy      = "role_hierarchy"
	EntityAssignment     = "user_role_assignment"
	EntityAppMapping     = "role_app_mapping"
	EntityFeatureMapping = "role_feature_mapping"
	EntitySession        = "session"
	EntityLockout        = "lockout_record"
	EntityUser           = "user"
)
