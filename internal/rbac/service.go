package rbac

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/frahmantamala/access-management/internal"
	"github.com/frahmantamala/access-management/internal/audit"
	rbacDatamodel "github.com/frahmantamala/access-management/internal/core/datamodel/rbac"
)

// Service owns the role hierarchy store and the permission graph. Hierarchy
// and mapping errors are surfaced verbatim: these are administrative paths
// and safe to be specific.
type Service struct {
	repo     RepositoryAPI
	recorder audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo RepositoryAPI, recorder audit.Recorder, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) CreateRole(ctx context.Context, dto CreateRoleDTO, actor Actor) (*rbacDatamodel.Role, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	if existing, err := s.repo.GetRoleByCode(ctx, dto.Code); err == nil && existing != nil {
		return nil, internal.NewConflictError("role code already exists", internal.ErrCodeValidationFailed)
	}

	role := &rbacDatamodel.Role{
		Code:         dto.Code,
		Name:         dto.Name,
		Level:        dto.Level,
		IsSystemRole: dto.IsSystemRole,
		IsActive:     true,
	}
	if err := s.repo.CreateRole(ctx, role); err != nil {
		return nil, internal.NewInternalError("failed to create role", err)
	}

	if err := s.record(ctx, audit.Entry{
		Action:     audit.ActionRoleCreated,
		EntityType: audit.EntityRole,
		EntityID:   strconv.FormatInt(role.ID, 10),
		New:        role,
	}, actor); err != nil {
		return nil, err
	}
	return role, nil
}

// DeactivateRole soft-disables a role. Existing assignments are kept: the
// resolver treats inactive roles as contributing zero permissions.
func (s *Service) DeactivateRole(ctx context.Context, roleID int64, actor Actor) error {
	role, err := s.repo.GetRoleByID(ctx, roleID)
	if err != nil {
		return internal.ErrRoleNotFound
	}

	if err := s.repo.DeactivateRole(ctx, roleID); err != nil {
		return internal.NewInternalError("failed to deactivate role", err)
	}

	deactivated := *role
	deactivated.IsActive = false
	return s.record(ctx, audit.Entry{
		Action:     audit.ActionRoleDeactivated,
		EntityType: audit.EntityRole,
		EntityID:   strconv.FormatInt(roleID, 10),
		Old:        role,
		New:        deactivated,
	}, actor)
}

func (s *Service) DeleteRole(ctx context.Context, roleID int64, actor Actor) error {
	role, err := s.repo.GetRoleByID(ctx, roleID)
	if err != nil {
		return internal.ErrRoleNotFound
	}
	if role.IsSystemRole {
		return internal.ErrImmutableEntity
	}

	if err := s.repo.DeleteRole(ctx, roleID); err != nil {
		return internal.NewInternalError("failed to delete role", err)
	}

	return s.record(ctx, audit.Entry{
		Action:     audit.ActionRoleDeactivated,
		EntityType: audit.EntityRole,
		EntityID:   strconv.FormatInt(roleID, 10),
		Old:        role,
	}, actor)
}

// AddHierarchyEdge links parent→child. Fails with CycleDetected when the
// child already reaches the parent, and with InvalidLevelOrdering when the
// child outranks the parent (level is 1=highest).
func (s *Service) AddHierarchyEdge(ctx context.Context, dto HierarchyEdgeDTO, actor Actor) error {
	if err := dto.Validate(); err != nil {
		return err
	}

	if dto.ParentRoleID == dto.ChildRoleID {
		return internal.ErrCycleDetected
	}

	parent, err := s.repo.GetRoleByID(ctx, dto.ParentRoleID)
	if err != nil {
		return internal.ErrRoleNotFound
	}
	child, err := s.repo.GetRoleByID(ctx, dto.ChildRoleID)
	if err != nil {
		return internal.ErrRoleNotFound
	}

	if child.Level < parent.Level {
		return internal.ErrInvalidLevelOrdering
	}

	reaches, err := s.IsAncestor(ctx, dto.ChildRoleID, dto.ParentRoleID)
	if err != nil {
		return err
	}
	if reaches {
		return internal.ErrCycleDetected
	}

	edge := &rbacDatamodel.RoleHierarchy{
		ParentRoleID:         dto.ParentRoleID,
		ChildRoleID:          dto.ChildRoleID,
		CanAssign:            dto.CanAssign,
		CanRevoke:            dto.CanRevoke,
		CanModifyPermissions: dto.CanModifyPermissions,
	}
	if err := s.repo.CreateHierarchyEdge(ctx, edge); err != nil {
		return internal.NewInternalError("failed to create hierarchy edge", err)
	}

	return s.record(ctx, audit.Entry{
		Action:     audit.ActionHierarchyEdge,
		EntityType: audit.EntityHierarchy,
		EntityID:   strconv.FormatInt(edge.ID, 10),
		New:        edge,
	}, actor)
}

// IsAncestor walks parent→child edges from ancestorRoleID looking for
// descendantRoleID.
func (s *Service) IsAncestor(ctx context.Context, ancestorRoleID, descendantRoleID int64) (bool, error) {
	edges, err := s.repo.ListHierarchyEdges(ctx)
	if err != nil {
		return false, internal.NewInternalError("failed to load hierarchy edges", err)
	}

	children := make(map[int64][]int64, len(edges))
	for _, e := range edges {
		children[e.ParentRoleID] = append(children[e.ParentRoleID], e.ChildRoleID)
	}

	visited := map[int64]bool{}
	queue := []int64{ancestorRoleID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		for _, next := range children[current] {
			if next == descendantRoleID {
				return true, nil
			}
			queue = append(queue, next)
		}
	}
	return false, nil
}

// MapRoleToApp is an idempotent upsert keyed by (role, app). Re-mapping with
// identical flags is a no-op and produces no additional audit entry.
func (s *Service) MapRoleToApp(ctx context.Context, dto AppMappingDTO, actor Actor) error {
	if err := dto.Validate(); err != nil {
		return err
	}
	if _, err := s.repo.GetRoleByID(ctx, dto.RoleID); err != nil {
		return internal.ErrRoleNotFound
	}
	app, err := s.repo.GetAppByID(ctx, dto.AppID)
	if err != nil {
		return internal.ErrAppNotFound
	}
	if !app.IsActive {
		return internal.ErrAppInactive
	}

	existing, err := s.repo.GetAppMapping(ctx, dto.RoleID, dto.AppID)
	if err == nil && existing != nil && existing.IsActive && flagsOf(existing) == dto.Flags {
		return nil
	}

	mapping := &rbacDatamodel.RoleAppMapping{
		RoleID:    dto.RoleID,
		AppID:     dto.AppID,
		CanView:   dto.Flags.CanView,
		CanCreate: dto.Flags.CanCreate,
		CanUpdate: dto.Flags.CanUpdate,
		CanDelete: dto.Flags.CanDelete,
		IsActive:  true,
	}
	if err := s.repo.UpsertAppMapping(ctx, mapping); err != nil {
		return internal.NewInternalError("failed to upsert app mapping", err)
	}

	return s.record(ctx, audit.Entry{
		Action:     audit.ActionAppMapped,
		EntityType: audit.EntityAppMapping,
		EntityID:   strconv.FormatInt(dto.RoleID, 10) + ":" + strconv.FormatInt(dto.AppID, 10),
		Old:        existing,
		New:        mapping,
	}, actor)
}

func (s *Service) MapRoleToFeature(ctx context.Context, dto FeatureMappingDTO, actor Actor) error {
	if err := dto.Validate(); err != nil {
		return err
	}
	if _, err := s.repo.GetRoleByID(ctx, dto.RoleID); err != nil {
		return internal.ErrRoleNotFound
	}
	feature, err := s.repo.GetFeatureByID(ctx, dto.FeatureID)
	if err != nil {
		return internal.ErrFeatureNotFound
	}
	app, err := s.repo.GetAppByID(ctx, feature.AppID)
	if err != nil {
		return internal.ErrAppNotFound
	}
	if !app.IsActive {
		return internal.ErrAppInactive
	}

	existing, err := s.repo.GetFeatureMapping(ctx, dto.RoleID, dto.FeatureID)
	if err == nil && existing != nil && existing.IsActive && featureFlagsOf(existing) == dto.Flags {
		return nil
	}

	mapping := &rbacDatamodel.RoleFeatureMapping{
		RoleID:    dto.RoleID,
		FeatureID: dto.FeatureID,
		CanView:   dto.Flags.CanView,
		CanCreate: dto.Flags.CanCreate,
		CanUpdate: dto.Flags.CanUpdate,
		CanDelete: dto.Flags.CanDelete,
		IsActive:  true,
	}
	if err := s.repo.UpsertFeatureMapping(ctx, mapping); err != nil {
		return internal.NewInternalError("failed to upsert feature mapping", err)
	}

	return s.record(ctx, audit.Entry{
		Action:     audit.ActionFeatureMapped,
		EntityType: audit.EntityFeatureMapping,
		EntityID:   strconv.FormatInt(dto.RoleID, 10) + ":" + strconv.FormatInt(dto.FeatureID, 10),
		Old:        existing,
		New:        mapping,
	}, actor)
}

// BulkMapApps validates every app id up front; any invalid id rejects the
// whole batch with PartialBatchRejected before a single row is written. The
// writes themselves run in one transaction.
func (s *Service) BulkMapApps(ctx context.Context, dto BulkAppMappingDTO, actor Actor) error {
	if err := dto.Validate(); err != nil {
		return err
	}
	if _, err := s.repo.GetRoleByID(ctx, dto.RoleID); err != nil {
		return internal.ErrRoleNotFound
	}

	var invalid []int64
	mappings := make([]rbacDatamodel.RoleAppMapping, 0, len(dto.AppIDs))
	for _, appID := range dto.AppIDs {
		app, err := s.repo.GetAppByID(ctx, appID)
		if err != nil || !app.IsActive {
			invalid = append(invalid, appID)
			continue
		}
		mappings = append(mappings, rbacDatamodel.RoleAppMapping{
			RoleID:    dto.RoleID,
			AppID:     appID,
			CanView:   dto.Flags.CanView,
			CanCreate: dto.Flags.CanCreate,
			CanUpdate: dto.Flags.CanUpdate,
			CanDelete: dto.Flags.CanDelete,
			IsActive:  true,
		})
	}
	if len(invalid) > 0 {
		return internal.ErrPartialBatchRejected.WithDetails(map[string]interface{}{"invalid_app_ids": invalid})
	}

	if err := s.repo.BulkUpsertAppMappings(ctx, mappings); err != nil {
		return internal.NewInternalError("failed to bulk upsert app mappings", err)
	}

	return s.record(ctx, audit.Entry{
		Action:     audit.ActionBulkAppsMapped,
		EntityType: audit.EntityAppMapping,
		EntityID:   strconv.FormatInt(dto.RoleID, 10),
		New:        dto,
	}, actor)
}

func (s *Service) BulkMapFeatures(ctx context.Context, dto BulkFeatureMappingDTO, actor Actor) error {
	if err := dto.Validate(); err != nil {
		return err
	}
	if _, err := s.repo.GetRoleByID(ctx, dto.RoleID); err != nil {
		return internal.ErrRoleNotFound
	}

	var invalid []int64
	mappings := make([]rbacDatamodel.RoleFeatureMapping, 0, len(dto.FeatureIDs))
	for _, featureID := range dto.FeatureIDs {
		feature, err := s.repo.GetFeatureByID(ctx, featureID)
		if err != nil {
			invalid = append(invalid, featureID)
			continue
		}
		app, err := s.repo.GetAppByID(ctx, feature.AppID)
		if err != nil || !app.IsActive {
			invalid = append(invalid, featureID)
			continue
		}
		mappings = append(mappings, rbacDatamodel.RoleFeatureMapping{
			RoleID:    dto.RoleID,
			FeatureID: featureID,
			CanView:   dto.Flags.CanView,
			CanCreate: dto.Flags.CanCreate,
			CanUpdate: dto.Flags.CanUpdate,
			CanDelete: dto.Flags.CanDelete,
			IsActive:  true,
		})
	}
	if len(invalid) > 0 {
		return internal.ErrPartialBatchRejected.WithDetails(map[string]interface{}{"invalid_feature_ids": invalid})
	}

	if err := s.repo.BulkUpsertFeatureMappings(ctx, mappings); err != nil {
		return internal.NewInternalError("failed to bulk upsert feature mappings", err)
	}

	return s.record(ctx, audit.Entry{
		Action:     audit.ActionBulkFeaturesMapped,
		EntityType: audit.EntityFeatureMapping,
		EntityID:   strconv.FormatInt(dto.RoleID, 10),
		New:        dto,
	}, actor)
}

// AssignRole grants a role to a user. When the actor carries role context,
// the target role must be reachable through a can_assign hierarchy edge from
// one of the actor's roles; level-1 actors skip the check.
func (s *Service) AssignRole(ctx context.Context, dto AssignRoleDTO, actor Actor) error {
	if err := dto.Validate(); err != nil {
		return err
	}
	role, err := s.repo.GetRoleByID(ctx, dto.RoleID)
	if err != nil {
		return internal.ErrRoleNotFound
	}
	if !role.IsActive {
		return internal.NewValidationError("role is inactive", internal.ErrCodeValidationFailed)
	}

	if err := s.checkHierarchyPermission(ctx, actor, dto.RoleID, hierarchyActionAssign); err != nil {
		return err
	}

	validFrom := s.now()
	if dto.ValidFrom != nil {
		validFrom = *dto.ValidFrom
	}
	assignment := &rbacDatamodel.UserRoleAssignment{
		UserID:     dto.UserID,
		RoleID:     dto.RoleID,
		IsPrimary:  dto.IsPrimary,
		ValidFrom:  validFrom,
		ValidUntil: dto.ValidUntil,
		IsActive:   true,
		AssignedBy: actor.UserID,
	}
	// CreateAssignment clears any other primary flag for the user in the same
	// transaction, keeping at most one primary among valid assignments.
	if err := s.repo.CreateAssignment(ctx, assignment); err != nil {
		return internal.NewInternalError("failed to create role assignment", err)
	}

	return s.record(ctx, audit.Entry{
		Action:     audit.ActionRoleAssigned,
		EntityType: audit.EntityAssignment,
		EntityID:   strconv.FormatInt(assignment.ID, 10),
		New:        assignment,
	}, actor)
}

func (s *Service) RevokeRole(ctx context.Context, userID string, roleID int64, actor Actor) error {
	if userID == "" || roleID == 0 {
		return internal.NewValidationError("user_id and role_id are required", internal.ErrCodeValidationFailed)
	}
	if _, err := s.repo.GetRoleByID(ctx, roleID); err != nil {
		return internal.ErrRoleNotFound
	}

	if err := s.checkHierarchyPermission(ctx, actor, roleID, hierarchyActionRevoke); err != nil {
		return err
	}

	if err := s.repo.DeactivateAssignment(ctx, userID, roleID); err != nil {
		return internal.NewInternalError("failed to revoke role assignment", err)
	}

	return s.record(ctx, audit.Entry{
		Action:     audit.ActionRoleRevoked,
		EntityType: audit.EntityAssignment,
		EntityID:   userID + ":" + strconv.FormatInt(roleID, 10),
		Old:        map[string]interface{}{"user_id": userID, "role_id": roleID, "is_active": true},
		New:        map[string]interface{}{"user_id": userID, "role_id": roleID, "is_active": false},
	}, actor)
}

type hierarchyAction int

const (
	hierarchyActionAssign hierarchyAction = iota
	hierarchyActionRevoke
)

func (s *Service) checkHierarchyPermission(ctx context.Context, actor Actor, targetRoleID int64, action hierarchyAction) error {
	if actor.SuperTier || len(actor.RoleIDs) == 0 {
		return nil
	}

	edges, err := s.repo.ListHierarchyEdges(ctx)
	if err != nil {
		return internal.NewInternalError("failed to load hierarchy edges", err)
	}

	type edgeGrant struct {
		child   int64
		allowed bool
	}
	children := make(map[int64][]edgeGrant, len(edges))
	for _, e := range edges {
		allowed := e.CanAssign
		if action == hierarchyActionRevoke {
			allowed = e.CanRevoke
		}
		children[e.ParentRoleID] = append(children[e.ParentRoleID], edgeGrant{child: e.ChildRoleID, allowed: allowed})
	}

	// The target must be reachable through a path whose first hop grants the
	// action; deeper hops inherit the grant.
	visited := map[int64]bool{}
	var queue []int64
	for _, roleID := range actor.RoleIDs {
		for _, g := range children[roleID] {
			if !g.allowed {
				continue
			}
			if g.child == targetRoleID {
				return nil
			}
			queue = append(queue, g.child)
		}
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		for _, g := range children[current] {
			if g.child == targetRoleID {
				return nil
			}
			queue = append(queue, g.child)
		}
	}
	return internal.ErrPermissionDenied
}

func (s *Service) record(ctx context.Context, entry audit.Entry, actor Actor) error {
	entry.PerformedBy = actor.UserID
	entry.IPAddress = actor.IPAddress
	entry.OccurredAt = s.now()
	if err := s.recorder.Record(ctx, entry); err != nil {
		return internal.NewInternalError("failed to write audit entry", err)
	}
	return nil
}

func flagsOf(m *rbacDatamodel.RoleAppMapping) PermissionFlags {
	return PermissionFlags{CanView: m.CanView, CanCreate: m.CanCreate, CanUpdate: m.CanUpdate, CanDelete: m.CanDelete}
}

func featureFlagsOf(m *rbacDatamodel.RoleFeatureMapping) PermissionFlags {
	return PermissionFlags{CanView: m.CanView, CanCreate: m.CanCreate, CanUpdate: m.CanUpdate, CanDelete: m.CanDelete}
}
