package postgres

import (
	"context"
	"time"

	rbacDatamodel "github.com/frahmantamala/access-management/internal/core/datamodel/rbac"
	"github.com/frahmantamala/access-management/internal/rbac"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateRole(ctx context.Context, role *rbacDatamodel.Role) error {
	return r.db.WithContext(ctx).Create(role).Error
}

func (r *Repository) GetRoleByID(ctx context.Context, id int64) (*rbacDatamodel.Role, error) {
	var role rbacDatamodel.Role
	if err := r.db.WithContext(ctx).First(&role, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *Repository) GetRoleByCode(ctx context.Context, code string) (*rbacDatamodel.Role, error) {
	var role rbacDatamodel.Role
	if err := r.db.WithContext(ctx).First(&role, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *Repository) DeactivateRole(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&rbacDatamodel.Role{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()}).Error
}

func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&rbacDatamodel.Role{}, "id = ?", id).Error
}

func (r *Repository) ListHierarchyEdges(ctx context.Context) ([]rbacDatamodel.RoleHierarchy, error) {
	var edges []rbacDatamodel.RoleHierarchy
	if err := r.db.WithContext(ctx).Find(&edges).Error; err != nil {
		return nil, err
	}
	return edges, nil
}

func (r *Repository) CreateHierarchyEdge(ctx context.Context, edge *rbacDatamodel.RoleHierarchy) error {
	return r.db.WithContext(ctx).Create(edge).Error
}

func (r *Repository) GetAppByID(ctx context.Context, id int64) (*rbacDatamodel.App, error) {
	var app rbacDatamodel.App
	if err := r.db.WithContext(ctx).First(&app, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *Repository) GetAppByCode(ctx context.Context, code string) (*rbacDatamodel.App, error) {
	var app rbacDatamodel.App
	if err := r.db.WithContext(ctx).First(&app, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *Repository) GetFeatureByID(ctx context.Context, id int64) (*rbacDatamodel.Feature, error) {
	var feature rbacDatamodel.Feature
	if err := r.db.WithContext(ctx).First(&feature, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &feature, nil
}

func (r *Repository) ListActiveApps(ctx context.Context) ([]rbacDatamodel.App, error) {
	var apps []rbacDatamodel.App
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&apps).Error; err != nil {
		return nil, err
	}
	return apps, nil
}

func (r *Repository) ListActiveFeatures(ctx context.Context) ([]rbac.ActiveFeature, error) {
	var rows []rbac.ActiveFeature
	err := r.db.WithContext(ctx).Raw(`
		SELECT f.id AS feature_id, f.code AS feature_code, f.feature_type,
		       a.id AS app_id, a.code AS app_code
		FROM features f
		JOIN apps a ON a.id = f.app_id
		WHERE f.is_active = true AND a.is_active = true`).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) GetAppMapping(ctx context.Context, roleID, appID int64) (*rbacDatamodel.RoleAppMapping, error) {
	var mapping rbacDatamodel.RoleAppMapping
	if err := r.db.WithContext(ctx).First(&mapping, "role_id = ? AND app_id = ?", roleID, appID).Error; err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (r *Repository) GetFeatureMapping(ctx context.Context, roleID, featureID int64) (*rbacDatamodel.RoleFeatureMapping, error) {
	var mapping rbacDatamodel.RoleFeatureMapping
	if err := r.db.WithContext(ctx).First(&mapping, "role_id = ? AND feature_id = ?", roleID, featureID).Error; err != nil {
		return nil, err
	}
	return &mapping, nil
}

var appMappingConflict = clause.OnConflict{
	Columns: []clause.Column{{Name: "role_id"}, {Name: "app_id"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"can_view", "can_create", "can_update", "can_delete", "is_active", "updated_at",
	}),
}

var featureMappingConflict = clause.OnConflict{
	Columns: []clause.Column{{Name: "role_id"}, {Name: "feature_id"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"can_view", "can_create", "can_update", "can_delete", "is_active", "updated_at",
	}),
}

func (r *Repository) UpsertAppMapping(ctx context.Context, mapping *rbacDatamodel.RoleAppMapping) error {
	mapping.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(appMappingConflict).Create(mapping).Error
}

func (r *Repository) UpsertFeatureMapping(ctx context.Context, mapping *rbacDatamodel.RoleFeatureMapping) error {
	mapping.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(featureMappingConflict).Create(mapping).Error
}

func (r *Repository) BulkUpsertAppMappings(ctx context.Context, mappings []rbacDatamodel.RoleAppMapping) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range mappings {
			mappings[i].UpdatedAt = time.Now()
			if err := tx.Clauses(appMappingConflict).Create(&mappings[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) BulkUpsertFeatureMappings(ctx context.Context, mappings []rbacDatamodel.RoleFeatureMapping) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range mappings {
			mappings[i].UpdatedAt = time.Now()
			if err := tx.Clauses(featureMappingConflict).Create(&mappings[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateAssignment inserts the assignment and, when it is flagged primary,
// clears the primary flag on the user's other assignments in the same
// transaction. At most one valid assignment per user stays primary.
func (r *Repository) CreateAssignment(ctx context.Context, assignment *rbacDatamodel.UserRoleAssignment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if assignment.IsPrimary {
			err := tx.Model(&rbacDatamodel.UserRoleAssignment{}).
				Where("user_id = ? AND is_primary = ?", assignment.UserID, true).
				Update("is_primary", false).Error
			if err != nil {
				return err
			}
		}
		return tx.Create(assignment).Error
	})
}

func (r *Repository) DeactivateAssignment(ctx context.Context, userID string, roleID int64) error {
	return r.db.WithContext(ctx).
		Model(&rbacDatamodel.UserRoleAssignment{}).
		Where("user_id = ? AND role_id = ? AND is_active = ?", userID, roleID, true).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()}).Error
}

func (r *Repository) ListValidAssignments(ctx context.Context, userID string, now time.Time) ([]rbac.AssignmentWithRole, error) {
	var assignments []rbacDatamodel.UserRoleAssignment
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND valid_from <= ? AND (valid_until IS NULL OR valid_until > ?)",
			userID, true, now, now).
		Find(&assignments).Error
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	roleIDs := make([]int64, 0, len(assignments))
	for _, a := range assignments {
		roleIDs = append(roleIDs, a.RoleID)
	}
	var roles []rbacDatamodel.Role
	if err := r.db.WithContext(ctx).Where("id IN ?", roleIDs).Find(&roles).Error; err != nil {
		return nil, err
	}
	rolesByID := make(map[int64]rbacDatamodel.Role, len(roles))
	for _, role := range roles {
		rolesByID[role.ID] = role
	}

	result := make([]rbac.AssignmentWithRole, 0, len(assignments))
	for _, a := range assignments {
		role, ok := rolesByID[a.RoleID]
		if !ok {
			continue
		}
		result = append(result, rbac.AssignmentWithRole{Assignment: a, Role: role})
	}
	return result, nil
}

func (r *Repository) ListAppGrants(ctx context.Context, roleIDs []int64) ([]rbac.AppGrantRow, error) {
	var rows []struct {
		RoleID    int64
		AppID     int64
		AppCode   string
		CanView   bool
		CanCreate bool
		CanUpdate bool
		CanDelete bool
	}
	err := r.db.WithContext(ctx).Raw(`
		SELECT m.role_id, m.app_id, a.code AS app_code,
		       m.can_view, m.can_create, m.can_update, m.can_delete
		FROM role_app_mappings m
		JOIN apps a ON a.id = m.app_id
		WHERE m.role_id IN ? AND m.is_active = true AND a.is_active = true`, roleIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	grants := make([]rbac.AppGrantRow, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, rbac.AppGrantRow{
			RoleID:  row.RoleID,
			AppID:   row.AppID,
			AppCode: row.AppCode,
			Flags: rbac.PermissionFlags{
				CanView:   row.CanView,
				CanCreate: row.CanCreate,
				CanUpdate: row.CanUpdate,
				CanDelete: row.CanDelete,
			},
		})
	}
	return grants, nil
}

func (r *Repository) ListFeatureGrants(ctx context.Context, roleIDs []int64) ([]rbac.FeatureGrantRow, error) {
	var rows []struct {
		RoleID      int64
		FeatureID   int64
		FeatureCode string
		FeatureType string
		AppID       int64
		AppCode     string
		CanView     bool
		CanCreate   bool
		CanUpdate   bool
		CanDelete   bool
	}
	err := r.db.WithContext(ctx).Raw(`
		SELECT m.role_id, m.feature_id, f.code AS feature_code, f.feature_type,
		       f.app_id, a.code AS app_code,
		       m.can_view, m.can_create, m.can_update, m.can_delete
		FROM role_feature_mappings m
		JOIN features f ON f.id = m.feature_id
		JOIN apps a ON a.id = f.app_id
		WHERE m.role_id IN ? AND m.is_active = true AND f.is_active = true AND a.is_active = true`, roleIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	grants := make([]rbac.FeatureGrantRow, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, rbac.FeatureGrantRow{
			RoleID:      row.RoleID,
			FeatureID:   row.FeatureID,
			FeatureCode: row.FeatureCode,
			FeatureType: row.FeatureType,
			AppID:       row.AppID,
			AppCode:     row.AppCode,
			Flags: rbac.PermissionFlags{
				CanView:   row.CanView,
				CanCreate: row.CanCreate,
				CanUpdate: row.CanUpdate,
				CanDelete: row.CanDelete,
			},
		})
	}
	return grants, nil
}
