package rbac

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/frahmantamala/access-management/internal"
)

// Resolver computes capability snapshots from a user's currently-valid role
// assignments. It is read-only and safe to call concurrently.
type Resolver struct {
	repo   RepositoryAPI
	logger *slog.Logger
	now    func() time.Time
}

func NewResolver(repo RepositoryAPI, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger, now: time.Now}
}

// Snapshot resolves the effective capability set for userID. A user with no
// valid assignments gets an empty snapshot: no apps, no implicit access. Any
// level-1 role short-circuits to the super tier.
func (r *Resolver) Snapshot(ctx context.Context, userID string) (*CapabilitySnapshot, error) {
	now := r.now()

	assignments, err := r.repo.ListValidAssignments(ctx, userID, now)
	if err != nil {
		return nil, internal.NewInternalError("failed to load role assignments", err)
	}

	snapshot := &CapabilitySnapshot{
		UserID:     userID,
		Tier:       TierMapped,
		Roles:      []RoleInfo{},
		Apps:       []AppGrant{},
		ResolvedAt: now,
	}

	valid := assignments[:0]
	for _, a := range assignments {
		if !a.Role.IsActive || !a.Assignment.ValidAt(now) {
			continue
		}
		valid = append(valid, a)
	}
	if len(valid) == 0 {
		return snapshot, nil
	}

	roleIDs := make([]int64, 0, len(valid))
	super := false
	for _, a := range valid {
		roleIDs = append(roleIDs, a.Role.ID)
		snapshot.Roles = append(snapshot.Roles, RoleInfo{
			Code:      a.Role.Code,
			Name:      a.Role.Name,
			Level:     a.Role.Level,
			IsPrimary: a.Assignment.IsPrimary,
		})
		if a.Role.Level == SuperuserLevel {
			super = true
		}
	}
	snapshot.PrimaryRole = primaryRoleCode(valid)

	if super {
		snapshot.Tier = TierSuper
		apps, err := r.superGrants(ctx)
		if err != nil {
			return nil, err
		}
		snapshot.Apps = apps
		return snapshot, nil
	}

	apps, err := r.unionGrants(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	snapshot.Apps = apps
	return snapshot, nil
}

// primaryRoleCode picks the assignment flagged is_primary, falling back to
// the most-privileged (lowest level) role. Display only; never feeds the
// capability computation.
func primaryRoleCode(assignments []AssignmentWithRole) string {
	for _, a := range assignments {
		if a.Assignment.IsPrimary {
			return a.Role.Code
		}
	}
	best := assignments[0]
	for _, a := range assignments[1:] {
		if a.Role.Level < best.Role.Level {
			best = a
		}
	}
	return best.Role.Code
}

// unionGrants ORs CRUD flags per app and per feature across all assigned
// roles: a flag is granted if any role grants it.
func (r *Resolver) unionGrants(ctx context.Context, roleIDs []int64) ([]AppGrant, error) {
	appRows, err := r.repo.ListAppGrants(ctx, roleIDs)
	if err != nil {
		return nil, internal.NewInternalError("failed to load app grants", err)
	}
	featureRows, err := r.repo.ListFeatureGrants(ctx, roleIDs)
	if err != nil {
		return nil, internal.NewInternalError("failed to load feature grants", err)
	}

	appFlags := map[string]PermissionFlags{}
	for _, row := range appRows {
		appFlags[row.AppCode] = appFlags[row.AppCode].Union(row.Flags)
	}

	type featureKey struct {
		appCode     string
		featureCode string
	}
	featureFlags := map[featureKey]PermissionFlags{}
	featureTypes := map[featureKey]string{}
	for _, row := range featureRows {
		key := featureKey{appCode: row.AppCode, featureCode: row.FeatureCode}
		featureFlags[key] = featureFlags[key].Union(row.Flags)
		featureTypes[key] = row.FeatureType
		// A feature grant implies the app appears in the snapshot even
		// without an app-level mapping row.
		if _, ok := appFlags[row.AppCode]; !ok {
			appFlags[row.AppCode] = PermissionFlags{}
		}
	}

	featuresByApp := map[string][]FeatureGrant{}
	for key, flags := range featureFlags {
		featuresByApp[key.appCode] = append(featuresByApp[key.appCode], FeatureGrant{
			FeatureCode:     key.featureCode,
			FeatureType:     featureTypes[key],
			PermissionFlags: flags,
		})
	}

	return buildAppGrants(appFlags, featuresByApp), nil
}

// superGrants materializes every active app and feature with all flags set,
// for display parity with mapped snapshots. Authorization for the super tier
// never consults this list.
func (r *Resolver) superGrants(ctx context.Context) ([]AppGrant, error) {
	apps, err := r.repo.ListActiveApps(ctx)
	if err != nil {
		return nil, internal.NewInternalError("failed to load active apps", err)
	}
	features, err := r.repo.ListActiveFeatures(ctx)
	if err != nil {
		return nil, internal.NewInternalError("failed to load active features", err)
	}

	appFlags := make(map[string]PermissionFlags, len(apps))
	for _, app := range apps {
		appFlags[app.Code] = AllPermissions()
	}
	featuresByApp := map[string][]FeatureGrant{}
	for _, f := range features {
		featuresByApp[f.AppCode] = append(featuresByApp[f.AppCode], FeatureGrant{
			FeatureCode:     f.FeatureCode,
			FeatureType:     f.FeatureType,
			PermissionFlags: AllPermissions(),
		})
	}

	return buildAppGrants(appFlags, featuresByApp), nil
}

func buildAppGrants(appFlags map[string]PermissionFlags, featuresByApp map[string][]FeatureGrant) []AppGrant {
	grants := make([]AppGrant, 0, len(appFlags))
	for appCode, flags := range appFlags {
		features := featuresByApp[appCode]
		sort.Slice(features, func(i, j int) bool {
			return features[i].FeatureCode < features[j].FeatureCode
		})
		grants = append(grants, AppGrant{
			AppCode:         appCode,
			PermissionFlags: flags,
			Features:        features,
		})
	}
	sort.Slice(grants, func(i, j int) bool {
		return grants[i].AppCode < grants[j].AppCode
	})
	return grants
}
