package rbac

import (
	"context"
	"time"

	rbacDatamodel "github.com/frahmantamala/access-management/internal/core/datamodel/rbac"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = ginkgo.Describe("Resolver", func() {
	var (
		ctx      context.Context
		repo     *mockRepository
		resolver *Resolver
		current  time.Time

		superRole, adminRole, viewerRole, editorRole *rbacDatamodel.Role
		billing, reporting, archived                 *rbacDatamodel.App
		invoices, refunds, export                    *rbacDatamodel.Feature
	)

	assign := func(userID string, role *rbacDatamodel.Role, primary bool) *rbacDatamodel.UserRoleAssignment {
		repo.nextAssignmentID++
		a := &rbacDatamodel.UserRoleAssignment{
			ID:        repo.nextAssignmentID,
			UserID:    userID,
			RoleID:    role.ID,
			IsPrimary: primary,
			ValidFrom: current.Add(-time.Hour),
			IsActive:  true,
		}
		repo.assignments = append(repo.assignments, a)
		return a
	}

	mapApp := func(role *rbacDatamodel.Role, app *rbacDatamodel.App, flags PermissionFlags) {
		repo.appMappings[[2]int64{role.ID, app.ID}] = &rbacDatamodel.RoleAppMapping{
			RoleID:    role.ID,
			AppID:     app.ID,
			CanView:   flags.CanView,
			CanCreate: flags.CanCreate,
			CanUpdate: flags.CanUpdate,
			CanDelete: flags.CanDelete,
			IsActive:  true,
		}
	}

	mapFeature := func(role *rbacDatamodel.Role, feature *rbacDatamodel.Feature, flags PermissionFlags) {
		repo.featMappings[[2]int64{role.ID, feature.ID}] = &rbacDatamodel.RoleFeatureMapping{
			RoleID:    role.ID,
			FeatureID: feature.ID,
			CanView:   flags.CanView,
			CanCreate: flags.CanCreate,
			CanUpdate: flags.CanUpdate,
			CanDelete: flags.CanDelete,
			IsActive:  true,
		}
	}

	findApp := func(snapshot *CapabilitySnapshot, code string) *AppGrant {
		for i := range snapshot.Apps {
			if snapshot.Apps[i].AppCode == code {
				return &snapshot.Apps[i]
			}
		}
		return nil
	}

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		repo = newMockRepository()
		current = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
		resolver = NewResolver(repo, testLogger())
		resolver.now = func() time.Time { return current }

		superRole = repo.addRole("SUPER_ADMIN", 1, true, true)
		adminRole = repo.addRole("ADMIN", 2, false, true)
		viewerRole = repo.addRole("VIEWER", 3, false, true)
		editorRole = repo.addRole("EDITOR", 3, false, true)

		billing = repo.addApp("BILLING", true)
		reporting = repo.addApp("REPORTING", true)
		archived = repo.addApp("ARCHIVED", false)

		invoices = repo.addFeature(billing.ID, "INVOICES", FeatureTypeView)
		refunds = repo.addFeature(billing.ID, "REFUNDS", FeatureTypeAction)
		export = repo.addFeature(reporting.ID, "EXPORT", FeatureTypeAction)
		repo.addFeature(archived.ID, "LEGACY", FeatureTypeAction)
	})

	ginkgo.Describe("users without valid assignments", func() {
		ginkgo.It("should resolve an empty snapshot that denies everything", func() {
			snapshot, err := resolver.Snapshot(ctx, "nobody")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.Tier).To(gomega.Equal(TierMapped))
			gomega.Expect(snapshot.Roles).To(gomega.BeEmpty())
			gomega.Expect(snapshot.Apps).To(gomega.BeEmpty())
			gomega.Expect(snapshot.Allows("BILLING", "", PermissionView)).To(gomega.BeFalse())
		})

		ginkgo.It("should exclude assignments to inactive roles", func() {
			retired := repo.addRole("RETIRED", 3, false, false)
			assign("user-1", retired, false)

			snapshot, err := resolver.Snapshot(ctx, "user-1")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.Roles).To(gomega.BeEmpty())
		})

		ginkgo.It("should exclude assignments outside their validity window", func() {
			expired := assign("user-1", viewerRole, false)
			until := current.Add(-time.Minute)
			expired.ValidUntil = &until

			pending := assign("user-1", editorRole, false)
			pending.ValidFrom = current.Add(time.Hour)

			snapshot, err := resolver.Snapshot(ctx, "user-1")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.Roles).To(gomega.BeEmpty())
			gomega.Expect(snapshot.Apps).To(gomega.BeEmpty())
		})
	})

	ginkgo.Describe("superuser short-circuit", func() {
		ginkgo.It("should allow everything for any level-1 role", func() {
			assign("root-1", superRole, true)

			snapshot, err := resolver.Snapshot(ctx, "root-1")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.Tier).To(gomega.Equal(TierSuper))
			gomega.Expect(snapshot.Allows("BILLING", "", PermissionDelete)).To(gomega.BeTrue())
			gomega.Expect(snapshot.Allows("UNKNOWN_APP", "UNKNOWN_FEATURE", PermissionCreate)).To(gomega.BeTrue())
		})

		ginkgo.It("should materialize every active app with all flags for display", func() {
			assign("root-1", superRole, true)

			snapshot, err := resolver.Snapshot(ctx, "root-1")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			codes := make([]string, 0, len(snapshot.Apps))
			for _, app := range snapshot.Apps {
				codes = append(codes, app.AppCode)
				gomega.Expect(app.PermissionFlags).To(gomega.Equal(AllPermissions()))
			}
			gomega.Expect(codes).To(gomega.ConsistOf("BILLING", "REPORTING"))

			billingGrant := findApp(snapshot, "BILLING")
			gomega.Expect(billingGrant.Features).To(gomega.HaveLen(2))
			for _, f := range billingGrant.Features {
				gomega.Expect(f.PermissionFlags).To(gomega.Equal(AllPermissions()))
			}
		})

		ginkgo.It("should short-circuit with mixed assignments when any role is level 1", func() {
			assign("root-1", viewerRole, true)
			assign("root-1", superRole, false)

			snapshot, err := resolver.Snapshot(ctx, "root-1")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.Tier).To(gomega.Equal(TierSuper))
		})
	})

	ginkgo.Describe("union of mapped roles", func() {
		ginkgo.BeforeEach(func() {
			mapApp(viewerRole, billing, PermissionFlags{CanView: true})
			mapApp(editorRole, billing, PermissionFlags{CanCreate: true, CanUpdate: true})
			mapFeature(viewerRole, invoices, PermissionFlags{CanView: true})
			mapFeature(editorRole, refunds, PermissionFlags{CanView: true, CanCreate: true})
		})

		ginkgo.It("should OR flags per app across all assigned roles", func() {
			assign("user-1", viewerRole, true)
			assign("user-1", editorRole, false)

			snapshot, err := resolver.Snapshot(ctx, "user-1")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.Tier).To(gomega.Equal(TierMapped))
			gomega.Expect(snapshot.Allows("BILLING", "", PermissionView)).To(gomega.BeTrue())
			gomega.Expect(snapshot.Allows("BILLING", "", PermissionCreate)).To(gomega.BeTrue())
			gomega.Expect(snapshot.Allows("BILLING", "", PermissionUpdate)).To(gomega.BeTrue())
			gomega.Expect(snapshot.Allows("BILLING", "", PermissionDelete)).To(gomega.BeFalse())
		})

		ginkgo.It("should scope feature checks to the feature's own flags", func() {
			assign("user-1", viewerRole, true)
			assign("user-1", editorRole, false)

			snapshot, err := resolver.Snapshot(ctx, "user-1")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.Allows("BILLING", "INVOICES", PermissionView)).To(gomega.BeTrue())
			gomega.Expect(snapshot.Allows("BILLING", "INVOICES", PermissionCreate)).To(gomega.BeFalse())
			gomega.Expect(snapshot.Allows("BILLING", "REFUNDS", PermissionCreate)).To(gomega.BeTrue())
			gomega.Expect(snapshot.Allows("BILLING", "MISSING", PermissionView)).To(gomega.BeFalse())
		})

		ginkgo.It("should only carry what a single role grants", func() {
			assign("user-2", viewerRole, true)

			snapshot, err := resolver.Snapshot(ctx, "user-2")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.Allows("BILLING", "", PermissionView)).To(gomega.BeTrue())
			gomega.Expect(snapshot.Allows("BILLING", "", PermissionCreate)).To(gomega.BeFalse())
			gomega.Expect(snapshot.Allows("BILLING", "REFUNDS", PermissionCreate)).To(gomega.BeFalse())
		})

		ginkgo.It("should surface a feature-only app with zero app-level flags", func() {
			mapFeature(editorRole, export, PermissionFlags{CanView: true, CanCreate: true})
			assign("user-3", editorRole, true)

			snapshot, err := resolver.Snapshot(ctx, "user-3")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			reportingGrant := findApp(snapshot, "REPORTING")
			gomega.Expect(reportingGrant).NotTo(gomega.BeNil())
			gomega.Expect(reportingGrant.PermissionFlags).To(gomega.Equal(PermissionFlags{}))
			gomega.Expect(snapshot.Allows("REPORTING", "", PermissionView)).To(gomega.BeFalse())
			gomega.Expect(snapshot.Allows("REPORTING", "EXPORT", PermissionCreate)).To(gomega.BeTrue())
		})

		ginkgo.It("should ignore mappings onto inactive apps", func() {
			mapApp(viewerRole, archived, AllPermissions())
			assign("user-4", viewerRole, true)

			snapshot, err := resolver.Snapshot(ctx, "user-4")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(findApp(snapshot, "ARCHIVED")).To(gomega.BeNil())
			gomega.Expect(snapshot.Allows("ARCHIVED", "", PermissionView)).To(gomega.BeFalse())
		})

		ginkgo.It("should ignore deactivated mapping rows", func() {
			assign("user-5", editorRole, true)
			repo.appMappings[[2]int64{editorRole.ID, billing.ID}].IsActive = false

			snapshot, err := resolver.Snapshot(ctx, "user-5")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.Allows("BILLING", "", PermissionCreate)).To(gomega.BeFalse())
			// The feature mapping is still active, so the app stays visible.
			gomega.Expect(snapshot.Allows("BILLING", "REFUNDS", PermissionCreate)).To(gomega.BeTrue())
		})
	})

	ginkgo.Describe("primary role selection", func() {
		ginkgo.It("should pick the assignment flagged primary", func() {
			assign("user-1", adminRole, false)
			assign("user-1", viewerRole, true)

			snapshot, err := resolver.Snapshot(ctx, "user-1")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.PrimaryRole).To(gomega.Equal("VIEWER"))
		})

		ginkgo.It("should fall back to the most privileged role", func() {
			assign("user-1", viewerRole, false)
			assign("user-1", adminRole, false)

			snapshot, err := resolver.Snapshot(ctx, "user-1")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.PrimaryRole).To(gomega.Equal("ADMIN"))
		})
	})

	ginkgo.Describe("snapshot metadata", func() {
		ginkgo.It("should stamp resolution time and list role codes", func() {
			assign("user-1", viewerRole, true)
			assign("user-1", editorRole, false)

			snapshot, err := resolver.Snapshot(ctx, "user-1")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.ResolvedAt).To(gomega.Equal(current))
			gomega.Expect(snapshot.RoleCodes()).To(gomega.ConsistOf("VIEWER", "EDITOR"))
		})
	})
})
