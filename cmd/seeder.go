package cmd

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with system roles and sample data",
	Long:  `Seed system roles, the role hierarchy, sample apps and features, baseline mappings and demo users.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlxDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}

		db, err := gorm.Open(gormPostgres.New(gormPostgres.Config{Conn: sqlxDB.DB}), &gorm.Config{})
		if err != nil {
			log.Fatalf("failed to open gorm: %v", err)
		}

		if clearData {
			tables := []string{
				"role_feature_mappings", "role_app_mappings", "user_role_assignments",
				"role_hierarchies", "features", "apps", "roles",
				"sessions", "lockout_records", "audit_logs", "users",
			}
			for _, table := range tables {
				if err := db.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		// System roles, level 1 (highest privilege) down to 5.
		roles := []struct {
			Code  string
			Name  string
			Level int
		}{
			{"SUPER_ADMIN", "Super Administrator", 1},
			{"ADMIN", "Administrator", 2},
			{"MANAGER", "Manager", 3},
			{"STAFF", "Staff", 4},
			{"CLIENT", "Client", 5},
		}

		roleIDs := map[string]int64{}
		for _, r := range roles {
			var id int64
			row := db.Raw("SELECT id FROM roles WHERE code = ?", r.Code).Row()
			if err := row.Scan(&id); err != nil {
				if err := db.Exec(
					"INSERT INTO roles (code, name, level, is_system_role, is_active, created_at, updated_at) VALUES (?, ?, ?, true, true, now(), now())",
					r.Code, r.Name, r.Level,
				).Error; err != nil {
					log.Fatalf("failed to insert role %s: %v", r.Code, err)
				}
				if err := db.Raw("SELECT id FROM roles WHERE code = ?", r.Code).Row().Scan(&id); err != nil {
					log.Fatalf("role not found after insert %s: %v", r.Code, err)
				}
				fmt.Println("Seeded role:", r.Code)
			}
			roleIDs[r.Code] = id
		}

		// Hierarchy edges: each role manages the one below it. Admin edges
		// also allow permission changes.
		edges := []struct {
			Parent        string
			Child         string
			CanModifyPerm bool
		}{
			{"SUPER_ADMIN", "ADMIN", true},
			{"ADMIN", "MANAGER", true},
			{"MANAGER", "STAFF", false},
			{"STAFF", "CLIENT", false},
		}

		for _, e := range edges {
			var exists int
			row := db.Raw(
				"SELECT 1 FROM role_hierarchies WHERE parent_role_id = ? AND child_role_id = ?",
				roleIDs[e.Parent], roleIDs[e.Child],
			).Row()
			if err := row.Scan(&exists); err != nil {
				if err := db.Exec(
					"INSERT INTO role_hierarchies (parent_role_id, child_role_id, can_assign, can_revoke, can_modify_permissions, created_at) VALUES (?, ?, true, true, ?, now())",
					roleIDs[e.Parent], roleIDs[e.Child], e.CanModifyPerm,
				).Error; err != nil {
					log.Fatalf("failed to insert hierarchy edge %s->%s: %v", e.Parent, e.Child, err)
				}
				fmt.Printf("Seeded hierarchy edge: %s -> %s\n", e.Parent, e.Child)
			}
		}

		// Sample app tree with features. ACCESS_CONTROL gates the admin API.
		apps := []struct {
			Code string
			Name string
		}{
			{"ACCESS_CONTROL", "Access Control Administration"},
			{"BILLING", "Billing"},
			{"REPORTING", "Reporting"},
		}

		appIDs := map[string]int64{}
		for _, a := range apps {
			var id int64
			row := db.Raw("SELECT id FROM apps WHERE code = ?", a.Code).Row()
			if err := row.Scan(&id); err != nil {
				if err := db.Exec(
					"INSERT INTO apps (code, name, is_active, created_at, updated_at) VALUES (?, ?, true, now(), now())",
					a.Code, a.Name,
				).Error; err != nil {
					log.Fatalf("failed to insert app %s: %v", a.Code, err)
				}
				if err := db.Raw("SELECT id FROM apps WHERE code = ?", a.Code).Row().Scan(&id); err != nil {
					log.Fatalf("app not found after insert %s: %v", a.Code, err)
				}
				fmt.Println("Seeded app:", a.Code)
			}
			appIDs[a.Code] = id
		}

		features := []struct {
			App  string
			Code string
			Name string
			Type string
		}{
			{"BILLING", "INVOICES", "Invoices", "VIEW"},
			{"BILLING", "REFUNDS", "Refunds", "ACTION"},
			{"REPORTING", "MONTHLY_SUMMARY", "Monthly Summary", "REPORT"},
			{"REPORTING", "EXPORT", "Data Export", "ACTION"},
		}

		for _, f := range features {
			var exists int
			row := db.Raw("SELECT 1 FROM features WHERE app_id = ? AND code = ?", appIDs[f.App], f.Code).Row()
			if err := row.Scan(&exists); err != nil {
				if err := db.Exec(
					"INSERT INTO features (app_id, code, name, feature_type, is_active, created_at) VALUES (?, ?, ?, ?, true, now())",
					appIDs[f.App], f.Code, f.Name, f.Type,
				).Error; err != nil {
					log.Fatalf("failed to insert feature %s/%s: %v", f.App, f.Code, err)
				}
				fmt.Printf("Seeded feature: %s/%s\n", f.App, f.Code)
			}
		}

		// Baseline mappings. ADMIN gets full access control rights; MANAGER
		// can read billing and reporting.
		mappings := []struct {
			Role                          string
			App                           string
			View, CreateP, Update, Delete bool
		}{
			{"ADMIN", "ACCESS_CONTROL", true, true, true, true},
			{"ADMIN", "BILLING", true, true, true, false},
			{"MANAGER", "BILLING", true, false, false, false},
			{"MANAGER", "REPORTING", true, false, false, false},
			{"STAFF", "REPORTING", true, false, false, false},
		}

		for _, m := range mappings {
			var exists int
			row := db.Raw(
				"SELECT 1 FROM role_app_mappings WHERE role_id = ? AND app_id = ?",
				roleIDs[m.Role], appIDs[m.App],
			).Row()
			if err := row.Scan(&exists); err != nil {
				if err := db.Exec(
					"INSERT INTO role_app_mappings (role_id, app_id, can_view, can_create, can_update, can_delete, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, true, now(), now())",
					roleIDs[m.Role], appIDs[m.App], m.View, m.CreateP, m.Update, m.Delete,
				).Error; err != nil {
					log.Fatalf("failed to insert mapping %s/%s: %v", m.Role, m.App, err)
				}
				fmt.Printf("Seeded mapping: %s -> %s\n", m.Role, m.App)
			}
		}

		// Demo users with role assignments.
		password := "password"
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

		users := []struct {
			Email     string
			Username  string
			ShortCode string
			Name      string
			Role      string
		}{
			{"root@mail.com", "root", "RT0001", "Root Superuser", "SUPER_ADMIN"},
			{"admin@mail.com", "admin", "AD0001", "Admin User", "ADMIN"},
			{"manager@mail.com", "manager", "MG0001", "Manager User", "MANAGER"},
		}

		for _, u := range users {
			var userID string
			row := db.Raw("SELECT id FROM users WHERE email = ?", u.Email).Row()
			if err := row.Scan(&userID); err != nil {
				userID = uuid.NewString()
				if err := db.Exec(
					"INSERT INTO users (id, email, username, short_code, name, password_hash, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, true, now(), now())",
					userID, u.Email, u.Username, u.ShortCode, u.Name, string(hash),
				).Error; err != nil {
					log.Fatalf("failed to insert user %s: %v", u.Email, err)
				}
				fmt.Println("Seeded user:", u.Email)
			}

			var exists int
			row = db.Raw(
				"SELECT 1 FROM user_role_assignments WHERE user_id = ? AND role_id = ? AND is_active = true",
				userID, roleIDs[u.Role],
			).Row()
			if err := row.Scan(&exists); err != nil {
				if err := db.Exec(
					"INSERT INTO user_role_assignments (user_id, role_id, is_primary, valid_from, is_active, assigned_by, created_at, updated_at) VALUES (?, ?, true, now(), true, 'seeder', now(), now())",
					userID, roleIDs[u.Role],
				).Error; err != nil {
					log.Fatalf("failed to assign role %s to %s: %v", u.Role, u.Email, err)
				}
				fmt.Printf("Assigned role %s to %s\n", u.Role, u.Email)
			}
		}

		fmt.Println("Seeding completed successfully")
	},
}
