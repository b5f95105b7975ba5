package postgres_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/frahmantamala/access-management/internal/audit"
	auditPostgres "github.com/frahmantamala/access-management/internal/audit/postgres"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestAuditPostgres(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Audit Postgres Suite")
}

// SQLiteAuditLog is a SQLite-compatible model for testing
type SQLiteAuditLog struct {
	ID          int64     `gorm:"primaryKey"`
	Action      string    `gorm:"column:action;not null;index"`
	EntityType  string    `gorm:"column:entity_type;not null;index"`
	EntityID    string    `gorm:"column:entity_id;not null"`
	OldValues   string    `gorm:"column:old_values"`
	NewValues   string    `gorm:"column:new_values"`
	PerformedBy string    `gorm:"column:performed_by;index"`
	IPAddress   string    `gorm:"column:ip_address"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (SQLiteAuditLog) TableName() string { return "audit_logs" }

var _ = Describe("Audit PostgreSQL Repository", func() {
	var (
		ctx  context.Context
		db   *gorm.DB
		repo audit.RepositoryAPI
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(db.AutoMigrate(&SQLiteAuditLog{})).To(Succeed())

		repo = auditPostgres.NewRepository(db)
	})

	It("should append an entry with serialized old and new values", func() {
		err := repo.Append(ctx, audit.Entry{
			Action:      audit.ActionAppMapped,
			EntityType:  audit.EntityAppMapping,
			EntityID:    "1:2",
			Old:         map[string]interface{}{"can_view": false},
			New:         map[string]interface{}{"can_view": true},
			PerformedBy: "admin-1",
			IPAddress:   "10.0.0.1",
			OccurredAt:  time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		})
		Expect(err).NotTo(HaveOccurred())

		entries, err := repo.ListByEntity(ctx, audit.EntityAppMapping, "1:2", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].PerformedBy).To(Equal("admin-1"))

		var newValues map[string]interface{}
		Expect(json.Unmarshal(entries[0].New.(json.RawMessage), &newValues)).To(Succeed())
		Expect(newValues["can_view"]).To(Equal(true))
	})

	It("should return entries newest first and honor the limit", func() {
		for i := 0; i < 5; i++ {
			Expect(repo.Append(ctx, audit.Entry{
				Action:     audit.ActionRoleAssigned,
				EntityType: audit.EntityAssignment,
				EntityID:   "user-1:3",
				OccurredAt: time.Date(2025, 6, 1, 9, i, 0, 0, time.UTC),
			})).To(Succeed())
		}

		entries, err := repo.ListByEntity(ctx, audit.EntityAssignment, "user-1:3", 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(3))
		Expect(entries[0].OccurredAt.Minute()).To(Equal(4))
	})

	It("should not leak entries across entities", func() {
		Expect(repo.Append(ctx, audit.Entry{
			Action: audit.ActionLogin, EntityType: audit.EntitySession, EntityID: "sess-1",
		})).To(Succeed())

		entries, err := repo.ListByEntity(ctx, audit.EntitySession, "sess-2", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})
})
