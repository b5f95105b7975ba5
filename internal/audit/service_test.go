package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

func TestAudit(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Audit Module Suite")
}

type mockAuditRepo struct {
	appended  []Entry
	lastLimit int
	appendErr error
}

func (m *mockAuditRepo) Append(_ context.Context, entry Entry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.appended = append(m.appended, entry)
	return nil
}

func (m *mockAuditRepo) ListByEntity(_ context.Context, entityType, entityID string, limit int) ([]Entry, error) {
	m.lastLimit = limit
	var out []Entry
	for _, e := range m.appended {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ = ginkgo.Describe("Service", func() {
	var (
		ctx  context.Context
		repo *mockAuditRepo
		svc  *Service
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		repo = &mockAuditRepo{}
		svc = NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	})

	ginkgo.Describe("Record", func() {
		ginkgo.It("should append the entry synchronously", func() {
			err := svc.Record(ctx, Entry{
				Action:      ActionRoleCreated,
				EntityType:  EntityRole,
				EntityID:    "1",
				PerformedBy: "admin-1",
				OccurredAt:  time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
			})

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(repo.appended).To(gomega.HaveLen(1))
			gomega.Expect(repo.appended[0].Action).To(gomega.Equal(ActionRoleCreated))
		})

		ginkgo.It("should stamp occurred_at when the caller left it zero", func() {
			before := time.Now()

			err := svc.Record(ctx, Entry{Action: ActionLogin, EntityType: EntitySession, EntityID: "sess-1"})

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(repo.appended[0].OccurredAt).To(gomega.BeTemporally(">=", before))
		})

		ginkgo.It("should surface repository failures to the caller", func() {
			repo.appendErr = context.DeadlineExceeded

			err := svc.Record(ctx, Entry{Action: ActionLogin, EntityType: EntitySession, EntityID: "sess-1"})

			gomega.Expect(err).To(gomega.MatchError(context.DeadlineExceeded))
		})
	})

	ginkgo.Describe("History", func() {
		ginkgo.BeforeEach(func() {
			for i := 0; i < 3; i++ {
				gomega.Expect(svc.Record(ctx, Entry{
					Action:     ActionAppMapped,
					EntityType: EntityAppMapping,
					EntityID:   "1:2",
				})).To(gomega.Succeed())
			}
		})

		ginkgo.It("should list entries for one entity", func() {
			entries, err := svc.History(ctx, EntityAppMapping, "1:2", 10)

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(entries).To(gomega.HaveLen(3))
		})

		ginkgo.It("should clamp a non-positive limit to the default", func() {
			_, err := svc.History(ctx, EntityAppMapping, "1:2", 0)

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(repo.lastLimit).To(gomega.Equal(100))
		})

		ginkgo.It("should clamp an oversized limit to the default", func() {
			_, err := svc.History(ctx, EntityAppMapping, "1:2", 5000)

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(repo.lastLimit).To(gomega.Equal(100))
		})
	})
})
