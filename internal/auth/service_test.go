package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/frahmantamala/access-management/internal"
	"github.com/frahmantamala/access-management/internal/audit"
	sessionDatamodel "github.com/frahmantamala/access-management/internal/core/datamodel/session"
	"github.com/frahmantamala/access-management/internal/rbac"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func TestAuth(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Auth Module Suite")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Mock identity store for testing
type mockIdentityStore struct {
	identities map[string]*Identity // identifier -> identity
	lookups    int
}

func newMockIdentityStore() *mockIdentityStore {
	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("correct_password"), bcrypt.MinCost)

	return &mockIdentityStore{
		identities: map[string]*Identity{
			"user@example.com":  {UserID: "user-1", PasswordHash: string(hashedPassword), IsActive: true},
			"admin@example.com": {UserID: "admin-1", PasswordHash: string(hashedPassword), IsActive: true},
			"gone@example.com":  {UserID: "gone-1", PasswordHash: string(hashedPassword), IsActive: false},
		},
	}
}

func (m *mockIdentityStore) LookupByIdentifier(_ context.Context, identifier string) (*Identity, error) {
	m.lookups++
	return m.identities[identifier], nil
}

// Mock session repository with in-memory supersession semantics
type mockSessionRepo struct {
	sessions map[string]*sessionDatamodel.Session
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*sessionDatamodel.Session)}
}

func (m *mockSessionRepo) Create(_ context.Context, session *sessionDatamodel.Session) ([]string, error) {
	var superseded []string
	for id, s := range m.sessions {
		if s.UserID == session.UserID && s.IsActive {
			s.IsActive = false
			s.Status = sessionDatamodel.StatusSuperseded
			superseded = append(superseded, id)
		}
	}
	copied := *session
	m.sessions[session.ID] = &copied
	return superseded, nil
}

func (m *mockSessionRepo) Get(_ context.Context, sessionID string) (*sessionDatamodel.Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *mockSessionRepo) UpdateActivity(_ context.Context, sessionID string, at time.Time) error {
	if s, ok := m.sessions[sessionID]; ok {
		s.LastActivityAt = at
	}
	return nil
}

func (m *mockSessionRepo) MarkExpired(_ context.Context, sessionID string) error {
	if s, ok := m.sessions[sessionID]; ok {
		s.IsActive = false
		s.Status = sessionDatamodel.StatusExpired
	}
	return nil
}

func (m *mockSessionRepo) Revoke(_ context.Context, sessionID string) error {
	if s, ok := m.sessions[sessionID]; ok {
		s.IsActive = false
		s.Status = sessionDatamodel.StatusRevoked
	}
	return nil
}

func (m *mockSessionRepo) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	var n int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			s.Status = sessionDatamodel.StatusRevoked
			n++
		}
	}
	return n, nil
}

func (m *mockSessionRepo) RotateRefresh(_ context.Context, sessionID, refreshHash string, rotation int) error {
	if s, ok := m.sessions[sessionID]; ok {
		s.RefreshTokenHash = refreshHash
		s.RotationCounter = rotation
	}
	return nil
}

// Mock lockout repository
type mockLockoutRepo struct {
	records map[string]*sessionDatamodel.LockoutRecord
}

func newMockLockoutRepo() *mockLockoutRepo {
	return &mockLockoutRepo{records: make(map[string]*sessionDatamodel.LockoutRecord)}
}

func (m *mockLockoutRepo) Get(_ context.Context, userID string) (*sessionDatamodel.LockoutRecord, error) {
	r, ok := m.records[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *mockLockoutRepo) Save(_ context.Context, record *sessionDatamodel.LockoutRecord) error {
	copied := *record
	m.records[record.UserID] = &copied
	return nil
}

// Mock audit recorder capturing entries
type mockRecorder struct {
	entries []audit.Entry
}

func (m *mockRecorder) Record(_ context.Context, entry audit.Entry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockRecorder) actions() []string {
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

// Stub resolver returning a canned snapshot per user
type stubResolver struct {
	snapshots map[string]*rbac.CapabilitySnapshot
}

func (s *stubResolver) Snapshot(_ context.Context, userID string) (*rbac.CapabilitySnapshot, error) {
	if snap, ok := s.snapshots[userID]; ok {
		return snap, nil
	}
	return &rbac.CapabilitySnapshot{UserID: userID, Tier: rbac.TierMapped}, nil
}

var _ = ginkgo.Describe("AuthService", func() {
	var (
		service     *Service
		identities  *mockIdentityStore
		sessionRepo *mockSessionRepo
		lockoutRepo *mockLockoutRepo
		recorder    *mockRecorder
		resolver    *stubResolver
		tokens      *JWTTokenGenerator
		sessions    *SessionManager
		lockouts    *LockoutMachine
		current     time.Time
		meta        RequestMeta
		ctx         context.Context
	)

	clock := func() time.Time { return current }

	login := func(identifier, password string) (*LoginResult, error) {
		return service.Login(ctx, LoginDTO{Identifier: identifier, Password: password}, meta)
	}

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		current = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
		meta = RequestMeta{IPAddress: "203.0.113.7", DeviceInfo: "test-agent"}

		identities = newMockIdentityStore()
		sessionRepo = newMockSessionRepo()
		lockoutRepo = newMockLockoutRepo()
		recorder = &mockRecorder{}
		resolver = &stubResolver{snapshots: map[string]*rbac.CapabilitySnapshot{
			"admin-1": {UserID: "admin-1", Tier: rbac.TierSuper},
			"user-1": {
				UserID: "user-1",
				Tier:   rbac.TierMapped,
				Apps: []rbac.AppGrant{{
					AppCode:         "BILLING",
					PermissionFlags: rbac.PermissionFlags{CanView: true},
				}},
			},
		}}

		tokens = NewJWTTokenGenerator(
			"test-access-secret-0123456789abcdef",
			"test-refresh-secret-0123456789abcdef",
			15*time.Minute, 24*time.Hour,
		)
		sessions = NewSessionManager(sessionRepo, recorder, NoopNotifier{}, testLogger(), 30*time.Minute, 24*time.Hour)
		sessions.now = clock
		lockouts = NewLockoutMachine(lockoutRepo, recorder, NoopNotifier{}, testLogger(), nil)
		lockouts.now = clock
		service = NewService(identities, sessions, lockouts, resolver, tokens, recorder, testLogger())
		service.now = clock
	})

	ginkgo.Describe("Login", func() {
		ginkgo.Context("with valid credentials", func() {
			ginkgo.It("returns tokens, snapshot and session", func() {
				result, err := login("user@example.com", "correct_password")

				gomega.Expect(err).ToNot(gomega.HaveOccurred())
				gomega.Expect(result.Tokens.AccessToken).ToNot(gomega.BeEmpty())
				gomega.Expect(result.Tokens.RefreshToken).ToNot(gomega.BeEmpty())
				gomega.Expect(result.Snapshot.Tier).To(gomega.Equal(rbac.TierMapped))
				gomega.Expect(result.Session.SessionID).ToNot(gomega.BeEmpty())
			})

			ginkgo.It("embeds the capability snapshot in the access token", func() {
				result, err := login("user@example.com", "correct_password")
				gomega.Expect(err).ToNot(gomega.HaveOccurred())

				claims, err := tokens.ValidateAccessToken(result.Tokens.AccessToken)
				gomega.Expect(err).ToNot(gomega.HaveOccurred())
				gomega.Expect(claims.UserID).To(gomega.Equal("user-1"))
				gomega.Expect(claims.Snapshot).ToNot(gomega.BeNil())
				gomega.Expect(claims.Snapshot.Allows("BILLING", "", rbac.PermissionView)).To(gomega.BeTrue())
				gomega.Expect(claims.Snapshot.Allows("BILLING", "", rbac.PermissionDelete)).To(gomega.BeFalse())
			})

			ginkgo.It("writes a login audit entry before returning", func() {
				_, err := login("user@example.com", "correct_password")
				gomega.Expect(err).ToNot(gomega.HaveOccurred())
				gomega.Expect(recorder.actions()).To(gomega.ContainElement(audit.ActionLogin))
			})
		})

		ginkgo.Context("with bad credentials", func() {
			ginkgo.It("rejects an unknown identifier", func() {
				_, err := login("nobody@example.com", "whatever")
				gomega.Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(gomega.BeTrue())
			})

			ginkgo.It("rejects a wrong password", func() {
				_, err := login("user@example.com", "wrong_password")
				gomega.Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(gomega.BeTrue())
			})

			ginkgo.It("rejects an inactive account", func() {
				_, err := login("gone@example.com", "correct_password")
				gomega.Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(gomega.BeTrue())
			})

			ginkgo.It("returns the identical error shape for unknown and wrong-password", func() {
				_, unknownErr := login("nobody@example.com", "whatever")
				_, wrongErr := login("user@example.com", "wrong_password")

				var unknownApp, wrongApp *internal.AppError
				gomega.Expect(errors.As(unknownErr, &unknownApp)).To(gomega.BeTrue())
				gomega.Expect(errors.As(wrongErr, &wrongApp)).To(gomega.BeTrue())
				gomega.Expect(unknownApp.Code).To(gomega.Equal(wrongApp.Code))
				gomega.Expect(unknownApp.Message).To(gomega.Equal(wrongApp.Message))
				gomega.Expect(unknownApp.StatusCode).To(gomega.Equal(wrongApp.StatusCode))
			})
		})

		ginkgo.Context("lockout escalation", func() {
			failTimes := func(n int) {
				for i := 0; i < n; i++ {
					_, err := login("user@example.com", "wrong_password")
					gomega.Expect(err).To(gomega.HaveOccurred())
				}
			}

			ginkgo.It("tolerates five failures but locks on the sixth", func() {
				failTimes(5)
				_, err := login("user@example.com", "wrong_password")

				var appErr *internal.AppError
				gomega.Expect(errors.As(err, &appErr)).To(gomega.BeTrue())
				gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodeAccountLocked))

				details, ok := appErr.Details.(internal.LockoutDetails)
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(details.Stage).To(gomega.Equal(1))
				gomega.Expect(details.RetryAfter).To(gomega.Equal(current.Add(2 * time.Minute)))
			})

			ginkgo.It("rejects attempts during a lock without consuming them", func() {
				failTimes(6)
				lookupsBefore := identities.lookups

				_, err := login("user@example.com", "correct_password")

				var appErr *internal.AppError
				gomega.Expect(errors.As(err, &appErr)).To(gomega.BeTrue())
				gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodeAccountLocked))
				gomega.Expect(lockoutRepo.records["user-1"].FailedAttemptCount).To(gomega.Equal(6))
				// identifier resolution still happens, credentials are not checked
				gomega.Expect(identities.lookups).To(gomega.Equal(lookupsBefore + 1))
			})

			ginkgo.It("counts again after the lock window elapses", func() {
				failTimes(6)
				current = current.Add(3 * time.Minute)

				_, err := login("user@example.com", "wrong_password")
				gomega.Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(gomega.BeTrue())
				gomega.Expect(lockoutRepo.records["user-1"].FailedAttemptCount).To(gomega.Equal(7))
			})

			ginkgo.It("escalates to a five minute lock at the eleventh failure", func() {
				failTimes(6)
				current = current.Add(3 * time.Minute)
				failTimes(4)

				_, err := login("user@example.com", "wrong_password")

				var appErr *internal.AppError
				gomega.Expect(errors.As(err, &appErr)).To(gomega.BeTrue())
				details := appErr.Details.(internal.LockoutDetails)
				gomega.Expect(details.Stage).To(gomega.Equal(2))
				gomega.Expect(details.RetryAfter).To(gomega.Equal(current.Add(5 * time.Minute)))
			})

			ginkgo.It("resets the cycle on a successful login", func() {
				failTimes(4)
				_, err := login("user@example.com", "correct_password")
				gomega.Expect(err).ToNot(gomega.HaveOccurred())
				gomega.Expect(lockoutRepo.records["user-1"].FailedAttemptCount).To(gomega.Equal(0))

				// a fresh failure run starts from zero again
				failTimes(5)
				gomega.Expect(lockoutRepo.records["user-1"].LockoutStage).To(gomega.Equal(0))
			})

			ginkgo.It("blocks terminally at the thirty-first failure", func() {
				// walk the whole ladder, advancing past each lock window
				for _, wait := range []time.Duration{0, 3 * time.Minute, 6 * time.Minute, 11 * time.Minute, 31 * time.Minute, 61 * time.Minute} {
					current = current.Add(wait)
					failTimes(5)
					_, err := login("user@example.com", "wrong_password")
					gomega.Expect(err).To(gomega.HaveOccurred())
				}

				record := lockoutRepo.records["user-1"]
				gomega.Expect(record.IsBlocked).To(gomega.BeTrue())

				// correct password no longer helps, and no lock window applies
				current = current.Add(24 * time.Hour)
				_, err := login("user@example.com", "correct_password")
				gomega.Expect(errors.Is(err, internal.ErrAccountBlocked)).To(gomega.BeTrue())
			})

			ginkgo.It("audits lockout escalations", func() {
				failTimes(6)
				gomega.Expect(recorder.actions()).To(gomega.ContainElement(audit.ActionLockoutEscalated))
			})
		})

		ginkgo.Context("session exclusivity", func() {
			ginkgo.It("supersedes the previous session on a new login", func() {
				first, err := login("user@example.com", "correct_password")
				gomega.Expect(err).ToNot(gomega.HaveOccurred())

				second, err := login("user@example.com", "correct_password")
				gomega.Expect(err).ToNot(gomega.HaveOccurred())
				gomega.Expect(second.Session.SessionID).ToNot(gomega.Equal(first.Session.SessionID))

				stored := sessionRepo.sessions[first.Session.SessionID]
				gomega.Expect(stored.IsActive).To(gomega.BeFalse())
				gomega.Expect(stored.Status).To(gomega.Equal(sessionDatamodel.StatusSuperseded))
				gomega.Expect(recorder.actions()).To(gomega.ContainElement(audit.ActionSessionSupersede))
			})

			ginkgo.It("rejects access tokens bound to a superseded session", func() {
				first, err := login("user@example.com", "correct_password")
				gomega.Expect(err).ToNot(gomega.HaveOccurred())
				_, err = login("user@example.com", "correct_password")
				gomega.Expect(err).ToNot(gomega.HaveOccurred())

				_, err = service.VerifyAccess(ctx, first.Tokens.AccessToken)
				gomega.Expect(errors.Is(err, internal.ErrSessionInvalidated)).To(gomega.BeTrue())
			})

			ginkgo.It("keeps sessions of different users independent", func() {
				userResult, err := login("user@example.com", "correct_password")
				gomega.Expect(err).ToNot(gomega.HaveOccurred())
				_, err = login("admin@example.com", "correct_password")
				gomega.Expect(err).ToNot(gomega.HaveOccurred())

				_, err = service.VerifyAccess(ctx, userResult.Tokens.AccessToken)
				gomega.Expect(err).ToNot(gomega.HaveOccurred())
			})
		})
	})

	ginkgo.Describe("VerifyAccess", func() {
		ginkgo.It("returns the principal for a live session", func() {
			result, err := login("user@example.com", "correct_password")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			principal, err := service.VerifyAccess(ctx, result.Tokens.AccessToken)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(principal.UserID).To(gomega.Equal("user-1"))
			gomega.Expect(principal.SessionID).To(gomega.Equal(result.Session.SessionID))
		})

		ginkgo.It("rejects garbage tokens", func() {
			_, err := service.VerifyAccess(ctx, "not-a-token")
			gomega.Expect(errors.Is(err, internal.ErrTokenMalformed)).To(gomega.BeTrue())
		})

		ginkgo.It("rejects refresh tokens presented as access tokens", func() {
			result, err := login("user@example.com", "correct_password")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			_, err = service.VerifyAccess(ctx, result.Tokens.RefreshToken)
			gomega.Expect(err).To(gomega.HaveOccurred())
		})

		ginkgo.It("expires an idle session lazily", func() {
			result, err := login("user@example.com", "correct_password")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			current = current.Add(31 * time.Minute)
			_, err = service.VerifyAccess(ctx, result.Tokens.AccessToken)
			gomega.Expect(errors.Is(err, internal.ErrSessionInvalidated)).To(gomega.BeTrue())
			gomega.Expect(sessionRepo.sessions[result.Session.SessionID].Status).To(gomega.Equal(sessionDatamodel.StatusExpired))
		})

		ginkgo.It("slides the inactivity window on each access", func() {
			result, err := login("user@example.com", "correct_password")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			for i := 0; i < 3; i++ {
				current = current.Add(20 * time.Minute)
				_, err = service.VerifyAccess(ctx, result.Tokens.AccessToken)
				gomega.Expect(err).ToNot(gomega.HaveOccurred())
			}
		})
	})

	ginkgo.Describe("Authorize", func() {
		ginkgo.It("grants everything to the super tier", func() {
			result, err := login("admin@example.com", "correct_password")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			allowed, err := service.Authorize(ctx, result.Tokens.AccessToken, "ANYTHING", "AT_ALL", rbac.PermissionDelete)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(allowed).To(gomega.BeTrue())
		})

		ginkgo.It("answers from the embedded snapshot for mapped users", func() {
			result, err := login("user@example.com", "correct_password")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			allowed, err := service.Authorize(ctx, result.Tokens.AccessToken, "BILLING", "", rbac.PermissionView)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(allowed).To(gomega.BeTrue())

			denied, err := service.Authorize(ctx, result.Tokens.AccessToken, "REPORTING", "", rbac.PermissionView)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(denied).To(gomega.BeFalse())
		})
	})

	ginkgo.Describe("Refresh", func() {
		ginkgo.It("rotates the refresh token and keeps the session", func() {
			result, err := login("user@example.com", "correct_password")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			refreshed, err := service.Refresh(ctx, result.Tokens.RefreshToken, meta)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(refreshed.RefreshToken).ToNot(gomega.Equal(result.Tokens.RefreshToken))

			claims, err := tokens.ValidateRefreshToken(refreshed.RefreshToken)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(claims.SessionID).To(gomega.Equal(result.Session.SessionID))
			gomega.Expect(claims.RotationCounter).To(gomega.Equal(1))
		})

		ginkgo.It("revokes the session when a rotated token is replayed", func() {
			result, err := login("user@example.com", "correct_password")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			refreshed, err := service.Refresh(ctx, result.Tokens.RefreshToken, meta)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			// replay the original
			_, err = service.Refresh(ctx, result.Tokens.RefreshToken, meta)
			gomega.Expect(errors.Is(err, internal.ErrSessionInvalidated)).To(gomega.BeTrue())

			// the whole session is dead, the rotated token no longer works either
			_, err = service.Refresh(ctx, refreshed.RefreshToken, meta)
			gomega.Expect(errors.Is(err, internal.ErrSessionInvalidated)).To(gomega.BeTrue())
		})

		ginkgo.It("rejects access tokens on the refresh path", func() {
			result, err := login("user@example.com", "correct_password")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			_, err = service.Refresh(ctx, result.Tokens.AccessToken, meta)
			gomega.Expect(err).To(gomega.HaveOccurred())
		})
	})

	ginkgo.Describe("Logout", func() {
		ginkgo.It("revokes the current session", func() {
			result, err := login("user@example.com", "correct_password")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			err = service.Logout(ctx, result.Session.SessionID, false, meta)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			_, err = service.VerifyAccess(ctx, result.Tokens.AccessToken)
			gomega.Expect(errors.Is(err, internal.ErrSessionInvalidated)).To(gomega.BeTrue())
			gomega.Expect(recorder.actions()).To(gomega.ContainElement(audit.ActionLogout))
		})
	})

	ginkgo.Describe("UnblockAccount", func() {
		ginkgo.It("reopens a terminally blocked account", func() {
			lockoutRepo.records["user-1"] = &sessionDatamodel.LockoutRecord{
				UserID: "user-1", FailedAttemptCount: 31, LockoutStage: 6, IsBlocked: true,
			}

			err := service.UnblockAccount(ctx, "user-1", meta, "admin-1")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			_, err = login("user@example.com", "correct_password")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(recorder.actions()).To(gomega.ContainElement(audit.ActionAccountUnblocked))
		})
	})
})
