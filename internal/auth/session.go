package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/frahmantamala/access-management/internal"
	"github.com/frahmantamala/access-management/internal/audit"
	sessionDatamodel "github.com/frahmantamala/access-management/internal/core/datamodel/session"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionManager enforces single-active-session per user and lazy inactivity
// expiry. Expiry is a timestamp comparison on the next access, never a
// background sweep.
type SessionManager struct {
	repo              SessionRepositoryAPI
	recorder          audit.Recorder
	notifier          Notifier
	logger            *slog.Logger
	inactivityTimeout time.Duration
	sessionTTL        time.Duration
	now               func() time.Time
}

func NewSessionManager(repo SessionRepositoryAPI, recorder audit.Recorder, notifier Notifier, logger *slog.Logger, inactivityTimeout, sessionTTL time.Duration) *SessionManager {
	return &SessionManager{
		repo:              repo,
		recorder:          recorder,
		notifier:          notifier,
		logger:            logger,
		inactivityTimeout: inactivityTimeout,
		sessionTTL:        sessionTTL,
		now:               time.Now,
	}
}

// Create opens a new ACTIVE session. Any prior active session for the user
// is flipped to SUPERSEDED in the same transaction; the race between two
// concurrent logins leaves exactly one session active.
func (m *SessionManager) Create(ctx context.Context, userID, refreshHash string, meta RequestMeta) (*sessionDatamodel.Session, error) {
	now := m.now()
	session := &sessionDatamodel.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		RefreshTokenHash: refreshHash,
		DeviceInfo:       meta.DeviceInfo,
		IPAddress:        meta.IPAddress,
		Status:           sessionDatamodel.StatusActive,
		IsActive:         true,
		CreatedAt:        now,
		LastActivityAt:   now,
		ExpiresAt:        now.Add(m.sessionTTL),
	}

	superseded, err := m.repo.Create(ctx, session)
	if err != nil {
		return nil, internal.NewInternalError("failed to create session", err)
	}

	for _, oldID := range superseded {
		if err := m.recorder.Record(ctx, audit.Entry{
			Action:      audit.ActionSessionSupersede,
			EntityType:  audit.EntitySession,
			EntityID:    oldID,
			New:         map[string]interface{}{"superseded_by": session.ID},
			PerformedBy: userID,
			IPAddress:   meta.IPAddress,
			OccurredAt:  now,
		}); err != nil {
			return nil, internal.NewInternalError("failed to write audit entry", err)
		}
		m.notifier.NotifySessionSuperseded(ctx, userID, oldID)
	}
	return session, nil
}

// Validate loads the session and applies the state machine: superseded,
// revoked and expired sessions reject with SessionInvalidated; a session
// idle past the inactivity timeout transitions to EXPIRED on this access and
// rejects; otherwise last_activity_at advances.
func (m *SessionManager) Validate(ctx context.Context, sessionID string) (*sessionDatamodel.Session, error) {
	session, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrSessionInvalidated
		}
		return nil, internal.NewInternalError("failed to load session", err)
	}

	if !session.IsActive || session.Status != sessionDatamodel.StatusActive {
		return nil, internal.ErrSessionInvalidated
	}

	now := m.now()
	if now.After(session.ExpiresAt) || now.Sub(session.LastActivityAt) > m.inactivityTimeout {
		if err := m.repo.MarkExpired(ctx, sessionID); err != nil {
			m.logger.ErrorContext(ctx, "failed to mark session expired", "session_id", sessionID, "error", err)
		}
		return nil, internal.ErrSessionInvalidated
	}

	if err := m.repo.UpdateActivity(ctx, sessionID, now); err != nil {
		return nil, internal.NewInternalError("failed to update session activity", err)
	}
	session.LastActivityAt = now
	return session, nil
}

// Revoke transitions ACTIVE → REVOKED immediately.
func (m *SessionManager) Revoke(ctx context.Context, sessionID, userID, ip string) error {
	if err := m.repo.Revoke(ctx, sessionID); err != nil {
		return internal.NewInternalError("failed to revoke session", err)
	}
	return m.recorder.Record(ctx, audit.Entry{
		Action:      audit.ActionLogout,
		EntityType:  audit.EntitySession,
		EntityID:    sessionID,
		PerformedBy: userID,
		IPAddress:   ip,
		OccurredAt:  m.now(),
	})
}

// RevokeAll revokes every session for the user.
func (m *SessionManager) RevokeAll(ctx context.Context, userID, ip string) error {
	count, err := m.repo.RevokeAllForUser(ctx, userID)
	if err != nil {
		return internal.NewInternalError("failed to revoke sessions", err)
	}
	return m.recorder.Record(ctx, audit.Entry{
		Action:      audit.ActionLogoutAll,
		EntityType:  audit.EntitySession,
		EntityID:    userID,
		New:         map[string]interface{}{"revoked_count": count},
		PerformedBy: userID,
		IPAddress:   ip,
		OccurredAt:  m.now(),
	})
}

// Rotate stores the next refresh token hash and bumps the rotation counter.
func (m *SessionManager) Rotate(ctx context.Context, session *sessionDatamodel.Session, newHash string) (int, error) {
	next := session.RotationCounter + 1
	if err := m.repo.RotateRefresh(ctx, session.ID, newHash, next); err != nil {
		return 0, internal.NewInternalError("failed to rotate refresh token", err)
	}
	session.RefreshTokenHash = newHash
	session.RotationCounter = next
	return next, nil
}

func toSessionInfo(s *sessionDatamodel.Session) SessionInfo {
	return SessionInfo{
		SessionID:      s.ID,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ExpiresAt:      s.ExpiresAt,
		DeviceInfo:     s.DeviceInfo,
		IPAddress:      s.IPAddress,
	}
}
