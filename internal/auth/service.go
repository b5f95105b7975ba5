package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/frahmantamala/access-management/internal"
	"github.com/frahmantamala/access-management/internal/audit"
	sessionDatamodel "github.com/frahmantamala/access-management/internal/core/datamodel/session"
	"github.com/frahmantamala/access-management/internal/rbac"
)

// dummyHash is compared against when the identifier does not resolve, so a
// missing account costs the same bcrypt work as a wrong password.
const dummyHash = "$2a$12$C6UzMDM.H6dfI/f/IKcEeO5hQ5iyq1br5GGhbpqg3oNnWVWTjSr1u"

// Service is the login boundary: lockout gate, delegated credential check,
// session supersession, snapshot resolution, token minting and audit, in
// that order.
type Service struct {
	identities IdentityStore
	sessions   *SessionManager
	lockouts   *LockoutMachine
	resolver   rbac.ResolverAPI
	tokens     TokenGeneratorAPI
	recorder   audit.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(
	identities IdentityStore,
	sessions *SessionManager,
	lockouts *LockoutMachine,
	resolver rbac.ResolverAPI,
	tokens TokenGeneratorAPI,
	recorder audit.Recorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		identities: identities,
		sessions:   sessions,
		lockouts:   lockouts,
		resolver:   resolver,
		tokens:     tokens,
		recorder:   recorder,
		logger:     logger,
		now:        time.Now,
	}
}

// Login authenticates an identifier/password pair. Unknown identifiers and
// wrong passwords return the identical error shape; locked and blocked
// accounts reject before any credential check.
func (s *Service) Login(ctx context.Context, dto LoginDTO, meta RequestMeta) (*LoginResult, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	identity, lookupErr := s.identities.LookupByIdentifier(ctx, dto.Identifier)
	if lookupErr != nil || identity == nil || !identity.IsActive {
		// Burn the same bcrypt cost as a real comparison before answering.
		_ = VerifyPassword(dummyHash, dto.Password)
		return nil, internal.ErrInvalidCredentials
	}

	if err := s.lockouts.Gate(ctx, identity.UserID); err != nil {
		if auditErr := s.recorder.Record(ctx, audit.Entry{
			Action:     audit.ActionLoginFailed,
			EntityType: audit.EntityUser,
			EntityID:   identity.UserID,
			New:        map[string]interface{}{"reason": "lockout_gate"},
			IPAddress:  meta.IPAddress,
			OccurredAt: s.now(),
		}); auditErr != nil {
			return nil, internal.NewInternalError("failed to write audit entry", auditErr)
		}
		return nil, err
	}

	if err := VerifyPassword(identity.PasswordHash, dto.Password); err != nil {
		escalation := s.lockouts.RecordFailure(ctx, identity.UserID, meta.IPAddress)
		if auditErr := s.recorder.Record(ctx, audit.Entry{
			Action:     audit.ActionLoginFailed,
			EntityType: audit.EntityUser,
			EntityID:   identity.UserID,
			New:        map[string]interface{}{"reason": "credential_mismatch"},
			IPAddress:  meta.IPAddress,
			OccurredAt: s.now(),
		}); auditErr != nil {
			return nil, internal.NewInternalError("failed to write audit entry", auditErr)
		}
		if escalation != nil {
			return nil, escalation
		}
		return nil, internal.ErrInvalidCredentials
	}

	if err := s.lockouts.RecordSuccess(ctx, identity.UserID); err != nil {
		return nil, err
	}

	snapshot, err := s.resolver.Snapshot(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}

	// The refresh token needs the session id, so mint against a session id
	// chosen by the manager after the row exists, and store only the hash.
	refreshToken, refreshExp, session, err := s.createSessionWithRefresh(ctx, identity.UserID, meta)
	if err != nil {
		return nil, err
	}

	accessToken, accessExp, err := s.tokens.GenerateAccessToken(identity.UserID, session.ID, snapshot)
	if err != nil {
		return nil, internal.NewInternalError("failed to mint access token", err)
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		Action:      audit.ActionLogin,
		EntityType:  audit.EntitySession,
		EntityID:    session.ID,
		New:         map[string]interface{}{"user_id": identity.UserID, "tier": snapshot.Tier},
		PerformedBy: identity.UserID,
		IPAddress:   meta.IPAddress,
		OccurredAt:  s.now(),
	}); err != nil {
		return nil, internal.NewInternalError("failed to write audit entry", err)
	}

	return &LoginResult{
		Tokens: AuthTokens{
			AccessToken:           accessToken,
			RefreshToken:          refreshToken,
			AccessTokenExpiresAt:  accessExp,
			RefreshTokenExpiresAt: refreshExp,
		},
		Snapshot: *snapshot,
		Session:  toSessionInfo(session),
	}, nil
}

func (s *Service) createSessionWithRefresh(ctx context.Context, userID string, meta RequestMeta) (string, time.Time, *sessionDatamodel.Session, error) {
	session, err := s.sessions.Create(ctx, userID, "", meta)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	refreshToken, refreshExp, err := s.tokens.GenerateRefreshToken(userID, session.ID, 0)
	if err != nil {
		return "", time.Time{}, nil, internal.NewInternalError("failed to mint refresh token", err)
	}
	if err := s.sessions.repo.RotateRefresh(ctx, session.ID, HashToken(refreshToken), 0); err != nil {
		return "", time.Time{}, nil, internal.NewInternalError("failed to store refresh token hash", err)
	}
	session.RefreshTokenHash = HashToken(refreshToken)
	return refreshToken, refreshExp, session, nil
}

// Refresh exchanges a valid refresh token for a new access token (and a
// rotated refresh token) without re-running credential checks. Any
// non-ACTIVE session fails with SessionInvalidated; a replayed refresh token
// revokes the session outright.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*AuthTokens, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Validate(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}

	if session.RefreshTokenHash != HashToken(refreshToken) {
		// Replay of a rotated token. Kill the session.
		if revokeErr := s.sessions.Revoke(ctx, session.ID, session.UserID, meta.IPAddress); revokeErr != nil {
			return nil, revokeErr
		}
		return nil, internal.ErrSessionInvalidated
	}

	snapshot, err := s.resolver.Snapshot(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	nextRotation := session.RotationCounter + 1
	newRefresh, refreshExp, err := s.tokens.GenerateRefreshToken(session.UserID, session.ID, nextRotation)
	if err != nil {
		return nil, internal.NewInternalError("failed to mint refresh token", err)
	}
	rotation, err := s.sessions.Rotate(ctx, session, HashToken(newRefresh))
	if err != nil {
		return nil, err
	}

	accessToken, accessExp, err := s.tokens.GenerateAccessToken(session.UserID, session.ID, snapshot)
	if err != nil {
		return nil, internal.NewInternalError("failed to mint access token", err)
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		Action:      audit.ActionTokenRefresh,
		EntityType:  audit.EntitySession,
		EntityID:    session.ID,
		New:         map[string]interface{}{"rotation": rotation},
		PerformedBy: session.UserID,
		IPAddress:   meta.IPAddress,
		OccurredAt:  s.now(),
	}); err != nil {
		return nil, internal.NewInternalError("failed to write audit entry", err)
	}

	return &AuthTokens{
		AccessToken:           accessToken,
		RefreshToken:          newRefresh,
		AccessTokenExpiresAt:  accessExp,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess checks signature, expiry and that the embedded session is
// still ACTIVE, closing the gap between a revoked session and a
// not-yet-expired token.
func (s *Service) VerifyAccess(ctx context.Context, tokenString string) (*Principal, error) {
	claims, err := s.tokens.ValidateAccessToken(tokenString)
	if err != nil {
		return nil, err
	}

	if _, err := s.sessions.Validate(ctx, claims.SessionID); err != nil {
		return nil, err
	}

	principal := &Principal{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
	}
	if claims.Snapshot != nil {
		principal.Snapshot = *claims.Snapshot
	}
	return principal, nil
}

// Authorize answers "does the token's principal hold permission on appCode
// (and optionally featureCode)" against the embedded snapshot.
func (s *Service) Authorize(ctx context.Context, tokenString, appCode, featureCode string, permission rbac.Permission) (bool, error) {
	principal, err := s.VerifyAccess(ctx, tokenString)
	if err != nil {
		return false, err
	}
	return principal.Snapshot.Allows(appCode, featureCode, permission), nil
}

func (s *Service) Logout(ctx context.Context, sessionID string, all bool, meta RequestMeta) error {
	session, err := s.sessions.repo.Get(ctx, sessionID)
	if err != nil {
		return internal.ErrSessionInvalidated
	}
	if all {
		return s.sessions.RevokeAll(ctx, session.UserID, meta.IPAddress)
	}
	return s.sessions.Revoke(ctx, sessionID, session.UserID, meta.IPAddress)
}

func (s *Service) CurrentSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	session, err := s.sessions.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, internal.ErrSessionInvalidated
	}
	info := toSessionInfo(session)
	return &info, nil
}

// UnblockAccount clears a terminal block. Administrative path only.
func (s *Service) UnblockAccount(ctx context.Context, userID string, meta RequestMeta, actorID string) error {
	return s.lockouts.Unblock(ctx, userID, actorID, meta.IPAddress)
}
