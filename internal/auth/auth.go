package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	sessionDatamodel "github.com/frahmantamala/access-management/internal/core/datamodel/session"
	"github.com/frahmantamala/access-management/internal/rbac"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the signed token payload. Access tokens carry the capability
// snapshot; refresh tokens carry only the session id and rotation counter.
type Claims struct {
	UserID          string                   `json:"user_id"`
	SessionID       string                   `json:"session_id"`
	TokenType       TokenType                `json:"token_type"`
	RoleCodes       []string                 `json:"roles,omitempty"`
	Snapshot        *rbac.CapabilitySnapshot `json:"snapshot,omitempty"`
	RotationCounter int                      `json:"rotation,omitempty"`
	jwt.RegisteredClaims
}

type AuthTokens struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

type SessionInfo struct {
	SessionID      string    `json:"session_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	DeviceInfo     string    `json:"device_info,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
}

type LoginResult struct {
	Tokens   AuthTokens              `json:"tokens"`
	Snapshot rbac.CapabilitySnapshot `json:"capability_snapshot"`
	Session  SessionInfo             `json:"session"`
}

// Principal is the verified caller attached to request context.
type Principal struct {
	UserID    string
	SessionID string
	Snapshot  rbac.CapabilitySnapshot
}

// RequestMeta carries transport-level metadata into the auth flows.
type RequestMeta struct {
	IPAddress  string
	DeviceInfo string
}

// Identity is what the external identity store returns for a login
// identifier. Credential verification happens here, not there.
type Identity struct {
	UserID       string
	PasswordHash string
	IsActive     bool
}

// IdentityStore resolves a login identifier (email, username, phone or short
// code) to a stable user id and password hash.
type IdentityStore interface {
	LookupByIdentifier(ctx context.Context, identifier string) (*Identity, error)
}

// Notifier delivers security notifications. Calls are fire-and-forget; the
// core never formats or persists messages.
type Notifier interface {
	SendSecurityAlert(ctx context.Context, userID, kind string)
	NotifySessionSuperseded(ctx context.Context, userID, sessionID string)
}

// NoopNotifier drops notifications.
type NoopNotifier struct{}

func (NoopNotifier) SendSecurityAlert(context.Context, string, string)       {}
func (NoopNotifier) NotifySessionSuperseded(context.Context, string, string) {}

type TokenGeneratorAPI interface {
	GenerateAccessToken(userID, sessionID string, snapshot *rbac.CapabilitySnapshot) (string, time.Time, error)
	GenerateRefreshToken(userID, sessionID string, rotation int) (string, time.Time, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
	ValidateRefreshToken(tokenString string) (*Claims, error)
}

// SessionRepositoryAPI persists sessions. Create must supersede the user's
// prior active sessions in the same transaction and report which ids it
// flipped.
type SessionRepositoryAPI interface {
	Create(ctx context.Context, session *sessionDatamodel.Session) (superseded []string, err error)
	Get(ctx context.Context, sessionID string) (*sessionDatamodel.Session, error)
	UpdateActivity(ctx context.Context, sessionID string, at time.Time) error
	MarkExpired(ctx context.Context, sessionID string) error
	Revoke(ctx context.Context, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	RotateRefresh(ctx context.Context, sessionID, refreshHash string, rotation int) error
}

type LockoutRepositoryAPI interface {
	Get(ctx context.Context, userID string) (*sessionDatamodel.LockoutRecord, error)
	Save(ctx context.Context, record *sessionDatamodel.LockoutRecord) error
}

type ServiceAPI interface {
	Login(ctx context.Context, dto LoginDTO, meta RequestMeta) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*AuthTokens, error)
	Logout(ctx context.Context, sessionID string, all bool, meta RequestMeta) error
	Authorize(ctx context.Context, tokenString, appCode, featureCode string, permission rbac.Permission) (bool, error)
	VerifyAccess(ctx context.Context, tokenString string) (*Principal, error)
	CurrentSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	UnblockAccount(ctx context.Context, userID string, meta RequestMeta, actorID string) error
}

func VerifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// HashToken is the storage form of refresh tokens: sessions keep only the
// SHA-256 of the token string.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
