package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	authdomain "github.com/frahmantamala/access-management/internal/auth"
	sessionDatamodel "github.com/frahmantamala/access-management/internal/core/datamodel/session"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionRepository persists sessions. Create runs supersession in the same
// transaction as the insert so at most one active session per user survives.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *sessionDatamodel.Session) ([]string, error) {
	var superseded []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := tx.Raw(
			`SELECT id FROM sessions WHERE user_id = ? AND is_active = true`,
			session.UserID,
		).Rows()
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			superseded = append(superseded, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if len(superseded) > 0 {
			if err := tx.Model(&sessionDatamodel.Session{}).
				Where("user_id = ? AND is_active = ?", session.UserID, true).
				Updates(map[string]interface{}{
					"is_active": false,
					"status":    sessionDatamodel.StatusSuperseded,
				}).Error; err != nil {
				return err
			}
		}

		return tx.Create(session).Error
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*sessionDatamodel.Session, error) {
	var session sessionDatamodel.Session
	if err := r.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) UpdateActivity(ctx context.Context, sessionID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&sessionDatamodel.Session{}).
		Where("id = ?", sessionID).
		Update("last_activity_at", at).Error
}

func (r *SessionRepository) MarkExpired(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Model(&sessionDatamodel.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"is_active": false,
			"status":    sessionDatamodel.StatusExpired,
		}).Error
}

func (r *SessionRepository) Revoke(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Model(&sessionDatamodel.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"is_active": false,
			"status":    sessionDatamodel.StatusRevoked,
		}).Error
}

func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&sessionDatamodel.Session{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Updates(map[string]interface{}{
			"is_active": false,
			"status":    sessionDatamodel.StatusRevoked,
		})
	return result.RowsAffected, result.Error
}

func (r *SessionRepository) RotateRefresh(ctx context.Context, sessionID, refreshHash string, rotation int) error {
	return r.db.WithContext(ctx).Model(&sessionDatamodel.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"refresh_token_hash": refreshHash,
			"rotation_counter":   rotation,
		}).Error
}

// LockoutRepository stores one escalation record per user, upserted on the
// user_id primary key.
type LockoutRepository struct {
	db *gorm.DB
}

func NewLockoutRepository(db *gorm.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

func (r *LockoutRepository) Get(ctx context.Context, userID string) (*sessionDatamodel.LockoutRecord, error) {
	var record sessionDatamodel.LockoutRecord
	if err := r.db.WithContext(ctx).First(&record, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *LockoutRepository) Save(ctx context.Context, record *sessionDatamodel.LockoutRecord) error {
	record.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"failed_attempt_count", "lockout_stage", "locked_until",
			"is_blocked", "last_failure_at", "updated_at",
		}),
	}).Create(record).Error
}

// IdentityStore resolves a login identifier against the users table. The
// identifier may be an email, username, phone number or short code; all four
// match the same way so callers cannot probe which field exists.
type IdentityStore struct {
	db *gorm.DB
}

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) LookupByIdentifier(ctx context.Context, identifier string) (*authdomain.Identity, error) {
	var identity authdomain.Identity
	query := `SELECT id, password_hash, is_active FROM users
	          WHERE email = ? OR username = ? OR phone_number = ? OR short_code = ?`

	row := s.db.WithContext(ctx).Raw(query, identifier, identifier, identifier, identifier).Row()
	if err := row.Scan(&identity.UserID, &identity.PasswordHash, &identity.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &identity, nil
}
