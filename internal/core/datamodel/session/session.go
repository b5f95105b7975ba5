package session

import "time"

const (
	StatusActive     = "active"
	StatusSuperseded = "superseded"
	StatusRevoked    = "revoked"
	StatusExpired    = "expired"
)

// Session rows keep the single-active-session invariant: at most one row per
// user has IsActive=true, enforced transactionally at creation.
type Session struct {
	ID               string    `gorm:"primaryKey;column:id"`
	UserID           string    `gorm:"column:user_id;not null;index"`
	RefreshTokenHash string    `gorm:"column:refresh_token_hash;not null"`
	RotationCounter  int       `gorm:"column:rotation_counter;default:0"`
	DeviceInfo       string    `gorm:"column:device_info"`
	IPAddress        string    `gorm:"column:ip_address"`
	Status           string    `gorm:"column:status;not null;default:active"`
	IsActive         bool      `gorm:"column:is_active;not null;index"`
	CreatedAt        time.Time `gorm:"column:created_at;default:now()"`
	LastActivityAt   time.Time `gorm:"column:last_activity_at;not null"`
	ExpiresAt        time.Time `gorm:"column:expires_at;not null"`
}

func (Session) TableName() string { return "sessions" }

// LockoutRecord tracks failed login escalation per account. IsBlocked is
// terminal and cleared only by manual unblock.
type LockoutRecord struct {
	UserID             string     `gorm:"primaryKey;column:user_id"`
	FailedAttemptCount int        `gorm:"column:failed_attempt_count;default:0"`
	LockoutStage       int        `gorm:"column:lockout_stage;default:0"`
	LockedUntil        *time.Time `gorm:"column:locked_until"`
	IsBlocked          bool       `gorm:"column:is_blocked;default:false"`
	LastFailureAt      *time.Time `gorm:"column:last_failure_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;default:now()"`
}

func (LockoutRecord) TableName() string { return "lockout_records" }
