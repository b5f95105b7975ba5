package audit

import "time"

// AuditLog rows are append-only. There is no update or delete path anywhere
// in the codebase and the table carries no updated_at column on purpose.
type AuditLog struct {
	ID          int64     `gorm:"primaryKey"`
	Action      string    `gorm:"column:action;not null;index"`
	EntityType  string    `gorm:"column:entity_type;not null;index"`
	EntityID    string    `gorm:"column:entity_id;not null"`
	OldValues   string    `gorm:"column:old_values;type:jsonb"`
	NewValues   string    `gorm:"column:new_values;type:jsonb"`
	PerformedBy string    `gorm:"column:performed_by;index"`
	IPAddress   string    `gorm:"column:ip_address"`
	CreatedAt   time.Time `gorm:"column:created_at;default:now()"`
}

func (AuditLog) TableName() string { return "audit_logs" }
