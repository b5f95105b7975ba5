package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/frahmantamala/access-management/internal/audit"
	auditDatamodel "github.com/frahmantamala/access-management/internal/core/datamodel/audit"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Append(ctx context.Context, entry audit.Entry) error {
	oldJSON, err := marshalValues(entry.Old)
	if err != nil {
		return fmt.Errorf("marshal old values: %w", err)
	}
	newJSON, err := marshalValues(entry.New)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}

	row := auditDatamodel.AuditLog{
		Action:      entry.Action,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		OldValues:   oldJSON,
		NewValues:   newJSON,
		PerformedBy: entry.PerformedBy,
		IPAddress:   entry.IPAddress,
		CreatedAt:   entry.OccurredAt,
	}

	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *Repository) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]audit.Entry, error) {
	var rows []auditDatamodel.AuditLog
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, audit.Entry{
			Action:      row.Action,
			EntityType:  row.EntityType,
			EntityID:    row.EntityID,
			Old:         json.RawMessage(row.OldValues),
			New:         json.RawMessage(row.NewValues),
			PerformedBy: row.PerformedBy,
			IPAddress:   row.IPAddress,
			OccurredAt:  row.CreatedAt,
		})
	}
	return entries, nil
}

func marshalValues(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
