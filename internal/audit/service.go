package audit

import (
	"context"
	"log/slog"
	"time"
)

// Service writes entries through the repository before returning, so audit
// completeness is never racy with response delivery.
type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Record(ctx context.Context, entry Entry) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}

	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "audit append failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"error", err)
		return err
	}
	return nil
}

func (s *Service) History(ctx context.Context, entityType, entityID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListByEntity(ctx, entityType, entityID, limit)
}
