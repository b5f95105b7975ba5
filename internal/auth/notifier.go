package auth

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/access-management/internal/core/events"
)

// EventNotifier publishes security notifications onto the event bus instead
// of calling a delivery channel directly. Subscribers decide how alerts reach
// the user (email, SMS, webhook).
type EventNotifier struct {
	bus    *events.EventBus
	logger *slog.Logger
}

func NewEventNotifier(bus *events.EventBus, logger *slog.Logger) *EventNotifier {
	return &EventNotifier{bus: bus, logger: logger}
}

func (n *EventNotifier) SendSecurityAlert(ctx context.Context, userID, kind string) {
	if err := n.bus.Publish(ctx, events.NewSecurityAlertEvent(userID, kind)); err != nil {
		n.logger.Error("failed to publish security alert", "user_id", userID, "kind", kind, "error", err)
	}
}

func (n *EventNotifier) NotifySessionSuperseded(ctx context.Context, userID, sessionID string) {
	if err := n.bus.Publish(ctx, events.NewSessionSupersededEvent(userID, sessionID)); err != nil {
		n.logger.Error("failed to publish session superseded event", "user_id", userID, "session_id", sessionID, "error", err)
	}
}
