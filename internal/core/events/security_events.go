package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeSecurityAlert     = "security.alert"
	EventTypeSessionSuperseded = "session.superseded"
)

type SecurityAlertEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
}

func NewSecurityAlertEvent(userID, kind string) *SecurityAlertEvent {
	return &SecurityAlertEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeSecurityAlert,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"user_id": userID,
				"kind":    kind,
			},
		},
		UserID: userID,
		Kind:   kind,
	}
}

type SessionSupersededEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func NewSessionSupersededEvent(userID, sessionID string) *SessionSupersededEvent {
	return &SessionSupersededEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeSessionSuperseded,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"user_id":    userID,
				"session_id": sessionID,
			},
		},
		UserID:    userID,
		SessionID: sessionID,
	}
}
