package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/user-management/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered         EventType = "user_registered"
	EventUserUpdated            EventType = "user_updated"
	EventUserDeleted            EventType = "user_deleted"
	EventUserActivated          EventType = "user_activated"
	EventUserDeactivated        EventType = "user_deactivated"
	EventPasswordChanged        EventType = "password_changed"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventPasswordResetCompleted EventType = "password_reset_completed"
)

// Actor identifies who triggered an event. Anonymous actors have an empty Username.
type Actor struct {
	Username string      `json:"username,omitempty"`
	Role     domain.Role `json:"role,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType EventType, userID string, actor Actor, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// UserRegisteredPayload payload.
type UserRegisteredPayload struct {
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     domain.Role `json:"role"`
}

// UserUpdatedPayload lists the fields that changed.
type UserUpdatedPayload struct {
	Fields []string `json:"fields"`
}

// PasswordResetRequestedPayload carries what a notifier needs to deliver the reset link.
type PasswordResetRequestedPayload struct {
	Email     string    `json:"email"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}
