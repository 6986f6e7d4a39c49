package models

import "time"

// Auth event types
const (
	EventTypeSignedIn       = "SIGNED_IN"
	EventTypeSignedOut      = "SIGNED_OUT"
	EventTypeTokenRefreshed = "TOKEN_REFRESHED"
	EventTypeUserUpdated    = "USER_UPDATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthEvent is published whenever the session of a client changes
type AuthEvent struct {
	BaseEvent
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id,omitempty"`
	Email    string `json:"email,omitempty"`
}

// User returns the session user carried by the event, nil for sign-out
func (e *AuthEvent) User() *User {
	if e.EventType == EventTypeSignedOut || e.UserID == "" {
		return nil
	}
	return &User{ID: e.UserID, Email: e.Email}
}

// SessionChange is broadcast in-process when the stored session user changes
type SessionChange struct {
	Previous *User
	Current  *User
}
