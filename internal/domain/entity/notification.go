package entity

import "time"

// NotificationVariant mirrors the toast styles the dashboard renders.
type NotificationVariant string

const (
	NotificationDefault     NotificationVariant = "default"
	NotificationDestructive NotificationVariant = "destructive"
)

// Notification is a user-facing message about a session or transaction event.
type Notification struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Variant     NotificationVariant `json:"variant"`
	RequestID   string              `json:"requestId,omitempty"`
	At          time.Time           `json:"at"`
}
