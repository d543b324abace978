package notify

import (
	"time"

	"vaultsync/internal/app/port"
	"vaultsync/internal/domain/entity"
)

// Notifier logs each notification and, when a hub is set, publishes it to live clients.
type Notifier struct {
	hub    *Hub
	logger port.Logger
	now    func() time.Time
}

// NewNotifier creates a Notifier. hub may be nil for log-only delivery (the CLI).
func NewNotifier(hub *Hub, logger port.Logger) *Notifier {
	return &Notifier{hub: hub, logger: logger, now: time.Now}
}

// Notify implements port.Notifier.
func (n *Notifier) Notify(note entity.Notification) {
	if note.At.IsZero() {
		note.At = n.now()
	}
	args := []any{"title", note.Title, "description", note.Description}
	if note.RequestID != "" {
		args = append(args, "requestId", note.RequestID)
	}
	if note.Variant == entity.NotificationDestructive {
		n.logger.Warn("Notification", args...)
	} else {
		n.logger.Info("Notification", args...)
	}
	if n.hub != nil {
		n.hub.Publish(EventNotification, note)
	}
}

var _ port.Notifier = (*Notifier)(nil)
