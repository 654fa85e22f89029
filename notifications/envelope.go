package notifications

import (
	"encoding/json"
	"errors"
	"strings"
)

// Protocol is the subprotocol negotiated on connect. The server treats the
// connection as an implicit subscription; the client sends no domain data.
const Protocol = "identitykit.notifications.v1"

// Event type constants (wire-stable).
const (
	// EventNotification delivers a new or updated notification.
	EventNotification = "notification"
	// EventNotificationRead flips read-state for already-delivered IDs.
	EventNotificationRead = "notification_read"
	// EventNotificationReadAll flips read-state for everything.
	EventNotificationReadAll = "notification_read_all"
)

// Envelope is the canonical wire wrapper for push events.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ReadPayload is the data shape of EventNotificationRead.
type ReadPayload struct {
	IDs []string `json:"ids"`
}

// Validate performs structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	return nil
}
