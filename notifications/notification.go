// Package notifications keeps the local notification list consistent with
// the server: push events arrive over a persistent channel and are merged
// into a newest-first cache with read-state reconciliation.
package notifications

import "time"

// Type classifies a notification for presentation.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// Notification is one server-side notification. ID is unique and stable;
// ordering is newest-first by CreatedAt.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Type      Type      `json:"type"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
