package events

import "time"

// Event is the contract between sync adapters and the instruction matcher.
// Types are adapter-defined dotted strings; the matcher compares them by
// exact equality against instruction triggers.
type Event struct {
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt,omitempty"`
}

// Event types emitted by the built-in adapters.
const (
	TypeGmailMessageCreated   = "gmail.message_created"
	TypeCalendarEventCreated  = "calendar.event_created"
	TypeCalendarEventUpdated  = "calendar.event_updated"
	TypeHubspotContactCreated = "hubspot.contact_created"
	TypeHubspotContactUpdated = "hubspot.contact_updated"
)
