// Package connect declares the contracts for the external systems the
// engine acts on. OAuth, token refresh, and the raw fetch-and-normalize
// connectors live in the host application; this engine only depends on the
// interfaces below.
package connect

import (
	"context"
	"time"

	"aria-core/src/internal/events"
)

// SyncCounts is the per-source report of one sync pass.
type SyncCounts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
}

// SyncSource is one data source adapter (mailbox, calendar, CRM). Sync
// persists new/changed records (through whatever sink the adapter was built
// with) and returns the typed events those changes produced.
type SyncSource interface {
	// Name is the per-source report key: "gmail", "calendar", or "hubspot".
	Name() string
	// Provider is the integration gate: "google" or "hubspot".
	Provider() string
	Sync(ctx context.Context, userID string) (SyncCounts, []events.Event, error)
}

type OutboundEmail struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// MailClient sends and drafts email on the user's behalf.
type MailClient interface {
	Send(ctx context.Context, userID string, msg OutboundEmail) (messageID string, err error)
	Draft(ctx context.Context, userID string, msg OutboundEmail) (draftID string, err error)
}

type CalendarEvent struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
}

// CalendarClient mutates the user's calendar.
type CalendarClient interface {
	CreateEvent(ctx context.Context, userID string, ev CalendarEvent) (eventID string, err error)
	UpdateEvent(ctx context.Context, userID string, ev CalendarEvent) error
}

type Contact struct {
	ID         string            `json:"id,omitempty"`
	Email      string            `json:"email,omitempty"`
	FirstName  string            `json:"firstName,omitempty"`
	LastName   string            `json:"lastName,omitempty"`
	Company    string            `json:"company,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// CRMClient reads and upserts CRM contacts. Upsert is idempotent when the
// contact carries an id: the same id updates in place.
type CRMClient interface {
	UpsertContact(ctx context.Context, userID string, c Contact) (Contact, error)
	LookupContact(ctx context.Context, userID, query string) ([]Contact, error)
}
