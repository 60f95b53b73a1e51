package connect

import (
	"context"
	"fmt"
)

// Unconfigured clients stand in when the host application has not wired a
// real connector. Every side-effecting call fails with a descriptive error,
// which the tool executor converts into the uniform error envelope so the
// model can report the limitation instead of crashing the task.

type UnconfiguredMail struct{}

func (UnconfiguredMail) Send(ctx context.Context, userID string, msg OutboundEmail) (string, error) {
	return "", fmt.Errorf("google mail integration is not configured")
}

func (UnconfiguredMail) Draft(ctx context.Context, userID string, msg OutboundEmail) (string, error) {
	return "", fmt.Errorf("google mail integration is not configured")
}

type UnconfiguredCalendar struct{}

func (UnconfiguredCalendar) CreateEvent(ctx context.Context, userID string, ev CalendarEvent) (string, error) {
	return "", fmt.Errorf("google calendar integration is not configured")
}

func (UnconfiguredCalendar) UpdateEvent(ctx context.Context, userID string, ev CalendarEvent) error {
	return fmt.Errorf("google calendar integration is not configured")
}

type UnconfiguredCRM struct{}

func (UnconfiguredCRM) UpsertContact(ctx context.Context, userID string, c Contact) (Contact, error) {
	return Contact{}, fmt.Errorf("hubspot integration is not configured")
}

func (UnconfiguredCRM) LookupContact(ctx context.Context, userID, query string) ([]Contact, error) {
	return nil, fmt.Errorf("hubspot integration is not configured")
}
