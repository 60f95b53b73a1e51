package tools

import (
	"context"
	"fmt"
	"time"

	"aria-core/src/internal/connect"
	"aria-core/src/internal/store"
)

func calendarEventSchema(requireID bool) map[string]any {
	props := map[string]any{
		"eventId":     stringProp("Calendar event id (required for updates)"),
		"title":       stringProp("Event title"),
		"start":       stringProp("Start time, RFC 3339"),
		"end":         stringProp("End time, RFC 3339"),
		"attendees":   stringArrayProp("Attendee email addresses"),
		"location":    stringProp("Event location"),
		"description": stringProp("Event description"),
		"timezone":    stringProp("IANA timezone for bare local times, e.g. America/New_York"),
	}
	required := []string{"title", "start", "end"}
	if requireID {
		required = append([]string{"eventId"}, required...)
	}
	return objectSchema(props, required...)
}

func calendarEventFromInput(call CallContext, input map[string]any) (connect.CalendarEvent, error) {
	loc := resolveLocation(strArg(input, "timezone"), call.TimeZone)
	start, err := parseWhen(strArg(input, "start"), loc)
	if err != nil {
		return connect.CalendarEvent{}, fmt.Errorf("start: %w", err)
	}
	end, err := parseWhen(strArg(input, "end"), loc)
	if err != nil {
		return connect.CalendarEvent{}, fmt.Errorf("end: %w", err)
	}
	if !end.After(start) {
		return connect.CalendarEvent{}, fmt.Errorf("end must be after start")
	}
	return connect.CalendarEvent{
		ID:          strArg(input, "eventId"),
		Title:       strArg(input, "title"),
		Start:       start,
		End:         end,
		Attendees:   strSliceArg(input, "attendees"),
		Location:    strArg(input, "location"),
		Description: strArg(input, "description"),
	}, nil
}

// saveEventRecord mirrors the external mutation into the local record
// store, so calendar changes are searchable before the next sync pass.
func saveEventRecord(ctx context.Context, d Deps, userID string, ev connect.CalendarEvent) error {
	return d.Store.SaveRecord(ctx, &store.Record{
		ID:         "calendar:" + ev.ID,
		UserID:     userID,
		Source:     "calendar",
		Kind:       "event",
		Title:      ev.Title,
		Body:       ev.Description,
		OccurredAt: ev.Start,
		Metadata:   map[string]any{"location": ev.Location, "attendees": ev.Attendees},
	})
}

// createCalendarEventTool is not idempotent: each call creates a new event.
func createCalendarEventTool(d Deps) Tool {
	return Tool{
		Name:        "createCalendarEvent",
		Description: "Create a new event on the user's calendar.",
		Parameters:  calendarEventSchema(false),
		Handler: func(ctx context.Context, call CallContext, input map[string]any) (any, error) {
			ev, err := calendarEventFromInput(call, input)
			if err != nil {
				return nil, err
			}
			id, err := d.Calendar.CreateEvent(ctx, call.UserID, ev)
			if err != nil {
				return nil, fmt.Errorf("create calendar event: %w", err)
			}
			ev.ID = id
			if err := saveEventRecord(ctx, d, call.UserID, ev); err != nil {
				return nil, fmt.Errorf("record calendar event: %w", err)
			}
			return map[string]any{"eventId": id, "title": ev.Title, "start": ev.Start.Format(time.RFC3339)}, nil
		},
	}
}

// updateCalendarEventTool is idempotent by event id.
func updateCalendarEventTool(d Deps) Tool {
	return Tool{
		Name:        "updateCalendarEvent",
		Description: "Update an existing event on the user's calendar by event id.",
		Parameters:  calendarEventSchema(true),
		Handler: func(ctx context.Context, call CallContext, input map[string]any) (any, error) {
			ev, err := calendarEventFromInput(call, input)
			if err != nil {
				return nil, err
			}
			if ev.ID == "" {
				return nil, fmt.Errorf("eventId is required")
			}
			if err := d.Calendar.UpdateEvent(ctx, call.UserID, ev); err != nil {
				return nil, fmt.Errorf("update calendar event: %w", err)
			}
			if err := saveEventRecord(ctx, d, call.UserID, ev); err != nil {
				return nil, fmt.Errorf("record calendar event: %w", err)
			}
			return map[string]any{"eventId": ev.ID, "title": ev.Title, "updated": true}, nil
		},
	}
}
