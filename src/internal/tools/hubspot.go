package tools

import (
	"context"
	"fmt"
	"strings"

	"aria-core/src/internal/connect"
	"aria-core/src/internal/store"
)

// createOrUpdateHubspotContactTool upserts a CRM contact. Idempotent when
// contactId is supplied: the same id updates in place, never duplicates.
func createOrUpdateHubspotContactTool(d Deps) Tool {
	return Tool{
		Name:        "createOrUpdateHubspotContact",
		Description: "Create a HubSpot contact, or update an existing one when contactId is supplied.",
		Parameters: objectSchema(map[string]any{
			"contactId": stringProp("Existing HubSpot contact id; omit to create"),
			"email":     stringProp("Contact email address"),
			"firstName": stringProp("First name"),
			"lastName":  stringProp("Last name"),
			"company":   stringProp("Company name"),
		}, "email"),
		Handler: func(ctx context.Context, call CallContext, input map[string]any) (any, error) {
			contact := connect.Contact{
				ID:        strArg(input, "contactId"),
				Email:     strArg(input, "email"),
				FirstName: strArg(input, "firstName"),
				LastName:  strArg(input, "lastName"),
				Company:   strArg(input, "company"),
			}
			saved, err := d.CRM.UpsertContact(ctx, call.UserID, contact)
			if err != nil {
				return nil, fmt.Errorf("upsert hubspot contact: %w", err)
			}
			if err := d.Store.SaveRecord(ctx, &store.Record{
				ID:         "hubspot:" + saved.ID,
				UserID:     call.UserID,
				Source:     "hubspot",
				Kind:       "contact",
				Title:      contactDisplayName(saved),
				Body:       saved.Email,
				OccurredAt: d.now(),
				Metadata:   map[string]any{"company": saved.Company},
			}); err != nil {
				return nil, fmt.Errorf("record hubspot contact: %w", err)
			}
			return map[string]any{"contactId": saved.ID, "email": saved.Email}, nil
		},
	}
}

func lookupHubspotContactTool(d Deps) Tool {
	return Tool{
		Name:        "lookupHubspotContact",
		Description: "Look up HubSpot contacts by name or email. Read-only.",
		Parameters: objectSchema(map[string]any{
			"query": stringProp("Name or email to search for"),
		}, "query"),
		Handler: func(ctx context.Context, call CallContext, input map[string]any) (any, error) {
			contacts, err := d.CRM.LookupContact(ctx, call.UserID, strArg(input, "query"))
			if err != nil {
				return nil, fmt.Errorf("lookup hubspot contact: %w", err)
			}
			return map[string]any{"contacts": contacts, "count": len(contacts)}, nil
		},
	}
}

func contactDisplayName(c connect.Contact) string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		return c.Email
	}
	return name
}
