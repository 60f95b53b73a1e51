package tools

import (
	"context"
	"fmt"
	"time"

	"aria-core/src/internal/connect"
)

func emailSchema() map[string]any {
	return objectSchema(map[string]any{
		"to":      stringArrayProp("Recipient email addresses"),
		"cc":      stringArrayProp("CC email addresses"),
		"subject": stringProp("Email subject line"),
		"body":    stringProp("Plain-text email body"),
	}, "to", "subject", "body")
}

func emailFromInput(input map[string]any) (connect.OutboundEmail, error) {
	msg := connect.OutboundEmail{
		To:      strSliceArg(input, "to"),
		Cc:      strSliceArg(input, "cc"),
		Subject: strArg(input, "subject"),
		Body:    strArg(input, "body"),
	}
	if len(msg.To) == 0 {
		return msg, fmt.Errorf("at least one recipient is required")
	}
	return msg, nil
}

// sendEmailTool sends immediately. Not idempotent: duplicate calls
// duplicate messages.
func sendEmailTool(d Deps) Tool {
	return Tool{
		Name:        "sendEmail",
		Description: "Send an email from the user's mailbox. The email is delivered immediately.",
		Parameters:  emailSchema(),
		Handler: func(ctx context.Context, call CallContext, input map[string]any) (any, error) {
			msg, err := emailFromInput(input)
			if err != nil {
				return nil, err
			}
			id, err := d.Mail.Send(ctx, call.UserID, msg)
			if err != nil {
				return nil, fmt.Errorf("send email: %w", err)
			}
			return map[string]any{"messageId": id, "to": msg.To, "subject": msg.Subject}, nil
		},
	}
}

func draftEmailTool(d Deps) Tool {
	return Tool{
		Name:        "draftEmail",
		Description: "Create an email draft in the user's mailbox without sending it.",
		Parameters:  emailSchema(),
		Handler: func(ctx context.Context, call CallContext, input map[string]any) (any, error) {
			msg, err := emailFromInput(input)
			if err != nil {
				return nil, err
			}
			id, err := d.Mail.Draft(ctx, call.UserID, msg)
			if err != nil {
				return nil, fmt.Errorf("draft email: %w", err)
			}
			return map[string]any{"draftId": id, "to": msg.To, "subject": msg.Subject}, nil
		},
	}
}

// parseWhen accepts RFC 3339 or a bare "2006-01-02T15:04" local form,
// interpreted in the call's resolved timezone.
func parseWhen(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04", value, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q, expected RFC 3339", value)
}
