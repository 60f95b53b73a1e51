package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record is a normalized synced item (email, calendar event, CRM contact)
// written by the sync adapters and read by knowledge search.
type Record struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Source     string         `json:"source"` // gmail | calendar | hubspot
	Kind       string         `json:"kind"`   // message | event | contact
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	OccurredAt time.Time      `json:"occurredAt"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SaveRecord upserts a synced record keyed by id.
func (s *Store) SaveRecord(ctx context.Context, r *Record) error {
	meta, err := marshalJSON(r.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO synced_records (id, user_id, source, kind, title, body, occurred_at, metadata, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, body = excluded.body, occurred_at = excluded.occurred_at,
			metadata = excluded.metadata, updated_at = excluded.updated_at`,
		r.ID, r.UserID, r.Source, r.Kind, r.Title, r.Body, r.OccurredAt.UTC(), meta, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// SearchRecords does a case-insensitive substring search over title and
// body, newest first.
func (s *Store) SearchRecords(ctx context.Context, userID, query string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 10
	}
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, source, kind, title, body, occurred_at, metadata
		 FROM synced_records
		 WHERE user_id = ? AND (title LIKE ? COLLATE NOCASE OR body LIKE ? COLLATE NOCASE)
		 ORDER BY occurred_at DESC LIMIT ?`,
		userID, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// RecordsInRange returns records whose occurred_at falls inside [from, to],
// newest first.
func (s *Store) RecordsInRange(ctx context.Context, userID string, from, to time.Time, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, source, kind, title, body, occurred_at, metadata
		 FROM synced_records
		 WHERE user_id = ? AND occurred_at >= ? AND occurred_at <= ?
		 ORDER BY occurred_at DESC LIMIT ?`,
		userID, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records in range: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// CountContacts returns the number of CRM contact records for a user.
func (s *Store) CountContacts(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM synced_records WHERE user_id = ? AND kind = 'contact'`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count contacts: %w", err)
	}
	return n, nil
}

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		var (
			r    Record
			meta sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Source, &r.Kind, &r.Title, &r.Body, &r.OccurredAt, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.Metadata = unmarshalJSON(meta)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Integrations reports which providers a user has connected.
type Integrations struct {
	UserID  string `json:"userId"`
	Google  bool   `json:"google"`
	Hubspot bool   `json:"hubspot"`
}

// SetIntegration flags a provider ("google" or "hubspot") as connected or
// not for a user. Token handling lives outside this system.
func (s *Store) SetIntegration(ctx context.Context, userID, provider string, connected bool) error {
	val := 0
	if connected {
		val = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_integrations (user_id, provider, connected, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, provider) DO UPDATE SET connected = excluded.connected, updated_at = excluded.updated_at`,
		userID, provider, val, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set integration: %w", err)
	}
	return nil
}

// GetIntegrations returns a user's provider connection flags.
func (s *Store) GetIntegrations(ctx context.Context, userID string) (Integrations, error) {
	out := Integrations{UserID: userID}
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, connected FROM user_integrations WHERE user_id = ?`, userID)
	if err != nil {
		return out, fmt.Errorf("failed to get integrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			provider  string
			connected int
		)
		if err := rows.Scan(&provider, &connected); err != nil {
			return out, fmt.Errorf("failed to scan integration: %w", err)
		}
		switch provider {
		case "google":
			out.Google = connected == 1
		case "hubspot":
			out.Hubspot = connected == 1
		}
	}
	return out, rows.Err()
}

// ListConnectedUsers returns every user with at least one connected
// provider, ordered by user id for a stable cycle order.
func (s *Store) ListConnectedUsers(ctx context.Context) ([]Integrations, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, provider, connected FROM user_integrations ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected users: %w", err)
	}
	defer rows.Close()

	byUser := make(map[string]*Integrations)
	var order []string
	for rows.Next() {
		var (
			userID    string
			provider  string
			connected int
		)
		if err := rows.Scan(&userID, &provider, &connected); err != nil {
			return nil, fmt.Errorf("failed to scan connected user: %w", err)
		}
		ui, ok := byUser[userID]
		if !ok {
			ui = &Integrations{UserID: userID}
			byUser[userID] = ui
			order = append(order, userID)
		}
		switch provider {
		case "google":
			ui.Google = connected == 1
		case "hubspot":
			ui.Hubspot = connected == 1
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []Integrations
	for _, id := range order {
		ui := byUser[id]
		if ui.Google || ui.Hubspot {
			out = append(out, *ui)
		}
	}
	return out, nil
}
