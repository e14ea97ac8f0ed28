// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeparr/sweeparr/internal/dbinterface"
)

// ActivityEntry is one audit row. Detail is an opaque JSON object.
type ActivityEntry struct {
	ID        int             `json:"id"`
	Action    string          `json:"action"`
	Actor     *string         `json:"actor,omitempty"`
	Detail    json.RawMessage `json:"detail"`
	CreatedAt time.Time       `json:"createdAt"`
}

type ActivityLogStore struct {
	db dbinterface.Querier
}

func NewActivityLogStore(db dbinterface.Querier) *ActivityLogStore {
	return &ActivityLogStore{db: db}
}

// Append records an action with an arbitrary detail payload. A nil detail
// becomes an empty object.
func (s *ActivityLogStore) Append(ctx context.Context, action string, actor *string, detail any) error {
	raw := []byte("{}")
	if detail != nil {
		encoded, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("failed to encode activity detail: %w", err)
		}
		raw = encoded
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (action, actor, detail) VALUES (?, ?, ?)`,
		action, nullableString(actor), string(raw))
	if err != nil {
		return fmt.Errorf("failed to append activity log: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *ActivityLogStore) Recent(ctx context.Context, limit int) ([]*ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, actor, detail, created_at FROM activity_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity log: %w", err)
	}
	defer rows.Close()

	var entries []*ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var actor sql.NullString
		var detail string
		if err := rows.Scan(&e.ID, &e.Action, &actor, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		if actor.Valid {
			e.Actor = &actor.String
		}
		e.Detail = json.RawMessage(detail)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
