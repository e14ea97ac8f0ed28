// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sweeparr/sweeparr/internal/dbinterface"
)

var (
	ErrDeletionNotFound      = errors.New("scheduled deletion not found")
	ErrDeletionNotCancelable = errors.New("scheduled deletion can no longer be cancelled")
)

// DeletionStatus is the run-level state machine:
// pending -> executing -> {completed, failed, waiting_watcher};
// cancelled is reachable only from pending/reminder_sent.
type DeletionStatus string

const (
	DeletionStatusPending        DeletionStatus = "pending"
	DeletionStatusReminderSent   DeletionStatus = "reminder_sent"
	DeletionStatusExecuting      DeletionStatus = "executing"
	DeletionStatusCompleted      DeletionStatus = "completed"
	DeletionStatusFailed         DeletionStatus = "failed"
	DeletionStatusWaitingWatcher DeletionStatus = "waiting_watcher"
	DeletionStatusCancelled      DeletionStatus = "cancelled"
)

// DeletionItemStatus is the per-item terminal state.
type DeletionItemStatus string

const (
	DeletionItemStatusPending DeletionItemStatus = "pending"
	DeletionItemStatusDeleted DeletionItemStatus = "deleted"
	DeletionItemStatusFailed  DeletionItemStatus = "failed"
)

// ScheduledDeletion is one unit of work for the deletion orchestrator.
type ScheduledDeletion struct {
	ID           int            `json:"id"`
	Status       DeletionStatus `json:"status"`
	RequestedBy  *string        `json:"requestedBy,omitempty"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	FinishedAt   *time.Time     `json:"finishedAt,omitempty"`
	SuccessCount int            `json:"successCount"`
	FailedCount  int            `json:"failedCount"`
	Report       *string        `json:"report,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// ScheduledDeletionItem targets one catalogue entry and a set of media file
// ids, with option flags for what the orchestrator should do.
type ScheduledDeletionItem struct {
	ID                 int                `json:"id"`
	DeletionID         int                `json:"deletionId"`
	MovieID            *int               `json:"movieId,omitempty"`
	MediaFileIDs       []int              `json:"mediaFileIds"`
	DeleteFiles        bool               `json:"deleteFiles"`
	DereferenceManager bool               `json:"dereferenceManager"`
	DereferencePlayer  bool               `json:"dereferencePlayer"`
	Status             DeletionItemStatus `json:"status"`
	ErrorMessage       *string            `json:"errorMessage,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

type DeletionStore struct {
	db dbinterface.TxBeginner
}

func NewDeletionStore(db dbinterface.TxBeginner) *DeletionStore {
	return &DeletionStore{db: db}
}

const deletionColumns = `id, status, requested_by, started_at, finished_at, success_count, failed_count, report, created_at, updated_at`

func scanDeletion(row interface{ Scan(...any) error }) (*ScheduledDeletion, error) {
	var d ScheduledDeletion
	var requestedBy, report sql.NullString
	var startedAt, finishedAt sql.NullTime

	if err := row.Scan(&d.ID, &d.Status, &requestedBy, &startedAt, &finishedAt,
		&d.SuccessCount, &d.FailedCount, &report, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}

	if requestedBy.Valid {
		d.RequestedBy = &requestedBy.String
	}
	if report.Valid {
		d.Report = &report.String
	}
	if startedAt.Valid {
		d.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		d.FinishedAt = &finishedAt.Time
	}
	return &d, nil
}

func (s *DeletionStore) Get(ctx context.Context, id int) (*ScheduledDeletion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deletionColumns+` FROM scheduled_deletions WHERE id = ?`, id)
	d, err := scanDeletion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeletionNotFound
		}
		return nil, fmt.Errorf("failed to get scheduled deletion: %w", err)
	}
	return d, nil
}

// Create inserts a deletion with its items in one transaction.
func (s *DeletionStore) Create(ctx context.Context, requestedBy *string, items []*ScheduledDeletionItem) (*ScheduledDeletion, error) {
	if len(items) == 0 {
		return nil, errors.New("a scheduled deletion needs at least one item")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO scheduled_deletions (status, requested_by) VALUES ('pending', ?)`, nullableString(requestedBy))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduled deletion: %w", err)
	}
	deletionID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		ids, err := json.Marshal(item.MediaFileIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode media file ids: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scheduled_deletion_items
				(deletion_id, movie_id, media_file_ids, delete_files, dereference_manager, dereference_player)
			VALUES (?, ?, ?, ?, ?, ?)
		`, deletionID, nullableInt(item.MovieID), string(ids),
			item.DeleteFiles, item.DereferenceManager, item.DereferencePlayer); err != nil {
			return nil, fmt.Errorf("failed to create deletion item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.Get(ctx, int(deletionID))
}

func (s *DeletionStore) ListItems(ctx context.Context, deletionID int) ([]*ScheduledDeletionItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, deletion_id, movie_id, media_file_ids, delete_files, dereference_manager, dereference_player, status, error_message, created_at, updated_at
		FROM scheduled_deletion_items WHERE deletion_id = ? ORDER BY id ASC
	`, deletionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deletion items: %w", err)
	}
	defer rows.Close()

	var items []*ScheduledDeletionItem
	for rows.Next() {
		var item ScheduledDeletionItem
		var movieID sql.NullInt64
		var rawIDs string
		var errorMessage sql.NullString

		if err := rows.Scan(&item.ID, &item.DeletionID, &movieID, &rawIDs,
			&item.DeleteFiles, &item.DereferenceManager, &item.DereferencePlayer,
			&item.Status, &errorMessage, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deletion item: %w", err)
		}

		if movieID.Valid {
			id := int(movieID.Int64)
			item.MovieID = &id
		}
		if errorMessage.Valid {
			item.ErrorMessage = &errorMessage.String
		}
		if err := json.Unmarshal([]byte(rawIDs), &item.MediaFileIDs); err != nil {
			return nil, fmt.Errorf("failed to decode media file ids: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func (s *DeletionStore) SetStatus(ctx context.Context, id int, status DeletionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_deletions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to set deletion status: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrDeletionNotFound
	}
	return nil
}

// Cancel transitions to cancelled only from pending or reminder_sent.
func (s *DeletionStore) Cancel(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_deletions SET status = 'cancelled', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('pending', 'reminder_sent')
	`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel deletion: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrDeletionNotCancelable
	}
	return nil
}

// FinishRun records the terminal status, counters and serialized report.
func (s *DeletionStore) FinishRun(ctx context.Context, id int, status DeletionStatus, startedAt, finishedAt time.Time, successCount, failedCount int, report string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_deletions
		SET status = ?, started_at = ?, finished_at = ?, success_count = ?, failed_count = ?, report = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(status), startedAt.UTC(), finishedAt.UTC(), successCount, failedCount, report, id)
	if err != nil {
		return fmt.Errorf("failed to finish deletion run: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrDeletionNotFound
	}
	return nil
}

// SetItemResult records an item's terminal status and optional error text.
func (s *DeletionStore) SetItemResult(ctx context.Context, itemID int, status DeletionItemStatus, errorMessage *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_deletion_items
		SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(status), nullableString(errorMessage), itemID)
	if err != nil {
		return fmt.Errorf("failed to set deletion item result: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrDeletionNotFound
	}
	return nil
}
