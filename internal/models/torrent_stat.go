// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sweeparr/sweeparr/internal/dbinterface"
)

var ErrTorrentStatNotFound = errors.New("torrent stat not found")

// TorrentStatus is the reduced torrent state tracked by the reconciler.
type TorrentStatus string

const (
	TorrentStatusSeeding TorrentStatus = "seeding"
	TorrentStatusPaused  TorrentStatus = "paused"
	TorrentStatusStalled TorrentStatus = "stalled"
	TorrentStatusError   TorrentStatus = "error"
	TorrentStatusRemoved TorrentStatus = "removed"
)

// TorrentStat is one torrent observed in the client, keyed by its normalized
// hash. Cross-seeds appear as multiple rows pointing at one media file.
type TorrentStat struct {
	ID              int           `json:"id"`
	Hash            string        `json:"hash"`
	MediaFileID     *int          `json:"mediaFileId,omitempty"`
	Name            string        `json:"name"`
	TrackerDomain   string        `json:"trackerDomain"`
	Ratio           float64       `json:"ratio"`
	SeedTimeSeconds int64         `json:"seedTimeSeconds"`
	UploadedBytes   int64         `json:"uploadedBytes"`
	DownloadedBytes int64         `json:"downloadedBytes"`
	SizeBytes       int64         `json:"sizeBytes"`
	Status          TorrentStatus `json:"status"`
	AddedAt         *time.Time    `json:"addedAt,omitempty"`
	LastActivityAt  *time.Time    `json:"lastActivityAt,omitempty"`
	LastSyncedAt    *time.Time    `json:"lastSyncedAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

type TorrentStatStore struct {
	db dbinterface.Querier
}

func NewTorrentStatStore(db dbinterface.Querier) *TorrentStatStore {
	return &TorrentStatStore{db: db}
}

const torrentStatColumns = `id, hash, media_file_id, name, tracker_domain, ratio, seed_time_seconds,
	uploaded_bytes, downloaded_bytes, size_bytes, status, added_at, last_activity_at, last_synced_at,
	created_at, updated_at`

func scanTorrentStat(row interface{ Scan(...any) error }) (*TorrentStat, error) {
	var t TorrentStat
	var mediaFileID sql.NullInt64
	var addedAt, lastActivityAt, lastSyncedAt sql.NullTime

	if err := row.Scan(
		&t.ID, &t.Hash, &mediaFileID, &t.Name, &t.TrackerDomain, &t.Ratio, &t.SeedTimeSeconds,
		&t.UploadedBytes, &t.DownloadedBytes, &t.SizeBytes, &t.Status,
		&addedAt, &lastActivityAt, &lastSyncedAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if mediaFileID.Valid {
		id := int(mediaFileID.Int64)
		t.MediaFileID = &id
	}
	if addedAt.Valid {
		t.AddedAt = &addedAt.Time
	}
	if lastActivityAt.Valid {
		t.LastActivityAt = &lastActivityAt.Time
	}
	if lastSyncedAt.Valid {
		t.LastSyncedAt = &lastSyncedAt.Time
	}
	return &t, nil
}

func (s *TorrentStatStore) GetByHash(ctx context.Context, hash string) (*TorrentStat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+torrentStatColumns+` FROM torrent_stats WHERE hash = ?`, hash)
	t, err := scanTorrentStat(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTorrentStatNotFound
		}
		return nil, fmt.Errorf("failed to get torrent stat: %w", err)
	}
	return t, nil
}

// Upsert creates a stat on an unseen hash or refreshes the existing row,
// stamping last_synced_at.
func (s *TorrentStatStore) Upsert(ctx context.Context, t *TorrentStat) (*TorrentStat, error) {
	if t == nil {
		return nil, errors.New("torrent stat is nil")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO torrent_stats
			(hash, media_file_id, name, tracker_domain, ratio, seed_time_seconds, uploaded_bytes, downloaded_bytes, size_bytes, status, added_at, last_activity_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(hash) DO UPDATE SET
			media_file_id = COALESCE(excluded.media_file_id, media_file_id),
			name = excluded.name,
			tracker_domain = excluded.tracker_domain,
			ratio = excluded.ratio,
			seed_time_seconds = excluded.seed_time_seconds,
			uploaded_bytes = excluded.uploaded_bytes,
			downloaded_bytes = excluded.downloaded_bytes,
			size_bytes = excluded.size_bytes,
			status = excluded.status,
			added_at = excluded.added_at,
			last_activity_at = excluded.last_activity_at,
			last_synced_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
	`, t.Hash, nullableInt(t.MediaFileID), t.Name, t.TrackerDomain, t.Ratio, t.SeedTimeSeconds,
		t.UploadedBytes, t.DownloadedBytes, t.SizeBytes, string(t.Status),
		nullableTime(t.AddedAt), nullableTime(t.LastActivityAt))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert torrent stat: %w", err)
	}

	return s.GetByHash(ctx, t.Hash)
}

// MarkStaleRemoved transitions stats that have not been synced since cutoff
// to removed, skipping rows already removed. Returns how many flipped.
func (s *TorrentStatStore) MarkStaleRemoved(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE torrent_stats
		SET status = 'removed', updated_at = CURRENT_TIMESTAMP
		WHERE status != 'removed' AND (last_synced_at IS NULL OR last_synced_at < ?)
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale torrents removed: %w", err)
	}
	return res.RowsAffected()
}

func (s *TorrentStatStore) List(ctx context.Context) ([]*TorrentStat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+torrentStatColumns+` FROM torrent_stats ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list torrent stats: %w", err)
	}
	defer rows.Close()

	var stats []*TorrentStat
	for rows.Next() {
		t, err := scanTorrentStat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan torrent stat: %w", err)
		}
		stats = append(stats, t)
	}
	return stats, rows.Err()
}

// AddDailySnapshot writes one history row per stat per UTC calendar day.
// Re-running a sync on the same day is a no-op; returns true when a row was
// written.
func (s *TorrentStatStore) AddDailySnapshot(ctx context.Context, statID int, day time.Time, ratio float64, seedTimeSeconds, uploadedBytes, downloadedBytes int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO torrent_stat_history
			(torrent_stat_id, snapshot_date, ratio, seed_time_seconds, uploaded_bytes, downloaded_bytes)
		VALUES (?, ?, ?, ?, ?, ?)
	`, statID, day.UTC().Format("2006-01-02"), ratio, seedTimeSeconds, uploadedBytes, downloadedBytes)
	if err != nil {
		return false, fmt.Errorf("failed to add daily snapshot: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// CountByStatus returns how many stats sit in each status.
func (s *TorrentStatStore) CountByStatus(ctx context.Context) (map[TorrentStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM torrent_stats GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count torrent stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[TorrentStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[TorrentStatus(status)] = count
	}
	return counts, rows.Err()
}

// CountSnapshots returns how many history rows exist for a stat.
func (s *TorrentStatStore) CountSnapshots(ctx context.Context, statID int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM torrent_stat_history WHERE torrent_stat_id = ?`, statID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}
