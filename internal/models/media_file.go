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

var ErrMediaFileNotFound = errors.New("media file not found")

// MediaFile is one physical file within a volume. (volume_id, file_path) is
// unique; FilePath is relative to the volume root.
type MediaFile struct {
	ID                int        `json:"id"`
	VolumeID          int        `json:"volumeId"`
	FilePath          string     `json:"filePath"`
	FileName          string     `json:"fileName"`
	SizeBytes         int64      `json:"sizeBytes"`
	HardlinkCount     int        `json:"hardlinkCount"`
	Inode             *int64     `json:"inode,omitempty"`
	Device            *int64     `json:"device,omitempty"`
	Resolution        *string    `json:"resolution,omitempty"`
	Codec             *string    `json:"codec,omitempty"`
	Quality           *string    `json:"quality,omitempty"`
	IsLinkedToManager bool       `json:"isLinkedToManager"`
	IsLinkedToPlayer  bool       `json:"isLinkedToPlayer"`
	IsProtected       bool       `json:"isProtected"`
	ContentHash       *string    `json:"contentHash,omitempty"`
	PartialHash       *string    `json:"partialHash,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type MediaFileStore struct {
	db dbinterface.Querier
}

func NewMediaFileStore(db dbinterface.Querier) *MediaFileStore {
	return &MediaFileStore{db: db}
}

const mediaFileColumns = `id, volume_id, file_path, file_name, size_bytes, hardlink_count, inode, device,
	resolution, codec, quality, is_linked_to_manager, is_linked_to_player, is_protected,
	content_hash, partial_hash, created_at, updated_at`

func scanMediaFile(row interface{ Scan(...any) error }) (*MediaFile, error) {
	var f MediaFile
	var inode, device sql.NullInt64
	var resolution, codec, quality, contentHash, partialHash sql.NullString

	if err := row.Scan(
		&f.ID, &f.VolumeID, &f.FilePath, &f.FileName, &f.SizeBytes, &f.HardlinkCount,
		&inode, &device, &resolution, &codec, &quality,
		&f.IsLinkedToManager, &f.IsLinkedToPlayer, &f.IsProtected,
		&contentHash, &partialHash, &f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if inode.Valid {
		f.Inode = &inode.Int64
	}
	if device.Valid {
		f.Device = &device.Int64
	}
	if resolution.Valid {
		f.Resolution = &resolution.String
	}
	if codec.Valid {
		f.Codec = &codec.String
	}
	if quality.Valid {
		f.Quality = &quality.String
	}
	if contentHash.Valid {
		f.ContentHash = &contentHash.String
	}
	if partialHash.Valid {
		f.PartialHash = &partialHash.String
	}
	return &f, nil
}

func (s *MediaFileStore) Get(ctx context.Context, id int) (*MediaFile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaFileColumns+` FROM media_files WHERE id = ?`, id)
	f, err := scanMediaFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMediaFileNotFound
		}
		return nil, fmt.Errorf("failed to get media file: %w", err)
	}
	return f, nil
}

// GetByPath looks a file up by its volume-relative path.
func (s *MediaFileStore) GetByPath(ctx context.Context, volumeID int, filePath string) (*MediaFile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaFileColumns+` FROM media_files WHERE volume_id = ? AND file_path = ?`, volumeID, filePath)
	f, err := scanMediaFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMediaFileNotFound
		}
		return nil, fmt.Errorf("failed to get media file by path: %w", err)
	}
	return f, nil
}

func (s *MediaFileStore) Create(ctx context.Context, f *MediaFile) (*MediaFile, error) {
	if f == nil {
		return nil, errors.New("media file is nil")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO media_files (volume_id, file_path, file_name, size_bytes, hardlink_count, inode, device, resolution, codec, quality)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.VolumeID, f.FilePath, f.FileName, f.SizeBytes, f.HardlinkCount,
		nullableInt64(f.Inode), nullableInt64(f.Device),
		nullableString(f.Resolution), nullableString(f.Codec), nullableString(f.Quality))
	if err != nil {
		return nil, fmt.Errorf("failed to create media file: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, int(id))
}

// ListUnlinked returns files that have no catalogue link yet.
func (s *MediaFileStore) ListUnlinked(ctx context.Context) ([]*MediaFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mediaFileColumns+` FROM media_files f
		WHERE NOT EXISTS (SELECT 1 FROM movie_files l WHERE l.media_file_id = f.id)
		ORDER BY f.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlinked media files: %w", err)
	}
	defer rows.Close()
	return collectMediaFiles(rows)
}

// CountLinkStates returns how many files have a catalogue link and how many
// are still unlinked.
func (s *MediaFileStore) CountLinkStates(ctx context.Context) (linked, unlinked int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN EXISTS (SELECT 1 FROM movie_files l WHERE l.media_file_id = f.id) THEN 1 END),
			COUNT(CASE WHEN NOT EXISTS (SELECT 1 FROM movie_files l WHERE l.media_file_id = f.id) THEN 1 END)
		FROM media_files f
	`).Scan(&linked, &unlinked)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count media file link states: %w", err)
	}
	return linked, unlinked, nil
}

// ListBySize returns files with an exact byte size, used by the torrent
// reconciler's file-size fallback.
func (s *MediaFileStore) ListBySize(ctx context.Context, sizeBytes int64) ([]*MediaFile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mediaFileColumns+` FROM media_files WHERE size_bytes = ? ORDER BY id ASC`, sizeBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to list media files by size: %w", err)
	}
	defer rows.Close()
	return collectMediaFiles(rows)
}

// ListByMovie returns all files linked to a catalogue entry.
func (s *MediaFileStore) ListByMovie(ctx context.Context, movieID int) ([]*MediaFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qualifiedMediaFileColumns+` FROM media_files f
		JOIN movie_files l ON l.media_file_id = f.id
		WHERE l.movie_id = ?
		ORDER BY f.id ASC
	`, movieID)
	if err != nil {
		return nil, fmt.Errorf("failed to list media files by movie: %w", err)
	}
	defer rows.Close()
	return collectMediaFiles(rows)
}

const qualifiedMediaFileColumns = `f.id, f.volume_id, f.file_path, f.file_name, f.size_bytes, f.hardlink_count, f.inode, f.device,
	f.resolution, f.codec, f.quality, f.is_linked_to_manager, f.is_linked_to_player, f.is_protected,
	f.content_hash, f.partial_hash, f.created_at, f.updated_at`

func collectMediaFiles(rows *sql.Rows) ([]*MediaFile, error) {
	var files []*MediaFile
	for rows.Next() {
		f, err := scanMediaFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// BackfillParsedMeta fills resolution/codec/quality only where currently
// NULL. Existing values are never overwritten.
func (s *MediaFileStore) BackfillParsedMeta(ctx context.Context, id int, resolution, codec, quality *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE media_files SET
			resolution = COALESCE(resolution, ?),
			codec = COALESCE(codec, ?),
			quality = COALESCE(quality, ?),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullableString(resolution), nullableString(codec), nullableString(quality), id)
	if err != nil {
		return fmt.Errorf("failed to backfill parsed metadata: %w", err)
	}
	return nil
}

func (s *MediaFileStore) SetManagerLinked(ctx context.Context, id int, linked bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE media_files SET is_linked_to_manager = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, linked, id)
	if err != nil {
		return fmt.Errorf("failed to set manager link flag: %w", err)
	}
	return nil
}

func (s *MediaFileStore) SetPartialHash(ctx context.Context, id int, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE media_files SET partial_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("failed to set partial hash: %w", err)
	}
	return nil
}

// Delete removes the row; links cascade.
func (s *MediaFileStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media_files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete media file: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrMediaFileNotFound
	}
	return nil
}
