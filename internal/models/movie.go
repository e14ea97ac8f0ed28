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

var (
	ErrMovieNotFound = errors.New("movie not found")
	ErrLinkNotFound  = errors.New("movie file link not found")
)

// MatchedBy records which strategy produced a catalogue link.
type MatchedBy string

const (
	MatchedByExternalAPI   MatchedBy = "external_api"
	MatchedByFilenameParse MatchedBy = "filename_parse"
)

// Movie is one catalogue entry.
type Movie struct {
	ID           int       `json:"id"`
	ExternalID   *int64    `json:"externalId,omitempty"`
	ConnectionID *int      `json:"connectionId,omitempty"`
	Title        string    `json:"title"`
	Year         *int      `json:"year,omitempty"`
	Overview     *string   `json:"overview,omitempty"`
	PosterURL    *string   `json:"posterUrl,omitempty"`
	FanartURL    *string   `json:"fanartUrl,omitempty"`
	Monitored    bool      `json:"monitored"`
	IsProtected  bool      `json:"isProtected"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MovieFile joins a catalogue entry to a media file with match provenance.
// Links are immutable once created; either side cascades on delete.
type MovieFile struct {
	ID          int       `json:"id"`
	MovieID     int       `json:"movieId"`
	MediaFileID int       `json:"mediaFileId"`
	MatchedBy   MatchedBy `json:"matchedBy"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"createdAt"`
}

type MovieStore struct {
	db dbinterface.Querier
}

func NewMovieStore(db dbinterface.Querier) *MovieStore {
	return &MovieStore{db: db}
}

const movieColumns = `id, external_id, connection_id, title, year, overview, poster_url, fanart_url, monitored, is_protected, created_at, updated_at`

func scanMovie(row interface{ Scan(...any) error }) (*Movie, error) {
	var m Movie
	var externalID sql.NullInt64
	var connectionID, year sql.NullInt64
	var overview, posterURL, fanartURL sql.NullString

	if err := row.Scan(
		&m.ID, &externalID, &connectionID, &m.Title, &year, &overview, &posterURL, &fanartURL,
		&m.Monitored, &m.IsProtected, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if externalID.Valid {
		m.ExternalID = &externalID.Int64
	}
	if connectionID.Valid {
		id := int(connectionID.Int64)
		m.ConnectionID = &id
	}
	if year.Valid {
		y := int(year.Int64)
		m.Year = &y
	}
	if overview.Valid {
		m.Overview = &overview.String
	}
	if posterURL.Valid {
		m.PosterURL = &posterURL.String
	}
	if fanartURL.Valid {
		m.FanartURL = &fanartURL.String
	}
	return &m, nil
}

func (s *MovieStore) Get(ctx context.Context, id int) (*Movie, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+movieColumns+` FROM movies WHERE id = ?`, id)
	m, err := scanMovie(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMovieNotFound
		}
		return nil, fmt.Errorf("failed to get movie: %w", err)
	}
	return m, nil
}

func (s *MovieStore) GetByExternalID(ctx context.Context, externalID int64) (*Movie, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+movieColumns+` FROM movies WHERE external_id = ?`, externalID)
	m, err := scanMovie(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMovieNotFound
		}
		return nil, fmt.Errorf("failed to get movie by external id: %w", err)
	}
	return m, nil
}

func (s *MovieStore) Create(ctx context.Context, m *Movie) (*Movie, error) {
	if m == nil {
		return nil, errors.New("movie is nil")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO movies (external_id, connection_id, title, year, overview, poster_url, fanart_url, monitored, is_protected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullableInt64(m.ExternalID), nullableInt(m.ConnectionID), m.Title, nullableInt(m.Year),
		nullableString(m.Overview), nullableString(m.PosterURL), nullableString(m.FanartURL),
		m.Monitored, m.IsProtected)
	if err != nil {
		return nil, fmt.Errorf("failed to create movie: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, int(id))
}

// ListByConnection returns catalogue entries associated with an external
// manager connection that carry an external id.
func (s *MovieStore) ListByConnection(ctx context.Context, connectionID int) ([]*Movie, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE connection_id = ? AND external_id IS NOT NULL ORDER BY id ASC`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list movies by connection: %w", err)
	}
	defer rows.Close()

	var movies []*Movie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movie: %w", err)
		}
		movies = append(movies, m)
	}
	return movies, rows.Err()
}

// SearchByTitle finds entries whose title contains the given fragment
// (case-insensitive). When year is non-nil it must match exactly.
func (s *MovieStore) SearchByTitle(ctx context.Context, title string, year *int) ([]*Movie, error) {
	query := `SELECT ` + movieColumns + ` FROM movies WHERE title LIKE '%' || ? || '%' COLLATE NOCASE`
	args := []any{title}
	if year != nil {
		query += ` AND year = ?`
		args = append(args, *year)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search movies: %w", err)
	}
	defer rows.Close()

	var movies []*Movie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movie: %w", err)
		}
		movies = append(movies, m)
	}
	return movies, rows.Err()
}

func (s *MovieStore) SetMonitored(ctx context.Context, id int, monitored bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE movies SET monitored = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, monitored, id)
	if err != nil {
		return fmt.Errorf("failed to set monitored flag: %w", err)
	}
	return nil
}

// ClearExternalID removes the external manager reference after a successful
// catalogue dereference upstream.
func (s *MovieStore) ClearExternalID(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE movies SET external_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to clear external id: %w", err)
	}
	return nil
}

// MovieFileStore manages catalogue-to-file links.
type MovieFileStore struct {
	db dbinterface.Querier
}

func NewMovieFileStore(db dbinterface.Querier) *MovieFileStore {
	return &MovieFileStore{db: db}
}

// CreateLink inserts a link unless one already exists for the pair. Returns
// true when a new link was created.
func (s *MovieFileStore) CreateLink(ctx context.Context, movieID, mediaFileID int, matchedBy MatchedBy, confidence float64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO movie_files (movie_id, media_file_id, matched_by, confidence)
		VALUES (?, ?, ?, ?)
	`, movieID, mediaFileID, string(matchedBy), confidence)
	if err != nil {
		return false, fmt.Errorf("failed to create movie file link: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *MovieFileStore) HasLink(ctx context.Context, movieID, mediaFileID int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM movie_files WHERE movie_id = ? AND media_file_id = ?`, movieID, mediaFileID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check movie file link: %w", err)
	}
	return count > 0, nil
}

func (s *MovieFileStore) CountForFile(ctx context.Context, mediaFileID int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM movie_files WHERE media_file_id = ?`, mediaFileID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count links for file: %w", err)
	}
	return count, nil
}

func (s *MovieFileStore) ListByMovie(ctx context.Context, movieID int) ([]*MovieFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, movie_id, media_file_id, matched_by, confidence, created_at
		FROM movie_files WHERE movie_id = ? ORDER BY id ASC
	`, movieID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links by movie: %w", err)
	}
	defer rows.Close()

	var links []*MovieFile
	for rows.Next() {
		var l MovieFile
		var matchedBy string
		if err := rows.Scan(&l.ID, &l.MovieID, &l.MediaFileID, &matchedBy, &l.Confidence, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan movie file link: %w", err)
		}
		l.MatchedBy = MatchedBy(matchedBy)
		links = append(links, &l)
	}
	return links, rows.Err()
}

// FirstFileForMovie returns the lowest-id media file linked to a movie.
func (s *MovieFileStore) FirstFileForMovie(ctx context.Context, movieID int) (int, error) {
	var mediaFileID int
	err := s.db.QueryRowContext(ctx,
		`SELECT media_file_id FROM movie_files WHERE movie_id = ? ORDER BY id ASC LIMIT 1`, movieID).Scan(&mediaFileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrLinkNotFound
		}
		return 0, fmt.Errorf("failed to get first file for movie: %w", err)
	}
	return mediaFileID, nil
}
