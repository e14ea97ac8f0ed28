// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package matcher links on-disk media files to catalogue entries using
// priority-ordered strategies: authoritative manager file lists first, then
// filename parsing with confidence scoring.
package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sweeparr/sweeparr/internal/arr"
	"github.com/sweeparr/sweeparr/internal/dbinterface"
	"github.com/sweeparr/sweeparr/internal/mediaparse"
	"github.com/sweeparr/sweeparr/internal/metrics"
	"github.com/sweeparr/sweeparr/internal/models"
	"github.com/sweeparr/sweeparr/internal/pathmap"
)

// defaultBatchSize bounds how many files are processed per transaction
// during bulk matching.
const defaultBatchSize = 50

// ManagerClient is the slice of the manager API the matcher needs.
// arr.Client satisfies this.
type ManagerClient interface {
	GetRootFolders(ctx context.Context) ([]arr.RootFolder, error)
	GetMovieFiles(ctx context.Context, movieExternalID int64) ([]arr.MovieFile, error)
	Lookup(ctx context.Context, term string, year *int) ([]arr.LookupResult, error)
}

// ClientFactory builds a manager client for one connection.
type ClientFactory func(baseURL, apiKey string, timeoutSeconds int) ManagerClient

type Service struct {
	db              dbinterface.TxBeginner
	connectionStore *models.ArrConnectionStore
	volumeStore     *models.VolumeStore
	mediaFileStore  *models.MediaFileStore
	movieStore      *models.MovieStore
	movieFileStore  *models.MovieFileStore
	settingsStore   *models.SettingsStore
	newClient       ClientFactory
	batchSize       int
}

func NewService(
	db dbinterface.TxBeginner,
	connectionStore *models.ArrConnectionStore,
	volumeStore *models.VolumeStore,
	mediaFileStore *models.MediaFileStore,
	movieStore *models.MovieStore,
	movieFileStore *models.MovieFileStore,
	settingsStore *models.SettingsStore,
	batchSize int,
) *Service {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Service{
		db:              db,
		connectionStore: connectionStore,
		volumeStore:     volumeStore,
		mediaFileStore:  mediaFileStore,
		movieStore:      movieStore,
		movieFileStore:  movieFileStore,
		settingsStore:   settingsStore,
		newClient: func(baseURL, apiKey string, timeoutSeconds int) ManagerClient {
			return arr.NewClient(baseURL, apiKey, timeoutSeconds)
		},
		batchSize: batchSize,
	}
}

// SetClientFactory overrides manager client construction, used by tests.
func (s *Service) SetClientFactory(factory ClientFactory) {
	s.newClient = factory
}

// Result aggregates one matching run.
type Result struct {
	ExternalLinked int `json:"externalLinked"`
	FilenameLinked int `json:"filenameLinked"`
	Skipped        int `json:"skipped"`
	Errors         int `json:"errors"`
}

// MatchAll runs Phase 1 (manager file lists) then Phase 2 (filename parse)
// over every unlinked media file. A failure against one connection degrades
// that connection's contribution and never aborts the run.
func (s *Service) MatchAll(ctx context.Context) (*Result, error) {
	result := &Result{}

	s.runPhase1(ctx, result)
	if err := s.runPhase2(ctx, result); err != nil {
		return result, err
	}

	s.persistResult(ctx, result)
	log.Info().
		Int("externalLinked", result.ExternalLinked).
		Int("filenameLinked", result.FilenameLinked).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Msg("catalogue matching completed")
	return result, nil
}

// MatchSingleFile runs both phases against one newly discovered file.
func (s *Service) MatchSingleFile(ctx context.Context, mediaFileID int) (*Result, error) {
	result := &Result{}

	s.runPhase1(ctx, result)

	file, err := s.mediaFileStore.Get(ctx, mediaFileID)
	if err != nil {
		return result, err
	}
	linked, err := s.movieFileStore.CountForFile(ctx, mediaFileID)
	if err != nil {
		return result, err
	}
	if linked == 0 {
		if err := s.matchByFilename(ctx, s.stores(s.db), file, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// runPhase1 creates confidence-1.0 links from each connection's
// authoritative file lists.
func (s *Service) runPhase1(ctx context.Context, result *Result) {
	connections, err := s.connectionStore.ListEnabled(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list manager connections")
		result.Errors++
		return
	}

	volumes, err := s.volumeStore.ListActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list active volumes")
		result.Errors++
		return
	}

	for _, connection := range connections {
		if err := s.matchConnection(ctx, connection, volumes, result); err != nil {
			log.Warn().Err(err).Str("connection", connection.Name).Msg("manager connection failed, skipping")
			result.Errors++
		}
	}
}

func (s *Service) matchConnection(ctx context.Context, connection *models.ArrConnection, volumes []*models.Volume, result *Result) error {
	apiKey, err := s.connectionStore.GetDecryptedAPIKey(connection)
	if err != nil {
		return err
	}
	client := s.newClient(connection.BaseURL, apiKey, connection.TimeoutSeconds)

	rootFolders, err := client.GetRootFolders(ctx)
	if err != nil {
		return err
	}
	roots := make([]string, 0, len(rootFolders))
	for _, rf := range rootFolders {
		roots = append(roots, rf.Path)
	}
	mappings := pathmap.BuildMappings(roots, volumes)
	if len(mappings) == 0 {
		log.Debug().Str("connection", connection.Name).Msg("no root folder maps onto a local volume")
		return nil
	}

	movies, err := s.movieStore.ListByConnection(ctx, connection.ID)
	if err != nil {
		return err
	}

	for _, movie := range movies {
		files, err := client.GetMovieFiles(ctx, *movie.ExternalID)
		if err != nil {
			log.Warn().Err(err).Str("connection", connection.Name).Int("movieID", movie.ID).
				Msg("failed to fetch manager file list")
			result.Errors++
			continue
		}

		for _, managed := range files {
			_, mediaFile, err := pathmap.Remap(ctx, managed.Path, mappings, s.mediaFileStore)
			if err != nil {
				return err
			}
			if mediaFile == nil {
				continue
			}

			created, err := s.movieFileStore.CreateLink(ctx, movie.ID, mediaFile.ID, models.MatchedByExternalAPI, 1.0)
			if err != nil {
				return err
			}
			if created {
				if err := s.mediaFileStore.SetManagerLinked(ctx, mediaFile.ID, true); err != nil {
					return err
				}
				metrics.LinksCreated.WithLabelValues(string(models.MatchedByExternalAPI)).Inc()
				result.ExternalLinked++
			}
		}
	}
	return nil
}

// storeSet binds the stores the filename phase writes through, so a batch
// can run inside one transaction.
type storeSet struct {
	mediaFiles *models.MediaFileStore
	movies     *models.MovieStore
	movieFiles *models.MovieFileStore
}

func (s *Service) stores(q dbinterface.Querier) storeSet {
	return storeSet{
		mediaFiles: models.NewMediaFileStore(q),
		movies:     models.NewMovieStore(q),
		movieFiles: models.NewMovieFileStore(q),
	}
}

// runPhase2 parses filenames of still-unlinked files and links them to
// catalogue entries by title/year. Writes are committed in batches to bound
// transaction size; a crash mid-run keeps earlier batches.
func (s *Service) runPhase2(ctx context.Context, result *Result) error {
	unlinked, err := s.mediaFileStore.ListUnlinked(ctx)
	if err != nil {
		return err
	}

	for start := 0; start < len(unlinked); start += s.batchSize {
		end := min(start+s.batchSize, len(unlinked))

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		stores := s.stores(tx)

		for _, file := range unlinked[start:end] {
			if err := s.matchByFilename(ctx, stores, file, result); err != nil {
				log.Warn().Err(err).Str("file", file.FileName).Msg("filename match failed")
				result.Errors++
			}
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) matchByFilename(ctx context.Context, stores storeSet, file *models.MediaFile, result *Result) error {
	parsed := mediaparse.Parse(file.FileName)
	if parsed.Title == nil {
		result.Skipped++
		return nil
	}

	// Backfill parsed metadata before matching; existing values win.
	if parsed.Resolution != nil || parsed.Codec != nil || parsed.Quality != nil {
		if err := stores.mediaFiles.BackfillParsedMeta(ctx, file.ID, parsed.Resolution, parsed.Codec, parsed.Quality); err != nil {
			return err
		}
	}

	movie, err := s.findCatalogueEntry(ctx, stores, parsed)
	if err != nil {
		return err
	}
	if movie == nil {
		result.Skipped++
		return nil
	}

	confidence := mediaparse.Confidence(parsed)
	created, err := stores.movieFiles.CreateLink(ctx, movie.ID, file.ID, models.MatchedByFilenameParse, confidence)
	if err != nil {
		return err
	}
	if created {
		metrics.LinksCreated.WithLabelValues(string(models.MatchedByFilenameParse)).Inc()
		result.FilenameLinked++
		log.Debug().
			Str("file", file.FileName).
			Str("title", movie.Title).
			Float64("confidence", confidence).
			Msg("linked file by filename parse")
	}
	return nil
}

// findCatalogueEntry searches locally by title substring (and exact year when
// parsed); failing that, with a year present, falls back to an external
// lookup whose top result must map back to an existing entry.
func (s *Service) findCatalogueEntry(ctx context.Context, stores storeSet, parsed mediaparse.Result) (*models.Movie, error) {
	matches, err := stores.movies.SearchByTitle(ctx, *parsed.Title, parsed.Year)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return matches[0], nil
	}
	if parsed.Year == nil {
		return nil, nil
	}

	connections, err := s.connectionStore.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	for _, connection := range connections {
		apiKey, err := s.connectionStore.GetDecryptedAPIKey(connection)
		if err != nil {
			continue
		}
		client := s.newClient(connection.BaseURL, apiKey, connection.TimeoutSeconds)

		results, err := client.Lookup(ctx, *parsed.Title, parsed.Year)
		if err != nil {
			log.Warn().Err(err).Str("connection", connection.Name).Msg("external lookup failed")
			continue
		}
		if len(results) == 0 {
			continue
		}

		movie, err := stores.movies.GetByExternalID(ctx, results[0].ExternalID)
		if err != nil {
			if errors.Is(err, models.ErrMovieNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return movie, nil
	}
	return nil, nil
}

func (s *Service) persistResult(ctx context.Context, result *Result) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.settingsStore.Set(ctx, models.SettingLastMatchResult, string(encoded)); err != nil {
		log.Warn().Err(err).Msg("failed to persist match result")
	}
	if err := s.settingsStore.Set(ctx, models.SettingLastMatchAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Warn().Err(err).Msg("failed to persist match timestamp")
	}
}
