// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package matcher

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeparr/sweeparr/internal/arr"
	"github.com/sweeparr/sweeparr/internal/database"
	"github.com/sweeparr/sweeparr/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	db, err := database.NewForTest(conn)
	require.NoError(t, err)
	return db
}

type fakeManagerClient struct {
	rootFolders []arr.RootFolder
	movieFiles  map[int64][]arr.MovieFile
	lookup      []arr.LookupResult
}

func (c *fakeManagerClient) GetRootFolders(context.Context) ([]arr.RootFolder, error) {
	return c.rootFolders, nil
}

func (c *fakeManagerClient) GetMovieFiles(_ context.Context, movieExternalID int64) ([]arr.MovieFile, error) {
	return c.movieFiles[movieExternalID], nil
}

func (c *fakeManagerClient) Lookup(context.Context, string, *int) ([]arr.LookupResult, error) {
	return c.lookup, nil
}

type matcherFixture struct {
	db              *database.DB
	connectionStore *models.ArrConnectionStore
	volumeStore     *models.VolumeStore
	mediaFileStore  *models.MediaFileStore
	movieStore      *models.MovieStore
	movieFileStore  *models.MovieFileStore
	settingsStore   *models.SettingsStore
	client          *fakeManagerClient
	service         *Service
	volume          *models.Volume
	connection      *models.ArrConnection
}

func newMatcherFixture(t *testing.T) *matcherFixture {
	t.Helper()
	ctx := context.Background()
	db := newTestDB(t)

	connectionStore, err := models.NewArrConnectionStore(db, make([]byte, 32))
	require.NoError(t, err)

	f := &matcherFixture{
		db:              db,
		connectionStore: connectionStore,
		volumeStore:     models.NewVolumeStore(db),
		mediaFileStore:  models.NewMediaFileStore(db),
		movieStore:      models.NewMovieStore(db),
		movieFileStore:  models.NewMovieFileStore(db),
		settingsStore:   models.NewSettingsStore(db),
		client:          &fakeManagerClient{movieFiles: map[int64][]arr.MovieFile{}},
	}

	f.volume, err = f.volumeStore.Upsert(ctx, "media", "/mnt/media", "/data/media")
	require.NoError(t, err)
	f.connection, err = connectionStore.Create(ctx, "radarr", "http://radarr:7878", "key", true, 15)
	require.NoError(t, err)

	f.service = NewService(db, connectionStore, f.volumeStore, f.mediaFileStore,
		f.movieStore, f.movieFileStore, f.settingsStore, 50)
	f.service.SetClientFactory(func(string, string, int) ManagerClient { return f.client })
	return f
}

func (f *matcherFixture) addFile(t *testing.T, path, name string) *models.MediaFile {
	t.Helper()
	file, err := f.mediaFileStore.Create(context.Background(), &models.MediaFile{
		VolumeID: f.volume.ID, FilePath: path, FileName: name,
		SizeBytes: 1000, HardlinkCount: 1,
	})
	require.NoError(t, err)
	return file
}

func TestMatchAllManagerFileList(t *testing.T) {
	ctx := context.Background()
	f := newMatcherFixture(t)

	externalID := int64(27205)
	movie, err := f.movieStore.Create(ctx, &models.Movie{
		Title: "Inception", ExternalID: &externalID, ConnectionID: &f.connection.ID,
	})
	require.NoError(t, err)

	file := f.addFile(t,
		"movies/Inception (2010)/Inception.2010.1080p.BluRay.x264.mkv",
		"Inception.2010.1080p.BluRay.x264.mkv")

	f.client.rootFolders = []arr.RootFolder{{ID: 1, Path: "/data/media/movies"}}
	f.client.movieFiles[externalID] = []arr.MovieFile{{
		ID: 1, MovieID: externalID,
		Path: "/data/media/movies/Inception (2010)/Inception.2010.1080p.BluRay.x264.mkv",
	}}

	result, err := f.service.MatchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExternalLinked)
	assert.Equal(t, 0, result.Errors)

	links, err := f.movieFileStore.ListByMovie(ctx, movie.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, file.ID, links[0].MediaFileID)
	assert.Equal(t, models.MatchedByExternalAPI, links[0].MatchedBy)
	assert.Equal(t, 1.0, links[0].Confidence)

	stored, err := f.mediaFileStore.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsLinkedToManager)

	// A second run finds the link already in place and creates nothing new.
	result, err = f.service.MatchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExternalLinked)

	links, err = f.movieFileStore.ListByMovie(ctx, movie.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestMatchAllFilenameFallback(t *testing.T) {
	ctx := context.Background()
	f := newMatcherFixture(t)

	year := 2016
	movie, err := f.movieStore.Create(ctx, &models.Movie{Title: "Arrival", Year: &year})
	require.NoError(t, err)

	file := f.addFile(t, "movies/Arrival.2016.720p.WebRip.x265.mkv", "Arrival.2016.720p.WebRip.x265.mkv")

	result, err := f.service.MatchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilenameLinked)

	links, err := f.movieFileStore.ListByMovie(ctx, movie.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, file.ID, links[0].MediaFileID)
	assert.Equal(t, models.MatchedByFilenameParse, links[0].MatchedBy)
	assert.InDelta(t, 0.90, links[0].Confidence, 1e-9)

	// Parsed metadata is backfilled onto the file record.
	stored, err := f.mediaFileStore.Get(ctx, file.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Resolution)
	assert.Equal(t, "720p", *stored.Resolution)
	require.NotNil(t, stored.Codec)
	assert.Equal(t, "x265", *stored.Codec)
}

func TestMatchAllSkipsUnparsableNames(t *testing.T) {
	ctx := context.Background()
	f := newMatcherFixture(t)

	f.addFile(t, "movies/holiday-clip.mkv", "holiday-clip.mkv")

	result, err := f.service.MatchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.FilenameLinked)
}

func TestMatchAllExternalLookupFallback(t *testing.T) {
	ctx := context.Background()
	f := newMatcherFixture(t)

	// Catalogue entry whose title does not contain the parsed title, so only
	// the external lookup can resolve it.
	externalID := int64(603)
	movie, err := f.movieStore.Create(ctx, &models.Movie{
		Title: "The Matrix", ExternalID: &externalID, ConnectionID: &f.connection.ID,
	})
	require.NoError(t, err)

	f.addFile(t, "movies/The.Matrix.Remastered.1999.1080p.mkv", "The.Matrix.Remastered.1999.1080p.mkv")
	f.client.lookup = []arr.LookupResult{{ExternalID: externalID, Title: "The Matrix", Year: 1999}}

	result, err := f.service.MatchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilenameLinked)

	links, err := f.movieFileStore.ListByMovie(ctx, movie.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestMatchSingleFile(t *testing.T) {
	ctx := context.Background()
	f := newMatcherFixture(t)

	year := 2010
	_, err := f.movieStore.Create(ctx, &models.Movie{Title: "Inception", Year: &year})
	require.NoError(t, err)
	file := f.addFile(t, "movies/Inception.2010.1080p.BluRay.x264.mkv", "Inception.2010.1080p.BluRay.x264.mkv")

	result, err := f.service.MatchSingleFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilenameLinked)

	count, err := f.movieFileStore.CountForFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
