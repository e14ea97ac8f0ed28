// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package replacement

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func strPtr(s string) *string { return &s }

type fakeAgent struct {
	accepted bool
	err      error

	gotSource     string
	gotTarget     string
	gotVolumeRoot string
}

func (a *fakeAgent) RequestReplacement(_ context.Context, _ int, sourcePath, targetPath, volumeRoot string) (bool, error) {
	a.gotSource = sourcePath
	a.gotTarget = targetPath
	a.gotVolumeRoot = volumeRoot
	return a.accepted, a.err
}

func TestRankOrdersByResolutionQualityThenSize(t *testing.T) {
	small1080Remux := &models.MediaFile{ID: 1, Resolution: strPtr("1080p"), Quality: strPtr("remux"), SizeBytes: 10}
	big1080Remux := &models.MediaFile{ID: 2, Resolution: strPtr("1080p"), Quality: strPtr("remux"), SizeBytes: 20}
	uhd := &models.MediaFile{ID: 3, Resolution: strPtr("2160p"), Quality: strPtr("webrip"), SizeBytes: 50}
	hd1080Bluray := &models.MediaFile{ID: 4, Resolution: strPtr("1080p"), Quality: strPtr("bluray"), SizeBytes: 5}
	bare := &models.MediaFile{ID: 5, SizeBytes: 1}

	ranked := Rank([]*models.MediaFile{bare, big1080Remux, hd1080Bluray, uhd, small1080Remux})

	var ids []int
	for _, f := range ranked {
		ids = append(ids, f.ID)
	}
	// Resolution wins over quality; equal resolution ranks by quality; equal
	// quality prefers the smaller file.
	assert.Equal(t, []int{3, 1, 2, 4, 5}, ids)
}

func TestRankTreatsAliasesEqually(t *testing.T) {
	a := &models.MediaFile{ID: 1, Resolution: strPtr("4k"), SizeBytes: 2}
	b := &models.MediaFile{ID: 2, Resolution: strPtr("2160p"), SizeBytes: 1}

	ranked := Rank([]*models.MediaFile{a, b})
	assert.Equal(t, 2, ranked[0].ID)
}

func TestProposeExcludesServedAndExcluded(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	volumeStore := models.NewVolumeStore(db)
	mediaFileStore := models.NewMediaFileStore(db)
	movieStore := models.NewMovieStore(db)
	movieFileStore := models.NewMovieFileStore(db)
	deletionStore := models.NewDeletionStore(db)

	volume, err := volumeStore.Upsert(ctx, "media", "/mnt/media", "/data/media")
	require.NoError(t, err)
	movie, err := movieStore.Create(ctx, &models.Movie{Title: "Inception"})
	require.NoError(t, err)

	mkFile := func(path string, size int64, res string) *models.MediaFile {
		f, err := mediaFileStore.Create(ctx, &models.MediaFile{
			VolumeID: volume.ID, FilePath: path, FileName: path,
			SizeBytes: size, HardlinkCount: 1, Resolution: strPtr(res),
		})
		require.NoError(t, err)
		_, err = movieFileStore.CreateLink(ctx, movie.ID, f.ID, models.MatchedByExternalAPI, 1.0)
		require.NoError(t, err)
		return f
	}
	served := mkFile("a.mkv", 100, "1080p")
	best := mkFile("b.mkv", 200, "2160p")
	alt := mkFile("c.mkv", 300, "720p")
	excluded := mkFile("d.mkv", 400, "2160p")

	service := NewService(mediaFileStore, volumeStore, deletionStore, &fakeAgent{})

	suggestion, err := service.Propose(ctx, movie.ID, served.ID, []int{excluded.ID})
	require.NoError(t, err)
	require.NotNil(t, suggestion.Suggested)
	assert.Equal(t, best.ID, suggestion.Suggested.ID)
	require.Len(t, suggestion.Alternatives, 1)
	assert.Equal(t, alt.ID, suggestion.Alternatives[0].ID)
}

func TestExecuteBuildsHostPaths(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	volumeStore := models.NewVolumeStore(db)
	mediaFileStore := models.NewMediaFileStore(db)
	deletionStore := models.NewDeletionStore(db)

	servedVolume, err := volumeStore.Upsert(ctx, "media", "/mnt/media", "/data/media")
	require.NoError(t, err)
	otherVolume, err := volumeStore.Upsert(ctx, "archive", "/mnt/archive", "/data/archive")
	require.NoError(t, err)

	served, err := mediaFileStore.Create(ctx, &models.MediaFile{
		VolumeID: servedVolume.ID, FilePath: "movies/Old.Cut.720p.mkv", FileName: "Old.Cut.720p.mkv",
		SizeBytes: 100, HardlinkCount: 1,
	})
	require.NoError(t, err)
	replacement, err := mediaFileStore.Create(ctx, &models.MediaFile{
		VolumeID: otherVolume.ID, FilePath: "movies/New.Cut.2160p.mkv", FileName: "New.Cut.2160p.mkv",
		SizeBytes: 200, HardlinkCount: 1,
	})
	require.NoError(t, err)

	deletion, err := deletionStore.Create(ctx, nil, []*models.ScheduledDeletionItem{
		{MediaFileIDs: []int{served.ID}, DeleteFiles: true},
	})
	require.NoError(t, err)

	agent := &fakeAgent{accepted: true}
	service := NewService(mediaFileStore, volumeStore, deletionStore, agent)

	accepted, err := service.Execute(ctx, deletion.ID, served.ID, replacement.ID)
	require.NoError(t, err)
	assert.True(t, accepted)

	assert.Equal(t, "/data/archive/movies/New.Cut.2160p.mkv", agent.gotSource)
	assert.Equal(t, "/data/media/movies/New.Cut.2160p.mkv", agent.gotTarget)
	assert.Equal(t, "/data/media", agent.gotVolumeRoot)
}

func TestExecuteDeclinedParksDeletion(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	volumeStore := models.NewVolumeStore(db)
	mediaFileStore := models.NewMediaFileStore(db)
	deletionStore := models.NewDeletionStore(db)

	volume, err := volumeStore.Upsert(ctx, "media", "/mnt/media", "/data/media")
	require.NoError(t, err)
	served, err := mediaFileStore.Create(ctx, &models.MediaFile{
		VolumeID: volume.ID, FilePath: "a.mkv", FileName: "a.mkv", SizeBytes: 1, HardlinkCount: 1,
	})
	require.NoError(t, err)
	replacement, err := mediaFileStore.Create(ctx, &models.MediaFile{
		VolumeID: volume.ID, FilePath: "b.mkv", FileName: "b.mkv", SizeBytes: 1, HardlinkCount: 1,
	})
	require.NoError(t, err)

	deletion, err := deletionStore.Create(ctx, nil, []*models.ScheduledDeletionItem{
		{MediaFileIDs: []int{served.ID}, DeleteFiles: true},
	})
	require.NoError(t, err)

	service := NewService(mediaFileStore, volumeStore, deletionStore, &fakeAgent{accepted: false})

	accepted, err := service.Execute(ctx, deletion.ID, served.ID, replacement.ID)
	require.NoError(t, err)
	assert.False(t, accepted)

	stored, err := deletionStore.Get(ctx, deletion.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionStatusWaitingWatcher, stored.Status)
}
