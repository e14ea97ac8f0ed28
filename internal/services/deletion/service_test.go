// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package deletion

import (
	"context"
	"database/sql"
	"errors"
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

// fakeFS answers existence and unlink calls from maps keyed by host path.
type fakeFS struct {
	missing    map[string]bool
	failUnlink map[string]bool
	unlinked   []string
}

func (f *fakeFS) Exists(_ context.Context, path string) (bool, error) {
	return !f.missing[path], nil
}

func (f *fakeFS) Unlink(_ context.Context, path string) (bool, error) {
	if f.failUnlink[path] {
		return false, errors.New("permission denied")
	}
	f.unlinked = append(f.unlinked, path)
	return true, nil
}

type fakeManager struct {
	monitored      bool
	dereferenced   []int64
	dereferenceErr error
}

func (m *fakeManager) Dereference(_ context.Context, movieExternalID int64) error {
	if m.dereferenceErr != nil {
		return m.dereferenceErr
	}
	m.dereferenced = append(m.dereferenced, movieExternalID)
	return nil
}

func (m *fakeManager) IsMonitored(_ context.Context, _ int64) (bool, error) {
	return m.monitored, nil
}

type fixture struct {
	deletionStore   *models.DeletionStore
	mediaFileStore  *models.MediaFileStore
	movieStore      *models.MovieStore
	volumeStore     *models.VolumeStore
	connectionStore *models.ArrConnectionStore
	activityStore   *models.ActivityLogStore
	volume          *models.Volume
	fs              *fakeFS
	manager         *fakeManager
	service         *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := newTestDB(t)

	connectionStore, err := models.NewArrConnectionStore(db, make([]byte, 32))
	require.NoError(t, err)

	f := &fixture{
		deletionStore:   models.NewDeletionStore(db),
		mediaFileStore:  models.NewMediaFileStore(db),
		movieStore:      models.NewMovieStore(db),
		volumeStore:     models.NewVolumeStore(db),
		connectionStore: connectionStore,
		activityStore:   models.NewActivityLogStore(db),
		fs:              &fakeFS{missing: map[string]bool{}, failUnlink: map[string]bool{}},
		manager:         &fakeManager{},
	}

	f.volume, err = f.volumeStore.Upsert(ctx, "media", "/mnt/media", "/data/media")
	require.NoError(t, err)

	f.service = NewService(
		f.deletionStore, f.mediaFileStore, f.movieStore, f.volumeStore,
		f.connectionStore, f.activityStore, f.fs,
		func(*models.ArrConnection, string) ManagerDereferencer { return f.manager },
		nil,
	)
	return f
}

func (f *fixture) addFile(t *testing.T, path string, size int64) *models.MediaFile {
	t.Helper()
	file, err := f.mediaFileStore.Create(context.Background(), &models.MediaFile{
		VolumeID: f.volume.ID, FilePath: path, FileName: path,
		SizeBytes: size, HardlinkCount: 1,
	})
	require.NoError(t, err)
	return file
}

func TestExecutePartialItemFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const gib15 = int64(1_610_612_736)
	okFile := f.addFile(t, "movies/keeper.mkv", gib15)
	badFile := f.addFile(t, "movies/stuck.mkv", 500)
	f.fs.failUnlink["/data/media/movies/stuck.mkv"] = true

	deletion, err := f.deletionStore.Create(ctx, nil, []*models.ScheduledDeletionItem{
		{MediaFileIDs: []int{okFile.ID, badFile.ID}, DeleteFiles: true},
	})
	require.NoError(t, err)

	report, err := f.service.Execute(ctx, deletion.ID, nil)
	require.NoError(t, err)

	require.Len(t, report.Items, 1)
	outcome := report.Items[0]
	assert.Equal(t, 1, outcome.FilesDeleted)
	assert.Equal(t, 1, outcome.FilesFailed)
	assert.Equal(t, gib15, outcome.SpaceFreedBytes)
	// A partial deletion still counts the item as deleted.
	assert.Equal(t, models.DeletionItemStatusDeleted, outcome.Status)
	assert.Equal(t, 0, report.SuccessCount)
	assert.Equal(t, 1, report.FailedCount)

	// But the run fails because an item recorded errors.
	stored, err := f.deletionStore.Get(ctx, deletion.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionStatusFailed, stored.Status)
	require.NotNil(t, stored.Report)

	// The deleted row is gone; the failed one stays visible for a retry.
	_, err = f.mediaFileStore.Get(ctx, okFile.ID)
	assert.ErrorIs(t, err, models.ErrMediaFileNotFound)
	_, err = f.mediaFileStore.Get(ctx, badFile.ID)
	assert.NoError(t, err)
}

func TestExecuteCleanRunCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	file := f.addFile(t, "movies/gone.mkv", 1000)
	deletion, err := f.deletionStore.Create(ctx, nil, []*models.ScheduledDeletionItem{
		{MediaFileIDs: []int{file.ID}, DeleteFiles: true},
	})
	require.NoError(t, err)

	report, err := f.service.Execute(ctx, deletion.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, 0, report.FailedCount)
	assert.Equal(t, []string{"/data/media/movies/gone.mkv"}, f.fs.unlinked)

	stored, err := f.deletionStore.Get(ctx, deletion.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionStatusCompleted, stored.Status)

	items, err := f.deletionStore.ListItems(ctx, deletion.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.DeletionItemStatusDeleted, items[0].Status)
}

func TestExecuteAlreadyAbsentFileFreesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	file := f.addFile(t, "movies/ghost.mkv", 4000)
	f.fs.missing["/data/media/movies/ghost.mkv"] = true

	deletion, err := f.deletionStore.Create(ctx, nil, []*models.ScheduledDeletionItem{
		{MediaFileIDs: []int{file.ID}, DeleteFiles: true},
	})
	require.NoError(t, err)

	report, err := f.service.Execute(ctx, deletion.ID, nil)
	require.NoError(t, err)

	outcome := report.Items[0]
	assert.Equal(t, 1, outcome.FilesDeleted)
	assert.Equal(t, int64(0), outcome.SpaceFreedBytes)
	assert.Empty(t, f.fs.unlinked)

	// The stale record is cleaned up either way.
	_, err = f.mediaFileStore.Get(ctx, file.ID)
	assert.ErrorIs(t, err, models.ErrMediaFileNotFound)
}

func TestExecuteDereferencesManager(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	connection, err := f.connectionStore.Create(ctx, "radarr", "http://radarr:7878", "key", true, 15)
	require.NoError(t, err)

	externalID := int64(27205)
	movie, err := f.movieStore.Create(ctx, &models.Movie{
		Title: "Inception", ExternalID: &externalID, ConnectionID: &connection.ID,
	})
	require.NoError(t, err)

	f.manager.monitored = true

	deletion, err := f.deletionStore.Create(ctx, nil, []*models.ScheduledDeletionItem{
		{MovieID: &movie.ID, DereferenceManager: true},
	})
	require.NoError(t, err)

	report, err := f.service.Execute(ctx, deletion.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, []int64{externalID}, f.manager.dereferenced)
	require.Len(t, report.Items, 1)
	require.Len(t, report.Items[0].Warnings, 1)
	assert.Contains(t, report.Items[0].Warnings[0], "still monitored")

	stored, err := f.movieStore.Get(ctx, movie.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ExternalID)
}

func TestExecuteRejectsTerminalDeletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	file := f.addFile(t, "a.mkv", 1)
	deletion, err := f.deletionStore.Create(ctx, nil, []*models.ScheduledDeletionItem{
		{MediaFileIDs: []int{file.ID}, DeleteFiles: true},
	})
	require.NoError(t, err)

	_, err = f.service.Execute(ctx, deletion.ID, nil)
	require.NoError(t, err)

	_, err = f.service.Execute(ctx, deletion.ID, nil)
	assert.Error(t, err)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	file := f.addFile(t, "a.mkv", 1)
	deletion, err := f.deletionStore.Create(ctx, nil, []*models.ScheduledDeletionItem{
		{MediaFileIDs: []int{file.ID}, DeleteFiles: true},
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(ctx, deletion.ID, nil))

	stored, err := f.deletionStore.Get(ctx, deletion.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionStatusCancelled, stored.Status)

	// A cancelled deletion cannot be cancelled again or executed.
	assert.ErrorIs(t, f.service.Cancel(ctx, deletion.ID, nil), models.ErrDeletionNotCancelable)
	_, err = f.service.Execute(ctx, deletion.ID, nil)
	assert.Error(t, err)
}

func TestDeriveItemStatus(t *testing.T) {
	assert.Equal(t, models.DeletionItemStatusDeleted, deriveItemStatus(ItemOutcome{}))
	assert.Equal(t, models.DeletionItemStatusDeleted, deriveItemStatus(ItemOutcome{FilesDeleted: 2, Errors: []string{"x"}}))
	assert.Equal(t, models.DeletionItemStatusFailed, deriveItemStatus(ItemOutcome{FilesFailed: 1, Errors: []string{"x"}}))
}
