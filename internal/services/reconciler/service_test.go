// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconciler

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeparr/sweeparr/internal/arr"
	"github.com/sweeparr/sweeparr/internal/database"
	"github.com/sweeparr/sweeparr/internal/domain"
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

type fakeTorrentClient struct {
	torrents []qbt.Torrent
	files    map[string]qbt.TorrentFiles
	trackers map[string]string
}

func (c *fakeTorrentClient) ListTorrents(context.Context) ([]qbt.Torrent, error) {
	return c.torrents, nil
}

func (c *fakeTorrentClient) ListFiles(_ context.Context, hash string) (qbt.TorrentFiles, error) {
	return c.files[hash], nil
}

func (c *fakeTorrentClient) TrackerURL(_ context.Context, torrent qbt.Torrent) (string, error) {
	return c.trackers[torrent.Hash], nil
}

type fakeHistoryClient struct {
	records []arr.HistoryRecord
}

func (c *fakeHistoryClient) GetHistory(context.Context) ([]arr.HistoryRecord, error) {
	return c.records, nil
}

type reconcilerFixture struct {
	db               *database.DB
	connectionStore  *models.ArrConnectionStore
	volumeStore      *models.VolumeStore
	mediaFileStore   *models.MediaFileStore
	movieStore       *models.MovieStore
	movieFileStore   *models.MovieFileStore
	torrentStatStore *models.TorrentStatStore
	trackerRuleStore *models.TrackerRuleStore
	torrents         *fakeTorrentClient
	history          *fakeHistoryClient
	service          *Service
	volume           *models.Volume
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	ctx := context.Background()
	db := newTestDB(t)

	connectionStore, err := models.NewArrConnectionStore(db, make([]byte, 32))
	require.NoError(t, err)

	f := &reconcilerFixture{
		db:               db,
		connectionStore:  connectionStore,
		volumeStore:      models.NewVolumeStore(db),
		mediaFileStore:   models.NewMediaFileStore(db),
		movieStore:       models.NewMovieStore(db),
		movieFileStore:   models.NewMovieFileStore(db),
		torrentStatStore: models.NewTorrentStatStore(db),
		trackerRuleStore: models.NewTrackerRuleStore(db),
		torrents: &fakeTorrentClient{
			files:    map[string]qbt.TorrentFiles{},
			trackers: map[string]string{},
		},
		history: &fakeHistoryClient{},
	}

	f.volume, err = f.volumeStore.Upsert(ctx, "media", "/mnt/media", "/data/media")
	require.NoError(t, err)

	cfg := &domain.Config{StaleAfterMinutes: 90}
	f.service = NewService(cfg, connectionStore, f.volumeStore, f.mediaFileStore,
		f.movieStore, f.movieFileStore, f.torrentStatStore, f.trackerRuleStore,
		models.NewSettingsStore(db))
	f.service.SetTorrentClientFactory(func(context.Context) (TorrentClient, error) {
		return f.torrents, nil
	})
	f.service.SetManagerClientFactory(func(string, string, int) ManagerClient {
		return f.history
	})
	f.service.SetHashFileFunc(func(string) (string, error) {
		return "", errors.New("not readable in tests")
	})
	return f
}

func (f *reconcilerFixture) addFile(t *testing.T, path string, size int64) *models.MediaFile {
	t.Helper()
	file, err := f.mediaFileStore.Create(context.Background(), &models.MediaFile{
		VolumeID: f.volume.ID, FilePath: path, FileName: path,
		SizeBytes: size, HardlinkCount: 1,
	})
	require.NoError(t, err)
	return file
}

func TestSyncMatchesByContentPath(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)

	file := f.addFile(t, "movies/Inception.2010.mkv", 5000)

	f.torrents.torrents = []qbt.Torrent{{
		Hash:        "ABCDEF1234567890ABCDEF1234567890ABCDEF12",
		Name:        "Inception.2010",
		ContentPath: "/data/media/movies/Inception.2010.mkv",
		Ratio:       2.5,
		SeedingTime: 3600,
		Size:        5000,
		State:       qbt.TorrentStateUploading,
		AddedOn:     time.Now().Add(-24 * time.Hour).Unix(),
	}}
	f.torrents.trackers["ABCDEF1234567890ABCDEF1234567890ABCDEF12"] = "https://tracker.example.org:6969/announce"

	result, err := f.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TorrentsSynced)
	assert.Equal(t, 1, result.NewTrackers)
	assert.Equal(t, 0, result.Unmatched)
	assert.Equal(t, 0, result.Errors)

	// Hash is stored normalized to lowercase.
	stat, err := f.torrentStatStore.GetByHash(ctx, "abcdef1234567890abcdef1234567890abcdef12")
	require.NoError(t, err)
	require.NotNil(t, stat.MediaFileID)
	assert.Equal(t, file.ID, *stat.MediaFileID)
	assert.Equal(t, "tracker.example.org", stat.TrackerDomain)
	assert.Equal(t, models.TorrentStatusSeeding, stat.Status)
	assert.Equal(t, 2.5, stat.Ratio)

	rule, err := f.trackerRuleStore.GetByDomain(ctx, "tracker.example.org")
	require.NoError(t, err)
	assert.True(t, rule.IsAutoDetected)
	assert.Equal(t, 0, rule.MinSeedTimeHours)
	assert.Equal(t, 0.0, rule.MinRatio)
}

func TestSyncMatchesByManagerHistory(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)

	_, err := f.connectionStore.Create(ctx, "radarr", "http://radarr:7878", "key", true, 15)
	require.NoError(t, err)

	externalID := int64(27205)
	connections, err := f.connectionStore.List(ctx)
	require.NoError(t, err)
	movie, err := f.movieStore.Create(ctx, &models.Movie{
		Title: "Inception", ExternalID: &externalID, ConnectionID: &connections[0].ID,
	})
	require.NoError(t, err)

	file := f.addFile(t, "movies/inception.mkv", 5000)
	_, err = f.movieFileStore.CreateLink(ctx, movie.ID, file.ID, models.MatchedByExternalAPI, 1.0)
	require.NoError(t, err)

	const hash = "1111111111111111111111111111111111111111"
	f.history.records = []arr.HistoryRecord{{DownloadID: hash, MovieID: externalID, EventType: "grabbed"}}
	// Content path deliberately unknown so only history can match.
	f.torrents.torrents = []qbt.Torrent{{
		Hash: hash, Name: "some.release", ContentPath: "/downloads/some.release", Size: 5000,
		State: qbt.TorrentStateStalledUp,
	}}

	result, err := f.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TorrentsSynced)
	assert.Equal(t, 0, result.Unmatched)

	stat, err := f.torrentStatStore.GetByHash(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, stat.MediaFileID)
	assert.Equal(t, file.ID, *stat.MediaFileID)
}

func TestSyncSizeFallbackAndAmbiguity(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)

	unique := f.addFile(t, "movies/unique.mkv", 7777)
	f.addFile(t, "movies/twin-a.mkv", 9999)
	f.addFile(t, "movies/twin-b.mkv", 9999)

	f.torrents.torrents = []qbt.Torrent{
		{Hash: "2222222222222222222222222222222222222222", Name: "unique", ContentPath: "/downloads/unique", Size: 7777},
		{Hash: "3333333333333333333333333333333333333333", Name: "twin", ContentPath: "/downloads/twin", Size: 9999},
	}
	f.torrents.files["2222222222222222222222222222222222222222"] = qbt.TorrentFiles{
		{Name: "unique.mkv", Size: 7777},
		{Name: "sample/sample.nfo", Size: 10},
	}
	f.torrents.files["3333333333333333333333333333333333333333"] = qbt.TorrentFiles{
		{Name: "twin.mkv", Size: 9999},
	}

	result, err := f.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TorrentsSynced)
	// The unique size matches; the ambiguous one stays unmatched because the
	// payload is not readable for hashing.
	assert.Equal(t, 1, result.Unmatched)

	stat, err := f.torrentStatStore.GetByHash(ctx, "2222222222222222222222222222222222222222")
	require.NoError(t, err)
	require.NotNil(t, stat.MediaFileID)
	assert.Equal(t, unique.ID, *stat.MediaFileID)

	ambiguous, err := f.torrentStatStore.GetByHash(ctx, "3333333333333333333333333333333333333333")
	require.NoError(t, err)
	assert.Nil(t, ambiguous.MediaFileID)
}

func TestSyncSameDaySnapshotIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)

	f.torrents.torrents = []qbt.Torrent{{
		Hash: "4444444444444444444444444444444444444444", Name: "thing", Size: 1,
	}}

	_, err := f.service.Sync(ctx)
	require.NoError(t, err)
	_, err = f.service.Sync(ctx)
	require.NoError(t, err)

	stat, err := f.torrentStatStore.GetByHash(ctx, "4444444444444444444444444444444444444444")
	require.NoError(t, err)
	count, err := f.torrentStatStore.CountSnapshots(ctx, stat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSyncMarksStaleTorrentsRemovedOnce(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)

	stale, err := f.torrentStatStore.Upsert(ctx, &models.TorrentStat{
		Hash: "5555555555555555555555555555555555555555", Name: "gone", Status: models.TorrentStatusSeeding,
	})
	require.NoError(t, err)
	_, err = f.db.ExecContext(ctx,
		`UPDATE torrent_stats SET last_synced_at = ? WHERE id = ?`,
		time.Now().Add(-3*time.Hour).UTC(), stale.ID)
	require.NoError(t, err)

	result, err := f.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.StaleRemoved)

	stored, err := f.torrentStatStore.GetByHash(ctx, stale.Hash)
	require.NoError(t, err)
	assert.Equal(t, models.TorrentStatusRemoved, stored.Status)

	// Already-removed rows do not flip again.
	result, err = f.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.StaleRemoved)
}

func TestSyncTrackerRuleCreatedOncePerDomain(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)

	f.torrents.torrents = []qbt.Torrent{
		{Hash: "6666666666666666666666666666666666666666", Name: "a", Size: 1},
		{Hash: "7777777777777777777777777777777777777777", Name: "b", Size: 2},
	}
	f.torrents.trackers["6666666666666666666666666666666666666666"] = "https://tracker.example.org/announce"
	f.torrents.trackers["7777777777777777777777777777777777777777"] = "https://TRACKER.example.org/announce?passkey=x"

	result, err := f.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewTrackers)

	rules, err := f.trackerRuleStore.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestMapTorrentState(t *testing.T) {
	tests := []struct {
		state qbt.TorrentState
		want  models.TorrentStatus
	}{
		{qbt.TorrentStateUploading, models.TorrentStatusSeeding},
		{qbt.TorrentStateStalledUp, models.TorrentStatusSeeding},
		{qbt.TorrentStateMoving, models.TorrentStatusSeeding},
		{qbt.TorrentStatePausedUp, models.TorrentStatusPaused},
		{qbt.TorrentStateStoppedUp, models.TorrentStatusPaused},
		{qbt.TorrentStateStalledDl, models.TorrentStatusStalled},
		{qbt.TorrentStateDownloading, models.TorrentStatusStalled},
		{qbt.TorrentStateError, models.TorrentStatusError},
		{qbt.TorrentStateMissingFiles, models.TorrentStatusError},
		{qbt.TorrentState("unheard-of"), models.TorrentStatusSeeding},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, mapTorrentState(tt.state))
		})
	}
}
