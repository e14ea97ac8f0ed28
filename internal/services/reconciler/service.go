// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reconciler ingests live torrent client state, matches torrents to
// on-disk media files through a cascade of strategies, maintains per-torrent
// statistics with daily snapshots, and auto-discovers tracker rules.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"path"
	"strings"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/sweeparr/sweeparr/internal/arr"
	"github.com/sweeparr/sweeparr/internal/domain"
	"github.com/sweeparr/sweeparr/internal/metrics"
	"github.com/sweeparr/sweeparr/internal/models"
	"github.com/sweeparr/sweeparr/internal/pathmap"
	"github.com/sweeparr/sweeparr/internal/qbittorrent"
	"github.com/sweeparr/sweeparr/pkg/hashutil"
)

// mediaExtensions limits the file-size fallback to actual media payloads.
var mediaExtensions = map[string]struct{}{
	".mkv": {}, ".mp4": {}, ".avi": {}, ".m4v": {}, ".mov": {},
	".wmv": {}, ".ts": {}, ".m2ts": {}, ".webm": {}, ".mpg": {},
}

// TorrentClient is the slice of the qBittorrent wrapper the reconciler uses.
type TorrentClient interface {
	ListTorrents(ctx context.Context) ([]qbt.Torrent, error)
	ListFiles(ctx context.Context, hash string) (qbt.TorrentFiles, error)
	TrackerURL(ctx context.Context, torrent qbt.Torrent) (string, error)
}

// ManagerClient is the slice of the manager API used for history lookups.
type ManagerClient interface {
	GetHistory(ctx context.Context) ([]arr.HistoryRecord, error)
}

type (
	TorrentClientFactory func(ctx context.Context) (TorrentClient, error)
	ManagerClientFactory func(baseURL, apiKey string, timeoutSeconds int) ManagerClient
	HashFileFunc         func(path string) (string, error)
)

type Service struct {
	qbitConfigured   bool
	staleAfter       time.Duration
	connectionStore  *models.ArrConnectionStore
	volumeStore      *models.VolumeStore
	mediaFileStore   *models.MediaFileStore
	movieStore       *models.MovieStore
	movieFileStore   *models.MovieFileStore
	torrentStatStore *models.TorrentStatStore
	trackerRuleStore *models.TrackerRuleStore
	settingsStore    *models.SettingsStore

	newTorrentClient TorrentClientFactory
	newManagerClient ManagerClientFactory
	hashFile         HashFileFunc
}

func NewService(
	cfg *domain.Config,
	connectionStore *models.ArrConnectionStore,
	volumeStore *models.VolumeStore,
	mediaFileStore *models.MediaFileStore,
	movieStore *models.MovieStore,
	movieFileStore *models.MovieFileStore,
	torrentStatStore *models.TorrentStatStore,
	trackerRuleStore *models.TrackerRuleStore,
	settingsStore *models.SettingsStore,
) *Service {
	return &Service{
		qbitConfigured:   cfg.Qbittorrent.Host != "",
		staleAfter:       cfg.StaleAfter(),
		connectionStore:  connectionStore,
		volumeStore:      volumeStore,
		mediaFileStore:   mediaFileStore,
		movieStore:       movieStore,
		movieFileStore:   movieFileStore,
		torrentStatStore: torrentStatStore,
		trackerRuleStore: trackerRuleStore,
		settingsStore:    settingsStore,
		newTorrentClient: func(ctx context.Context) (TorrentClient, error) {
			return qbittorrent.NewClient(ctx, cfg.Qbittorrent.Host, cfg.Qbittorrent.Username, cfg.Qbittorrent.Password)
		},
		newManagerClient: func(baseURL, apiKey string, timeoutSeconds int) ManagerClient {
			return arr.NewClient(baseURL, apiKey, timeoutSeconds)
		},
		hashFile: hashutil.PartialFile,
	}
}

// SetTorrentClientFactory overrides torrent client construction, used by tests.
func (s *Service) SetTorrentClientFactory(factory TorrentClientFactory) {
	s.newTorrentClient = factory
	s.qbitConfigured = true
}

// SetManagerClientFactory overrides manager client construction, used by tests.
func (s *Service) SetManagerClientFactory(factory ManagerClientFactory) {
	s.newManagerClient = factory
}

// SetHashFileFunc overrides partial hashing, used by tests.
func (s *Service) SetHashFileFunc(fn HashFileFunc) {
	s.hashFile = fn
}

// Result carries the aggregate counters of one sync pass, persisted as the
// last sync result for status reporting.
type Result struct {
	TorrentsSynced int `json:"torrents_synced"`
	NewTrackers    int `json:"new_trackers"`
	Unmatched      int `json:"unmatched"`
	StaleRemoved   int `json:"stale_removed"`
	Errors         int `json:"errors"`
}

// historyEntry points a download hash back at the movie the manager grabbed
// it for.
type historyEntry struct {
	movieExternalID int64
	connectionID    int
}

// Sync runs one reconciliation pass. An unconfigured or unreachable torrent
// client yields a zero-effect result with the error counted, never a failed
// run. Per-torrent errors are counted and skipped.
func (s *Service) Sync(ctx context.Context) (*Result, error) {
	result := &Result{}
	defer s.persistResult(ctx, result)

	if !s.qbitConfigured {
		log.Warn().Msg("torrent client not configured, skipping sync")
		result.Errors++
		return result, nil
	}

	client, err := s.newTorrentClient(ctx)
	if err != nil {
		log.Error().Err(err).Msg("torrent client unreachable, skipping sync")
		result.Errors++
		return result, nil
	}

	torrents, err := client.ListTorrents(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list torrents, skipping sync")
		result.Errors++
		return result, nil
	}

	history := s.buildHistoryMap(ctx)

	volumes, err := s.volumeStore.ListActive(ctx)
	if err != nil {
		return result, err
	}
	hostRoots := make([]string, 0, len(volumes))
	for _, v := range volumes {
		hostRoots = append(hostRoots, v.HostPath)
	}
	mappings := pathmap.BuildMappings(hostRoots, volumes)

	// Dedup cache scoped to this invocation; see processTorrent.
	seenDomains := make(map[string]struct{})

	for i := range torrents {
		if err := s.processTorrent(ctx, client, torrents[i], history, mappings, seenDomains, result); err != nil {
			log.Warn().Err(err).Str("hash", torrents[i].Hash).Msg("failed to process torrent")
			metrics.SyncErrors.Inc()
			result.Errors++
		}
	}

	cutoff := time.Now().Add(-s.staleAfter)
	stale, err := s.torrentStatStore.MarkStaleRemoved(ctx, cutoff)
	if err != nil {
		return result, err
	}
	result.StaleRemoved = int(stale)
	metrics.StaleTorrentsRemoved.Add(float64(stale))

	log.Info().
		Int("torrentsSynced", result.TorrentsSynced).
		Int("newTrackers", result.NewTrackers).
		Int("unmatched", result.Unmatched).
		Int("staleRemoved", result.StaleRemoved).
		Int("errors", result.Errors).
		Msg("torrent reconciliation completed")
	return result, nil
}

// buildHistoryMap pulls download history from every enabled connection.
// Unreachable connections are skipped with a warning.
func (s *Service) buildHistoryMap(ctx context.Context) map[string]historyEntry {
	history := make(map[string]historyEntry)

	connections, err := s.connectionStore.ListEnabled(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list manager connections for history")
		return history
	}

	for _, connection := range connections {
		apiKey, err := s.connectionStore.GetDecryptedAPIKey(connection)
		if err != nil {
			log.Warn().Err(err).Str("connection", connection.Name).Msg("failed to decrypt API key")
			continue
		}
		client := s.newManagerClient(connection.BaseURL, apiKey, connection.TimeoutSeconds)

		records, err := client.GetHistory(ctx)
		if err != nil {
			log.Warn().Err(err).Str("connection", connection.Name).Msg("manager history unreachable, skipping")
			continue
		}
		for _, record := range records {
			hash := hashutil.Normalize(record.DownloadID)
			if hash == "" {
				continue
			}
			if _, exists := history[hash]; !exists {
				history[hash] = historyEntry{movieExternalID: record.MovieID, connectionID: connection.ID}
			}
		}
	}
	return history
}

func (s *Service) processTorrent(
	ctx context.Context,
	client TorrentClient,
	torrent qbt.Torrent,
	history map[string]historyEntry,
	mappings []pathmap.Mapping,
	seenDomains map[string]struct{},
	result *Result,
) error {
	hash := hashutil.Normalize(torrent.Hash)
	if hash == "" {
		return errors.New("torrent has no hash")
	}

	trackerDomain := s.resolveTrackerDomain(ctx, client, torrent)
	if trackerDomain != "" {
		created, err := s.ensureTrackerRule(ctx, trackerDomain, seenDomains)
		if err != nil {
			return err
		}
		if created {
			result.NewTrackers++
			metrics.TrackerRulesAutoCreated.Inc()
		}
	}

	mediaFile, err := s.matchTorrent(ctx, client, torrent, hash, history, mappings)
	if err != nil {
		return err
	}
	if mediaFile == nil {
		result.Unmatched++
		metrics.TorrentsUnmatched.Inc()
	}

	stat := &models.TorrentStat{
		Hash:            hash,
		Name:            torrent.Name,
		TrackerDomain:   trackerDomain,
		Ratio:           torrent.Ratio,
		SeedTimeSeconds: torrent.SeedingTime,
		UploadedBytes:   torrent.Uploaded,
		DownloadedBytes: torrent.Downloaded,
		SizeBytes:       torrent.Size,
		Status:          mapTorrentState(torrent.State),
	}
	if mediaFile != nil {
		stat.MediaFileID = &mediaFile.ID
	}
	if torrent.AddedOn > 0 {
		added := time.Unix(torrent.AddedOn, 0).UTC()
		stat.AddedAt = &added
	}
	if torrent.LastActivity > 0 {
		lastActivity := time.Unix(torrent.LastActivity, 0).UTC()
		stat.LastActivityAt = &lastActivity
	}

	stored, err := s.torrentStatStore.Upsert(ctx, stat)
	if err != nil {
		return err
	}

	if _, err := s.torrentStatStore.AddDailySnapshot(ctx, stored.ID, time.Now(),
		stored.Ratio, stored.SeedTimeSeconds, stored.UploadedBytes, stored.DownloadedBytes); err != nil {
		return err
	}

	result.TorrentsSynced++
	metrics.TorrentsSynced.Inc()
	return nil
}

// resolveTrackerDomain extracts the host from the torrent's tracker URL.
func (s *Service) resolveTrackerDomain(ctx context.Context, client TorrentClient, torrent qbt.Torrent) string {
	trackerURL, err := client.TrackerURL(ctx, torrent)
	if err != nil {
		log.Debug().Err(err).Str("hash", torrent.Hash).Msg("failed to resolve tracker URL")
		return ""
	}
	if trackerURL == "" {
		return ""
	}
	parsed, err := url.Parse(trackerURL)
	if err != nil || parsed.Hostname() == "" {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// ensureTrackerRule auto-creates an unrestricted rule for a domain seen for
// the first time. seenDomains is owned by the current sync invocation so a
// second torrent from the same domain in the same pass never re-checks.
func (s *Service) ensureTrackerRule(ctx context.Context, domain string, seenDomains map[string]struct{}) (bool, error) {
	if _, seen := seenDomains[domain]; seen {
		return false, nil
	}
	seenDomains[domain] = struct{}{}

	if _, err := s.trackerRuleStore.GetByDomain(ctx, domain); err == nil {
		return false, nil
	} else if !errors.Is(err, models.ErrTrackerRuleNotFound) {
		return false, err
	}

	if _, err := s.trackerRuleStore.CreateAutoDetected(ctx, domain); err != nil {
		return false, err
	}
	log.Info().Str("domain", domain).Msg("auto-created tracker rule")
	return true, nil
}

// matchTorrent applies the three-strategy cascade: manager history by hash,
// content path remap, then file-size fallback. A nil result with nil error
// means unmatched, which is not an error.
func (s *Service) matchTorrent(
	ctx context.Context,
	client TorrentClient,
	torrent qbt.Torrent,
	hash string,
	history map[string]historyEntry,
	mappings []pathmap.Mapping,
) (*models.MediaFile, error) {
	// (i) manager history: hash -> movie -> first linked file.
	if entry, ok := history[hash]; ok {
		movie, err := s.movieStore.GetByExternalID(ctx, entry.movieExternalID)
		if err == nil {
			mediaFileID, err := s.movieFileStore.FirstFileForMovie(ctx, movie.ID)
			if err == nil {
				return s.mediaFileStore.Get(ctx, mediaFileID)
			}
			if !errors.Is(err, models.ErrLinkNotFound) {
				return nil, err
			}
		} else if !errors.Is(err, models.ErrMovieNotFound) {
			return nil, err
		}
	}

	// (ii) content path remap into known files.
	if torrent.ContentPath != "" {
		_, file, err := pathmap.Remap(ctx, torrent.ContentPath, mappings, s.mediaFileStore)
		if err != nil {
			return nil, err
		}
		if file != nil {
			return file, nil
		}
	}

	// (iii) file-size fallback on the largest media file in the torrent.
	return s.matchBySize(ctx, client, torrent, mappings)
}

func (s *Service) matchBySize(ctx context.Context, client TorrentClient, torrent qbt.Torrent, mappings []pathmap.Mapping) (*models.MediaFile, error) {
	files, err := client.ListFiles(ctx, torrent.Hash)
	if err != nil {
		log.Debug().Err(err).Str("hash", torrent.Hash).Msg("failed to list torrent files for size fallback")
		return nil, nil
	}

	var largestSize int64
	var largestName string
	for i := range files {
		ext := strings.ToLower(path.Ext(files[i].Name))
		if _, ok := mediaExtensions[ext]; !ok {
			continue
		}
		if files[i].Size > largestSize {
			largestSize = files[i].Size
			largestName = files[i].Name
		}
	}
	if largestName == "" {
		return nil, nil
	}

	candidates, err := s.mediaFileStore.ListBySize(ctx, largestSize)
	if err != nil {
		return nil, err
	}
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return candidates[0], nil
	}

	// Multiple same-size files: disambiguate with a partial content hash of
	// the torrent payload when it is locally readable. An unreadable payload
	// or no unique hash match leaves the torrent unmatched.
	return s.disambiguate(ctx, torrent, largestName, candidates, mappings)
}

func (s *Service) disambiguate(ctx context.Context, torrent qbt.Torrent, fileName string, candidates []*models.MediaFile, mappings []pathmap.Mapping) (*models.MediaFile, error) {
	localPayload := s.localPayloadPath(torrent, fileName, mappings)
	if localPayload == "" {
		log.Debug().Str("hash", torrent.Hash).Msg("cross-seed ambiguous, payload not locally readable")
		return nil, nil
	}

	payloadHash, err := s.hashFile(localPayload)
	if err != nil {
		log.Debug().Err(err).Str("path", localPayload).Msg("cross-seed ambiguous, payload hash failed")
		return nil, nil
	}

	var match *models.MediaFile
	for _, candidate := range candidates {
		candidateHash, err := s.candidateHash(ctx, candidate)
		if err != nil || candidateHash == "" {
			continue
		}
		if candidateHash == payloadHash {
			if match != nil {
				// Two identical candidates; keep the torrent unmatched.
				return nil, nil
			}
			match = candidate
		}
	}
	return match, nil
}

// candidateHash returns the stored partial hash, computing and persisting it
// lazily when the file is readable through its volume path.
func (s *Service) candidateHash(ctx context.Context, candidate *models.MediaFile) (string, error) {
	if candidate.PartialHash != nil {
		return *candidate.PartialHash, nil
	}

	volume, err := s.volumeStore.Get(ctx, candidate.VolumeID)
	if err != nil {
		return "", err
	}
	localPath := path.Join(volume.Path, candidate.FilePath)

	hash, err := s.hashFile(localPath)
	if err != nil {
		return "", nil
	}
	if err := s.mediaFileStore.SetPartialHash(ctx, candidate.ID, hash); err != nil {
		return "", err
	}
	return hash, nil
}

// localPayloadPath maps the torrent's content path onto a local volume path.
func (s *Service) localPayloadPath(torrent qbt.Torrent, fileName string, mappings []pathmap.Mapping) string {
	contentPath := torrent.ContentPath
	if contentPath == "" {
		return ""
	}

	for i := range mappings {
		m := &mappings[i]
		rel, ok := trimPrefix(contentPath, m.ExternalRoot)
		if !ok {
			continue
		}
		candidate := path.Join(m.Volume.Path, rel)
		// Multi-file torrents report the directory as content path.
		if !strings.HasSuffix(contentPath, fileName) {
			candidate = path.Join(candidate, path.Base(fileName))
		}
		return candidate
	}
	return ""
}

func trimPrefix(p, root string) (string, bool) {
	p = strings.ReplaceAll(p, "\\", "/")
	root = strings.TrimSuffix(root, "/")
	if p == root {
		return "", true
	}
	if strings.HasPrefix(p, root+"/") {
		return strings.TrimPrefix(p, root+"/"), true
	}
	return "", false
}

// mapTorrentState reduces qBittorrent's state zoo to the tracked statuses.
// Unknown states default to seeding rather than error.
func mapTorrentState(state qbt.TorrentState) models.TorrentStatus {
	switch state {
	case qbt.TorrentStateUploading, qbt.TorrentStateStalledUp, qbt.TorrentStateForcedUp,
		qbt.TorrentStateQueuedUp, qbt.TorrentStateCheckingUp, qbt.TorrentStateCheckingResumeData,
		qbt.TorrentStateMoving:
		return models.TorrentStatusSeeding
	case qbt.TorrentStatePausedUp, qbt.TorrentStatePausedDl,
		qbt.TorrentStateStoppedUp, qbt.TorrentStateStoppedDl:
		return models.TorrentStatusPaused
	case qbt.TorrentStateStalledDl, qbt.TorrentStateQueuedDl, qbt.TorrentStateCheckingDl,
		qbt.TorrentStateDownloading, qbt.TorrentStateForcedDl, qbt.TorrentStateMetaDl,
		qbt.TorrentStateAllocating:
		return models.TorrentStatusStalled
	case qbt.TorrentStateError, qbt.TorrentStateMissingFiles:
		return models.TorrentStatusError
	default:
		return models.TorrentStatusSeeding
	}
}

func (s *Service) persistResult(ctx context.Context, result *Result) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.settingsStore.Set(ctx, models.SettingLastSyncResult, string(encoded)); err != nil {
		log.Warn().Err(err).Msg("failed to persist sync result")
	}
	if err := s.settingsStore.Set(ctx, models.SettingLastSyncAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Warn().Err(err).Msg("failed to persist sync timestamp")
	}
}
