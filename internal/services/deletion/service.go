// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package deletion orchestrates multi-step, partially-failable retirement of
// media files: physical delete through the watcher agent, catalogue
// dereference at the manager, with a structured per-item report.
package deletion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sweeparr/sweeparr/internal/metrics"
	"github.com/sweeparr/sweeparr/internal/models"
	"github.com/sweeparr/sweeparr/pkg/pathcmp"
)

// FSAgent is the filesystem-delete capability, served by the watcher client.
type FSAgent interface {
	Exists(ctx context.Context, path string) (bool, error)
	Unlink(ctx context.Context, path string) (bool, error)
}

// ManagerDereferencer is the slice of the manager API the orchestrator uses.
type ManagerDereferencer interface {
	Dereference(ctx context.Context, movieExternalID int64) error
	IsMonitored(ctx context.Context, movieExternalID int64) (bool, error)
}

// ManagerFactory resolves the client for one stored connection.
type ManagerFactory func(connection *models.ArrConnection, apiKey string) ManagerDereferencer

// Notifier delivers fire-and-forget run outcome messages. May be nil.
type Notifier interface {
	NotifyDeletionResult(ctx context.Context, deletionID int, status models.DeletionStatus, successCount, failedCount int)
}

type Service struct {
	deletionStore   *models.DeletionStore
	mediaFileStore  *models.MediaFileStore
	movieStore      *models.MovieStore
	volumeStore     *models.VolumeStore
	connectionStore *models.ArrConnectionStore
	activityStore   *models.ActivityLogStore
	fs              FSAgent
	newManager      ManagerFactory
	notifier        Notifier
}

func NewService(
	deletionStore *models.DeletionStore,
	mediaFileStore *models.MediaFileStore,
	movieStore *models.MovieStore,
	volumeStore *models.VolumeStore,
	connectionStore *models.ArrConnectionStore,
	activityStore *models.ActivityLogStore,
	fs FSAgent,
	newManager ManagerFactory,
	notifier Notifier,
) *Service {
	return &Service{
		deletionStore:   deletionStore,
		mediaFileStore:  mediaFileStore,
		movieStore:      movieStore,
		volumeStore:     volumeStore,
		connectionStore: connectionStore,
		activityStore:   activityStore,
		fs:              fs,
		newManager:      newManager,
		notifier:        notifier,
	}
}

// ItemOutcome is the tagged per-item result; run status derives from the
// outcome list alone.
type ItemOutcome struct {
	ItemID          int                       `json:"item_id"`
	MovieID         *int                      `json:"movie_id,omitempty"`
	Status          models.DeletionItemStatus `json:"status"`
	FilesDeleted    int                       `json:"files_deleted"`
	FilesFailed     int                       `json:"files_failed"`
	SpaceFreedBytes int64                     `json:"space_freed_bytes"`
	Errors          []string                  `json:"errors,omitempty"`
	Warnings        []string                  `json:"warnings,omitempty"`
}

// Report is the persisted execution record of one run.
type Report struct {
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	SuccessCount int           `json:"success_count"`
	FailedCount  int           `json:"failed_count"`
	Items        []ItemOutcome `json:"items"`
}

// Execute runs one scheduled deletion to a terminal state. Per-item failures
// never abort sibling items; the run fails only when at least one item
// failed outright.
func (s *Service) Execute(ctx context.Context, deletionID int, actor *string) (*Report, error) {
	deletion, err := s.deletionStore.Get(ctx, deletionID)
	if err != nil {
		return nil, err
	}
	switch deletion.Status {
	case models.DeletionStatusPending, models.DeletionStatusReminderSent, models.DeletionStatusWaitingWatcher:
	default:
		return nil, fmt.Errorf("scheduled deletion %d is %s, not executable", deletionID, deletion.Status)
	}

	if err := s.deletionStore.SetStatus(ctx, deletionID, models.DeletionStatusExecuting); err != nil {
		return nil, err
	}

	items, err := s.deletionStore.ListItems(ctx, deletionID)
	if err != nil {
		return nil, err
	}

	report := &Report{StartedAt: time.Now().UTC()}
	for _, item := range items {
		outcome := s.executeItem(ctx, item)
		report.Items = append(report.Items, outcome)

		// An item with any recorded error counts against the run, even when
		// partial deletions leave its own status at deleted.
		if len(outcome.Errors) > 0 {
			report.FailedCount++
		} else {
			report.SuccessCount++
		}

		var errorMessage *string
		if len(outcome.Errors) > 0 {
			joined := strings.Join(outcome.Errors, "; ")
			errorMessage = &joined
		}
		if err := s.deletionStore.SetItemResult(ctx, item.ID, outcome.Status, errorMessage); err != nil {
			log.Error().Err(err).Int("itemID", item.ID).Msg("failed to record item result")
		}
	}
	report.FinishedAt = time.Now().UTC()

	status := models.DeletionStatusCompleted
	if report.FailedCount > 0 {
		status = models.DeletionStatusFailed
	}

	encoded, err := json.Marshal(report)
	if err != nil {
		return report, fmt.Errorf("failed to encode deletion report: %w", err)
	}
	if err := s.deletionStore.FinishRun(ctx, deletionID, status,
		report.StartedAt, report.FinishedAt, report.SuccessCount, report.FailedCount, string(encoded)); err != nil {
		return report, err
	}

	metrics.DeletionRuns.WithLabelValues(string(status)).Inc()

	if err := s.activityStore.Append(ctx, "deletion.executed", actor, map[string]any{
		"deletion_id":   deletionID,
		"status":        status,
		"success_count": report.SuccessCount,
		"failed_count":  report.FailedCount,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to write deletion audit entry")
	}

	if s.notifier != nil {
		s.notifier.NotifyDeletionResult(ctx, deletionID, status, report.SuccessCount, report.FailedCount)
	}

	log.Info().
		Int("deletionID", deletionID).
		Str("status", string(status)).
		Int("successCount", report.SuccessCount).
		Int("failedCount", report.FailedCount).
		Msg("deletion run finished")
	return report, nil
}

// executeItem processes one item. Every failure path is converted into the
// item's outcome; nothing escapes to the run loop.
func (s *Service) executeItem(ctx context.Context, item *models.ScheduledDeletionItem) ItemOutcome {
	outcome := ItemOutcome{ItemID: item.ID, MovieID: item.MovieID}

	if item.DeleteFiles {
		for _, fileID := range item.MediaFileIDs {
			s.deleteFile(ctx, fileID, &outcome)
		}
	}

	if item.DereferenceManager && item.MovieID != nil {
		s.dereferenceMovie(ctx, *item.MovieID, &outcome)
	}

	// Player dereference is recognized but inert, reserved for the hardlink
	// replacement flow.
	_ = item.DereferencePlayer

	outcome.Status = deriveItemStatus(outcome)
	return outcome
}

// deriveItemStatus: no errors means deleted; partial deletions stay deleted
// with the errors attached; zero deletions with errors means failed.
func deriveItemStatus(outcome ItemOutcome) models.DeletionItemStatus {
	if len(outcome.Errors) == 0 {
		return models.DeletionItemStatusDeleted
	}
	if outcome.FilesDeleted > 0 {
		return models.DeletionItemStatusDeleted
	}
	return models.DeletionItemStatusFailed
}

func (s *Service) deleteFile(ctx context.Context, fileID int, outcome *ItemOutcome) {
	file, err := s.mediaFileStore.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, models.ErrMediaFileNotFound) {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("media file %d not found", fileID))
		} else {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("media file %d: %v", fileID, err))
		}
		outcome.FilesFailed++
		return
	}

	volume, err := s.volumeStore.Get(ctx, file.VolumeID)
	if err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("volume for file %d: %v", fileID, err))
		outcome.FilesFailed++
		return
	}
	hostPath := pathcmp.NormalizePath(volume.HostPath) + "/" + file.FilePath

	exists, err := s.fs.Exists(ctx, hostPath)
	if err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("exists check for %s: %v", hostPath, err))
		outcome.FilesFailed++
		return
	}

	freed := int64(0)
	if exists {
		removed, err := s.fs.Unlink(ctx, hostPath)
		if err != nil || !removed {
			// Keep the row so the inconsistency stays visible and retryable.
			if err == nil {
				err = errors.New("watcher declined to remove the file")
			}
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("unlink %s: %v", hostPath, err))
			outcome.FilesFailed++
			return
		}
		freed = file.SizeBytes
	}

	if err := s.mediaFileStore.Delete(ctx, fileID); err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("remove record for file %d: %v", fileID, err))
		outcome.FilesFailed++
		return
	}

	outcome.FilesDeleted++
	outcome.SpaceFreedBytes += freed
	metrics.BytesFreed.Add(float64(freed))
}

// dereferenceMovie removes the manager's reference without deleting files
// there and without an import exclusion. Failure is an item error, not a run
// failure.
func (s *Service) dereferenceMovie(ctx context.Context, movieID int, outcome *ItemOutcome) {
	movie, err := s.movieStore.Get(ctx, movieID)
	if err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("movie %d: %v", movieID, err))
		return
	}
	if movie.ExternalID == nil || movie.ConnectionID == nil {
		return
	}

	connection, err := s.connectionStore.Get(ctx, *movie.ConnectionID)
	if err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("connection for movie %d: %v", movieID, err))
		return
	}
	apiKey, err := s.connectionStore.GetDecryptedAPIKey(connection)
	if err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("connection %s: %v", connection.Name, err))
		return
	}
	client := s.newManager(connection, apiKey)

	if monitored, err := client.IsMonitored(ctx, *movie.ExternalID); err == nil && monitored {
		outcome.Warnings = append(outcome.Warnings,
			fmt.Sprintf("%q is still monitored upstream and may be re-acquired", movie.Title))
	}

	if err := client.Dereference(ctx, *movie.ExternalID); err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("dereference %q: %v", movie.Title, err))
		return
	}

	if err := s.movieStore.ClearExternalID(ctx, movieID); err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("clear external id for movie %d: %v", movieID, err))
	}
}

// Cancel aborts a deletion still waiting to run.
func (s *Service) Cancel(ctx context.Context, deletionID int, actor *string) error {
	if err := s.deletionStore.Cancel(ctx, deletionID); err != nil {
		return err
	}
	if err := s.activityStore.Append(ctx, "deletion.cancelled", actor, map[string]any{
		"deletion_id": deletionID,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to write cancel audit entry")
	}
	return nil
}
