// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package replacement picks the best substitute for a file currently served
// to a media player and asks the watcher agent to hardlink-swap it.
package replacement

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sweeparr/sweeparr/internal/models"
	"github.com/sweeparr/sweeparr/pkg/pathcmp"
)

// HardlinkAgent performs the swap out of process; the watcher client
// satisfies this.
type HardlinkAgent interface {
	RequestReplacement(ctx context.Context, deletionID int, sourcePath, targetPath, volumeRoot string) (bool, error)
}

type Service struct {
	mediaFileStore *models.MediaFileStore
	volumeStore    *models.VolumeStore
	deletionStore  *models.DeletionStore
	agent          HardlinkAgent
}

func NewService(
	mediaFileStore *models.MediaFileStore,
	volumeStore *models.VolumeStore,
	deletionStore *models.DeletionStore,
	agent HardlinkAgent,
) *Service {
	return &Service{
		mediaFileStore: mediaFileStore,
		volumeStore:    volumeStore,
		deletionStore:  deletionStore,
		agent:          agent,
	}
}

// Suggestion is the ranked candidate set for one served file.
type Suggestion struct {
	Suggested    *models.MediaFile   `json:"suggested"`
	Alternatives []*models.MediaFile `json:"alternatives"`
}

func resolutionScore(resolution *string) int {
	if resolution == nil {
		return 0
	}
	switch strings.ToLower(*resolution) {
	case "2160p", "4k":
		return 4
	case "1080p":
		return 3
	case "720p":
		return 2
	case "480p":
		return 1
	default:
		return 0
	}
}

func qualityScore(quality *string) int {
	if quality == nil {
		return 0
	}
	switch strings.ToLower(*quality) {
	case "remux":
		return 5
	case "bluray", "blu-ray":
		return 4
	case "web-dl", "webdl":
		return 3
	case "webrip":
		return 2
	case "hdtv":
		return 1
	default:
		return 0
	}
}

// Rank orders candidates best first: resolution score descending, quality
// score descending, then size ascending (smallest of equal quality wins).
func Rank(candidates []*models.MediaFile) []*models.MediaFile {
	ranked := make([]*models.MediaFile, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := resolutionScore(ranked[i].Resolution), resolutionScore(ranked[j].Resolution)
		if ri != rj {
			return ri > rj
		}
		qi, qj := qualityScore(ranked[i].Quality), qualityScore(ranked[j].Quality)
		if qi != qj {
			return qi > qj
		}
		return ranked[i].SizeBytes < ranked[j].SizeBytes
	})
	return ranked
}

// Propose gathers the other files linked to the same catalogue entry,
// excluding the served file and any explicitly excluded ids, and ranks them.
func (s *Service) Propose(ctx context.Context, movieID, servedFileID int, excludeIDs []int) (*Suggestion, error) {
	excluded := map[int]struct{}{servedFileID: {}}
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}

	linked, err := s.mediaFileStore.ListByMovie(ctx, movieID)
	if err != nil {
		return nil, err
	}

	var candidates []*models.MediaFile
	for _, file := range linked {
		if _, skip := excluded[file.ID]; skip {
			continue
		}
		candidates = append(candidates, file)
	}
	if len(candidates) == 0 {
		return &Suggestion{}, nil
	}

	ranked := Rank(candidates)
	return &Suggestion{Suggested: ranked[0], Alternatives: ranked[1:]}, nil
}

// Execute asks the agent to swap the served file for the replacement. The
// target path reuses the served file's directory with the replacement's
// filename, rooted at the served file's volume host path. A declined request
// parks the owning deletion in waiting_watcher for an out-of-band retry.
func (s *Service) Execute(ctx context.Context, deletionID, servedFileID, replacementFileID int) (bool, error) {
	served, err := s.mediaFileStore.Get(ctx, servedFileID)
	if err != nil {
		return false, err
	}
	replacement, err := s.mediaFileStore.Get(ctx, replacementFileID)
	if err != nil {
		return false, err
	}

	servedVolume, err := s.volumeStore.Get(ctx, served.VolumeID)
	if err != nil {
		return false, err
	}
	replacementVolume, err := s.volumeStore.Get(ctx, replacement.VolumeID)
	if err != nil {
		return false, err
	}

	volumeRoot := pathcmp.NormalizePath(servedVolume.HostPath)
	servedPath := volumeRoot + "/" + served.FilePath
	sourcePath := pathcmp.NormalizePath(replacementVolume.HostPath) + "/" + replacement.FilePath
	targetPath := path.Join(path.Dir(servedPath), replacement.FileName)

	accepted, err := s.agent.RequestReplacement(ctx, deletionID, sourcePath, targetPath, volumeRoot)
	if err != nil || !accepted {
		if err != nil {
			log.Warn().Err(err).Int("deletionID", deletionID).Msg("replacement request failed")
		} else {
			log.Warn().Int("deletionID", deletionID).Msg("replacement request declined by watcher")
		}
		if setErr := s.deletionStore.SetStatus(ctx, deletionID, models.DeletionStatusWaitingWatcher); setErr != nil {
			return false, fmt.Errorf("failed to park deletion for watcher retry: %w", setErr)
		}
		return false, nil
	}

	log.Info().
		Int("deletionID", deletionID).
		Str("source", sourcePath).
		Str("target", targetPath).
		Msg("replacement requested")
	return true, nil
}
