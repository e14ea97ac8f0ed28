// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package volumesync keeps the volume table aligned with the configured
// storage volumes. Volumes no longer configured are deactivated, never
// deleted, so their media file rows survive a configuration mistake.
package volumesync

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sweeparr/sweeparr/internal/domain"
	"github.com/sweeparr/sweeparr/internal/models"
)

type Service struct {
	volumeStore *models.VolumeStore
}

func NewService(volumeStore *models.VolumeStore) *Service {
	return &Service{volumeStore: volumeStore}
}

// Result summarizes one sync pass.
type Result struct {
	Upserted    int   `json:"upserted"`
	Deactivated int64 `json:"deactivated"`
}

// Sync upserts every configured volume and deactivates the rest.
func (s *Service) Sync(ctx context.Context, configured []domain.VolumeConfig) (*Result, error) {
	result := &Result{}

	names := make([]string, 0, len(configured))
	for _, vc := range configured {
		if vc.Name == "" || vc.Path == "" {
			log.Warn().Str("name", vc.Name).Str("path", vc.Path).Msg("skipping volume with empty name or path")
			continue
		}
		hostPath := vc.HostPath
		if hostPath == "" {
			hostPath = vc.Path
		}

		if _, err := s.volumeStore.Upsert(ctx, vc.Name, vc.Path, hostPath); err != nil {
			return result, err
		}
		names = append(names, vc.Name)
		result.Upserted++
	}

	deactivated, err := s.volumeStore.DeactivateMissing(ctx, names)
	if err != nil {
		return result, err
	}
	result.Deactivated = deactivated

	if result.Upserted > 0 || result.Deactivated > 0 {
		log.Info().
			Int("upserted", result.Upserted).
			Int64("deactivated", result.Deactivated).
			Msg("volume sync completed")
	}
	return result, nil
}
