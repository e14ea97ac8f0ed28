// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pathmap translates paths reported by external systems (media
// managers, torrent clients) into volume-relative paths local to sweeparr.
package pathmap

import (
	"context"
	"errors"
	"sort"

	"github.com/sweeparr/sweeparr/internal/models"
	"github.com/sweeparr/sweeparr/pkg/pathcmp"
)

// Mapping associates an external storage root with a local volume. Subpath
// is the remainder of the external root below the volume's host path, and is
// prepended to stripped paths during remapping.
type Mapping struct {
	ExternalRoot string
	Volume       *models.Volume
	Subpath      string
}

// FileLookup resolves a volume-relative path to a known media file.
// models.MediaFileStore satisfies this.
type FileLookup interface {
	GetByPath(ctx context.Context, volumeID int, filePath string) (*models.MediaFile, error)
}

// BuildMappings derives mappings by comparing each external root folder to
// each volume's host path with segment-aware prefix matching. Roots are
// sorted longest first so the most specific mapping wins during remapping.
func BuildMappings(rootFolders []string, volumes []*models.Volume) []Mapping {
	var mappings []Mapping

	for _, root := range rootFolders {
		root = pathcmp.NormalizePath(root)
		if root == "" {
			continue
		}
		for _, volume := range volumes {
			hostPath := pathcmp.NormalizePath(volume.HostPath)
			if hostPath == "" {
				continue
			}
			if sub, ok := pathcmp.TrimPathPrefix(root, hostPath); ok {
				// Root lives inside (or equals) the volume.
				mappings = append(mappings, Mapping{ExternalRoot: root, Volume: volume, Subpath: sub})
			} else if pathcmp.HasPathPrefix(hostPath, root) {
				// Volume lives inside the root; stripped paths already
				// include the volume segment, handled at remap time.
				mappings = append(mappings, Mapping{ExternalRoot: hostPath, Volume: volume, Subpath: ""})
			}
		}
	}

	sort.SliceStable(mappings, func(i, j int) bool {
		return len(mappings[i].ExternalRoot) > len(mappings[j].ExternalRoot)
	})
	return mappings
}

// Remap translates an external absolute path into a known media file. For
// each mapping whose root prefixes the path, the root is stripped, the
// mapping's subpath prepended, and the result looked up among the volume's
// known files. The first hit wins. No hit is not an error; the caller treats
// the file as unmatched.
func Remap(ctx context.Context, externalPath string, mappings []Mapping, lookup FileLookup) (*models.Volume, *models.MediaFile, error) {
	externalPath = pathcmp.NormalizePath(externalPath)
	if externalPath == "" {
		return nil, nil, nil
	}

	for i := range mappings {
		m := &mappings[i]
		rel, ok := pathcmp.TrimPathPrefix(externalPath, m.ExternalRoot)
		if !ok || rel == "" {
			continue
		}
		if m.Subpath != "" {
			rel = m.Subpath + "/" + rel
		}

		file, err := lookup.GetByPath(ctx, m.Volume.ID, rel)
		if err != nil {
			if errors.Is(err, models.ErrMediaFileNotFound) {
				continue
			}
			return nil, nil, err
		}
		return m.Volume, file, nil
	}
	return nil, nil, nil
}
