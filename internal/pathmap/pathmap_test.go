// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pathmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeparr/sweeparr/internal/models"
	"github.com/sweeparr/sweeparr/pkg/pathcmp"
)

type fakeLookup struct {
	// keyed by volumeID then relative path
	files map[int]map[string]*models.MediaFile
}

func (f *fakeLookup) GetByPath(_ context.Context, volumeID int, filePath string) (*models.MediaFile, error) {
	if file, ok := f.files[volumeID][filePath]; ok {
		return file, nil
	}
	return nil, models.ErrMediaFileNotFound
}

func TestBuildMappings(t *testing.T) {
	volumes := []*models.Volume{
		{ID: 1, Name: "movies", HostPath: "/mnt/storage/movies"},
		{ID: 2, Name: "tv", HostPath: "/mnt/storage/tv"},
	}

	t.Run("root inside volume", func(t *testing.T) {
		mappings := BuildMappings([]string{"/mnt/storage/movies/4k"}, volumes)
		require.Len(t, mappings, 1)
		assert.Equal(t, "/mnt/storage/movies/4k", mappings[0].ExternalRoot)
		assert.Equal(t, 1, mappings[0].Volume.ID)
		assert.Equal(t, "4k", mappings[0].Subpath)
	})

	t.Run("root equals volume", func(t *testing.T) {
		mappings := BuildMappings([]string{"/mnt/storage/movies"}, volumes)
		require.Len(t, mappings, 1)
		assert.Equal(t, 1, mappings[0].Volume.ID)
		assert.Empty(t, mappings[0].Subpath)
	})

	t.Run("volumes inside shared root", func(t *testing.T) {
		mappings := BuildMappings([]string{"/mnt/storage"}, volumes)
		require.Len(t, mappings, 2)
		// Mapped at each volume's own host path, not the shared root.
		assert.Equal(t, "/mnt/storage/movies", mappings[0].ExternalRoot)
		assert.Equal(t, "/mnt/storage/tv", mappings[1].ExternalRoot)
	})

	t.Run("sibling prefix does not match", func(t *testing.T) {
		mappings := BuildMappings([]string{"/mnt/storage/movies2"}, volumes)
		assert.Empty(t, mappings)
	})

	t.Run("trailing slashes normalized", func(t *testing.T) {
		mappings := BuildMappings([]string{"/mnt/storage/movies/"}, volumes)
		require.Len(t, mappings, 1)
		assert.Equal(t, "/mnt/storage/movies", mappings[0].ExternalRoot)
	})
}

func TestRemap(t *testing.T) {
	ctx := context.Background()
	volume := &models.Volume{ID: 1, Name: "movies", Path: "/data/movies", HostPath: "/mnt/storage/movies"}
	mappings := BuildMappings([]string{"/mnt/storage/movies"}, []*models.Volume{volume})

	known := &models.MediaFile{ID: 10, VolumeID: 1, FilePath: "Inception (2010)/Inception.2010.1080p.mkv"}
	lookup := &fakeLookup{files: map[int]map[string]*models.MediaFile{
		1: {known.FilePath: known},
	}}

	t.Run("known file resolves", func(t *testing.T) {
		v, file, err := Remap(ctx, "/mnt/storage/movies/Inception (2010)/Inception.2010.1080p.mkv", mappings, lookup)
		require.NoError(t, err)
		require.NotNil(t, file)
		assert.Equal(t, 10, file.ID)
		assert.Equal(t, 1, v.ID)
	})

	t.Run("unknown file is not an error", func(t *testing.T) {
		v, file, err := Remap(ctx, "/mnt/storage/movies/Unknown (1999)/file.mkv", mappings, lookup)
		require.NoError(t, err)
		assert.Nil(t, v)
		assert.Nil(t, file)
	})

	t.Run("path outside all roots", func(t *testing.T) {
		v, file, err := Remap(ctx, "/downloads/Inception.2010.1080p.mkv", mappings, lookup)
		require.NoError(t, err)
		assert.Nil(t, v)
		assert.Nil(t, file)
	})

	t.Run("subpath mapping prepends remainder", func(t *testing.T) {
		subMappings := BuildMappings([]string{"/mnt/storage/movies/4k"}, []*models.Volume{volume})
		fourK := &models.MediaFile{ID: 11, VolumeID: 1, FilePath: "4k/Dune (2021)/Dune.2021.2160p.mkv"}
		subLookup := &fakeLookup{files: map[int]map[string]*models.MediaFile{
			1: {fourK.FilePath: fourK},
		}}

		_, file, err := Remap(ctx, "/mnt/storage/movies/4k/Dune (2021)/Dune.2021.2160p.mkv", subMappings, subLookup)
		require.NoError(t, err)
		require.NotNil(t, file)
		assert.Equal(t, 11, file.ID)
	})
}

// Round-trip: a resolved (volume, relPath) rejoined on the volume host path
// must reproduce a normalized match of the original external path.
func TestRemapRoundTrip(t *testing.T) {
	ctx := context.Background()
	volume := &models.Volume{ID: 1, Name: "movies", HostPath: "/mnt/storage/movies/"}
	mappings := BuildMappings([]string{"/mnt/storage/movies"}, []*models.Volume{volume})

	rel := "Foo (2020)/Foo.2020.mkv"
	lookup := &fakeLookup{files: map[int]map[string]*models.MediaFile{
		1: {rel: {ID: 1, VolumeID: 1, FilePath: rel}},
	}}

	external := "/mnt/storage/movies/Foo (2020)/Foo.2020.mkv"
	v, file, err := Remap(ctx, external, mappings, lookup)
	require.NoError(t, err)
	require.NotNil(t, file)

	rejoined := pathcmp.NormalizePath(v.HostPath) + "/" + file.FilePath
	assert.Equal(t, pathcmp.NormalizePath(external), rejoined)
}
