// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package volumesync

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestSyncUpsertsAndDeactivates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := models.NewVolumeStore(db)
	service := NewService(store)

	result, err := service.Sync(ctx, []domain.VolumeConfig{
		{Name: "media", Path: "/mnt/media", HostPath: "/data/media"},
		{Name: "archive", Path: "/mnt/archive"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Upserted)
	assert.Equal(t, int64(0), result.Deactivated)

	// HostPath falls back to Path when unset.
	archive, err := store.GetByName(ctx, "archive")
	require.NoError(t, err)
	assert.Equal(t, "/mnt/archive", archive.HostPath)

	// Dropping a volume from config deactivates it without deleting the row.
	result, err = service.Sync(ctx, []domain.VolumeConfig{
		{Name: "media", Path: "/mnt/media", HostPath: "/data/media"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Upserted)
	assert.Equal(t, int64(1), result.Deactivated)

	archive, err = store.GetByName(ctx, "archive")
	require.NoError(t, err)
	assert.Equal(t, models.VolumeStatusInactive, archive.Status)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "media", active[0].Name)
}

func TestSyncReactivatesReturningVolume(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := models.NewVolumeStore(db)
	service := NewService(store)

	_, err := service.Sync(ctx, []domain.VolumeConfig{{Name: "media", Path: "/mnt/media"}})
	require.NoError(t, err)
	_, err = service.Sync(ctx, nil)
	require.NoError(t, err)

	_, err = service.Sync(ctx, []domain.VolumeConfig{{Name: "media", Path: "/mnt/media2"}})
	require.NoError(t, err)

	media, err := store.GetByName(ctx, "media")
	require.NoError(t, err)
	assert.Equal(t, models.VolumeStatusActive, media.Status)
	assert.Equal(t, "/mnt/media2", media.Path)
}

func TestSyncSkipsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	service := NewService(models.NewVolumeStore(db))

	result, err := service.Sync(ctx, []domain.VolumeConfig{
		{Name: "", Path: "/mnt/media"},
		{Name: "media", Path: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Upserted)
}
