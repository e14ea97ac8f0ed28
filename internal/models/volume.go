// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sweeparr/sweeparr/internal/dbinterface"
)

var ErrVolumeNotFound = errors.New("volume not found")

// VolumeStatus is the lifecycle state of a storage volume.
type VolumeStatus string

const (
	VolumeStatusActive   VolumeStatus = "active"
	VolumeStatusInactive VolumeStatus = "inactive"
	VolumeStatusError    VolumeStatus = "error"
)

// Volume is a storage root. Path is where this process sees it, HostPath is
// where external managers and the watcher see it.
type Volume struct {
	ID        int          `json:"id"`
	Name      string       `json:"name"`
	Path      string       `json:"path"`
	HostPath  string       `json:"hostPath"`
	Status    VolumeStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type VolumeStore struct {
	db dbinterface.Querier
}

func NewVolumeStore(db dbinterface.Querier) *VolumeStore {
	return &VolumeStore{db: db}
}

const volumeColumns = `id, name, path, host_path, status, created_at, updated_at`

func scanVolume(row interface{ Scan(...any) error }) (*Volume, error) {
	var v Volume
	if err := row.Scan(&v.ID, &v.Name, &v.Path, &v.HostPath, &v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *VolumeStore) Get(ctx context.Context, id int) (*Volume, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+volumeColumns+` FROM volumes WHERE id = ?`, id)
	v, err := scanVolume(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVolumeNotFound
		}
		return nil, fmt.Errorf("failed to get volume: %w", err)
	}
	return v, nil
}

func (s *VolumeStore) GetByName(ctx context.Context, name string) (*Volume, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+volumeColumns+` FROM volumes WHERE name = ?`, name)
	v, err := scanVolume(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVolumeNotFound
		}
		return nil, fmt.Errorf("failed to get volume by name: %w", err)
	}
	return v, nil
}

// Upsert creates the volume or refreshes its paths, re-activating it if it
// had been deactivated.
func (s *VolumeStore) Upsert(ctx context.Context, name, path, hostPath string) (*Volume, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO volumes (name, path, host_path, status)
		VALUES (?, ?, ?, 'active')
		ON CONFLICT(name) DO UPDATE SET
			path = excluded.path,
			host_path = excluded.host_path,
			status = 'active',
			updated_at = CURRENT_TIMESTAMP
	`, name, path, hostPath)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert volume: %w", err)
	}
	return s.GetByName(ctx, name)
}

func (s *VolumeStore) List(ctx context.Context) ([]*Volume, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+volumeColumns+` FROM volumes ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}
	defer rows.Close()

	var volumes []*Volume
	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan volume: %w", err)
		}
		volumes = append(volumes, v)
	}
	return volumes, rows.Err()
}

func (s *VolumeStore) ListActive(ctx context.Context) ([]*Volume, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+volumeColumns+` FROM volumes WHERE status = 'active' ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active volumes: %w", err)
	}
	defer rows.Close()

	var volumes []*Volume
	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan volume: %w", err)
		}
		volumes = append(volumes, v)
	}
	return volumes, rows.Err()
}

// DeactivateMissing marks volumes whose names are absent from keep as
// inactive and returns how many rows changed.
func (s *VolumeStore) DeactivateMissing(ctx context.Context, keep []string) (int64, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		keepSet[name] = struct{}{}
	}

	volumes, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	var changed int64
	for _, v := range volumes {
		if _, ok := keepSet[v.Name]; ok || v.Status == VolumeStatusInactive {
			continue
		}
		res, err := s.db.ExecContext(ctx,
			`UPDATE volumes SET status = 'inactive', updated_at = CURRENT_TIMESTAMP WHERE id = ?`, v.ID)
		if err != nil {
			return changed, fmt.Errorf("failed to deactivate volume %s: %w", v.Name, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			changed += n
		}
	}
	return changed, nil
}
