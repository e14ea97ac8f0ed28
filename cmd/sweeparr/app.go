// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sweeparr/sweeparr/internal/arr"
	"github.com/sweeparr/sweeparr/internal/buildinfo"
	"github.com/sweeparr/sweeparr/internal/config"
	"github.com/sweeparr/sweeparr/internal/database"
	"github.com/sweeparr/sweeparr/internal/logger"
	"github.com/sweeparr/sweeparr/internal/models"
	"github.com/sweeparr/sweeparr/internal/notifications"
	"github.com/sweeparr/sweeparr/internal/services/deletion"
	"github.com/sweeparr/sweeparr/internal/services/matcher"
	"github.com/sweeparr/sweeparr/internal/services/reconciler"
	"github.com/sweeparr/sweeparr/internal/services/replacement"
	"github.com/sweeparr/sweeparr/internal/services/volumesync"
	"github.com/sweeparr/sweeparr/internal/watcher"
)

// app wires configuration, database, stores and services for one command
// invocation.
type app struct {
	cfg *config.AppConfig
	db  *database.DB

	volumeStore      *models.VolumeStore
	mediaFileStore   *models.MediaFileStore
	movieStore       *models.MovieStore
	movieFileStore   *models.MovieFileStore
	torrentStatStore *models.TorrentStatStore
	trackerRuleStore *models.TrackerRuleStore
	deletionStore    *models.DeletionStore
	activityStore    *models.ActivityLogStore
	settingsStore    *models.SettingsStore
	connectionStore  *models.ArrConnectionStore

	volumeSync *volumesync.Service
	matcher    *matcher.Service
	reconciler *reconciler.Service
	deletion   *deletion.Service
	replacer   *replacement.Service
	notifier   *notifications.WebhookNotifier
}

func newApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath, _ = cmd.InheritedFlags().GetString("config")
	}

	cfg, err := config.New(configPath, buildinfo.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Setup(cfg.Config)

	db, err := database.New(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{cfg: cfg, db: db}

	a.volumeStore = models.NewVolumeStore(db)
	a.mediaFileStore = models.NewMediaFileStore(db)
	a.movieStore = models.NewMovieStore(db)
	a.movieFileStore = models.NewMovieFileStore(db)
	a.torrentStatStore = models.NewTorrentStatStore(db)
	a.trackerRuleStore = models.NewTrackerRuleStore(db)
	a.deletionStore = models.NewDeletionStore(db)
	a.activityStore = models.NewActivityLogStore(db)
	a.settingsStore = models.NewSettingsStore(db)

	a.connectionStore, err = models.NewArrConnectionStore(db, cfg.EncryptionKey())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create connection store: %w", err)
	}

	a.notifier = notifications.NewWebhookNotifier(cfg.Config.Notification.WebhookURL)
	watcherClient := watcher.NewClient(cfg.Config.Watcher.BaseURL, cfg.Config.Watcher.APIKey, cfg.Config.Watcher.TimeoutSeconds)

	a.volumeSync = volumesync.NewService(a.volumeStore)
	a.matcher = matcher.NewService(db, a.connectionStore, a.volumeStore, a.mediaFileStore,
		a.movieStore, a.movieFileStore, a.settingsStore, cfg.Config.MatchBatchSize)
	a.reconciler = reconciler.NewService(cfg.Config, a.connectionStore, a.volumeStore,
		a.mediaFileStore, a.movieStore, a.movieFileStore, a.torrentStatStore,
		a.trackerRuleStore, a.settingsStore)
	a.deletion = deletion.NewService(a.deletionStore, a.mediaFileStore, a.movieStore,
		a.volumeStore, a.connectionStore, a.activityStore, watcherClient,
		func(connection *models.ArrConnection, apiKey string) deletion.ManagerDereferencer {
			return arr.NewClient(connection.BaseURL, apiKey, connection.TimeoutSeconds)
		}, a.notifier)
	a.replacer = replacement.NewService(a.mediaFileStore, a.volumeStore, a.deletionStore, watcherClient)

	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
