// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sweeparr/sweeparr/internal/api"
	"github.com/sweeparr/sweeparr/internal/buildinfo"
	"github.com/sweeparr/sweeparr/internal/metrics"
)

// RunServeCommand starts the long-running daemon: scheduled sync and match
// passes plus the operational HTTP server.
func RunServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sweeparr daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			log.Info().Str("version", buildinfo.Version).Msg("starting sweeparr")

			scheduler := cron.New(cron.WithChain(
				cron.SkipIfStillRunning(cron.DiscardLogger),
				cron.Recover(cron.DiscardLogger),
			))

			if _, err := scheduler.AddFunc(app.cfg.Config.SyncSchedule, func() {
				runSync(ctx, app)
			}); err != nil {
				return err
			}
			if _, err := scheduler.AddFunc(app.cfg.Config.MatchSchedule, func() {
				runMatch(ctx, app)
			}); err != nil {
				return err
			}

			if app.cfg.Config.MetricsEnabled {
				collector := metrics.NewLibraryCollector(app.torrentStatStore, app.mediaFileStore)
				if err := collector.Register(); err != nil {
					log.Warn().Err(err).Msg("failed to register library collector")
				}
			}

			server := api.NewServer(app.cfg.Config, app.settingsStore, app.activityStore)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.ListenAndServe(gctx)
			})
			g.Go(func() error {
				scheduler.Start()
				<-gctx.Done()
				stopCtx := scheduler.Stop()
				<-stopCtx.Done()
				return nil
			})

			// Populate volume state immediately rather than waiting for the
			// first scheduled sync.
			if _, err := app.volumeSync.Sync(ctx, app.cfg.Config.Volumes); err != nil {
				log.Error().Err(err).Msg("initial volume sync failed")
			}

			err = g.Wait()
			log.Info().Msg("sweeparr stopped")
			return err
		},
	}
}

func runSync(ctx context.Context, app *app) {
	if _, err := app.volumeSync.Sync(ctx, app.cfg.Config.Volumes); err != nil {
		log.Error().Err(err).Msg("volume sync failed")
	}
	result, err := app.reconciler.Sync(ctx)
	if err != nil {
		log.Error().Err(err).Msg("torrent sync failed")
		return
	}
	log.Info().
		Int("synced", result.TorrentsSynced).
		Int("unmatched", result.Unmatched).
		Int("stale_removed", result.StaleRemoved).
		Int("errors", result.Errors).
		Msg("torrent sync completed")
}

func runMatch(ctx context.Context, app *app) {
	result, err := app.matcher.MatchAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("catalogue match failed")
		return
	}
	log.Info().
		Int("external_linked", result.ExternalLinked).
		Int("filename_linked", result.FilenameLinked).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Msg("catalogue match completed")
}
