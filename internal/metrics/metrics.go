// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes Prometheus counters for the periodic jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LinksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeparr_catalogue_links_created_total",
		Help: "Catalogue links created, by match strategy.",
	}, []string{"matched_by"})

	TorrentsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeparr_torrents_synced_total",
		Help: "Torrents processed by the reconciler.",
	})

	TorrentsUnmatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeparr_torrents_unmatched_total",
		Help: "Torrents that could not be matched to a media file.",
	})

	TrackerRulesAutoCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeparr_tracker_rules_auto_created_total",
		Help: "Tracker rules auto-detected from newly observed domains.",
	})

	StaleTorrentsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeparr_stale_torrents_removed_total",
		Help: "Torrent stats flipped to removed by stale detection.",
	})

	SyncErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeparr_sync_errors_total",
		Help: "Per-torrent errors during reconciliation.",
	})

	DeletionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeparr_deletion_runs_total",
		Help: "Deletion runs by terminal status.",
	}, []string{"status"})

	BytesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeparr_bytes_freed_total",
		Help: "Bytes freed by confirmed physical deletions.",
	})
)
