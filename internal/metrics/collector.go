// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sweeparr/sweeparr/internal/models"
)

// LibraryCollector exposes gauges computed from the database on scrape:
// torrent counts by status and media file link coverage.
type LibraryCollector struct {
	torrentStatStore *models.TorrentStatStore
	mediaFileStore   *models.MediaFileStore

	torrentsByStatusDesc *prometheus.Desc
	mediaFilesDesc       *prometheus.Desc
}

func NewLibraryCollector(torrentStatStore *models.TorrentStatStore, mediaFileStore *models.MediaFileStore) *LibraryCollector {
	return &LibraryCollector{
		torrentStatStore: torrentStatStore,
		mediaFileStore:   mediaFileStore,

		torrentsByStatusDesc: prometheus.NewDesc(
			"sweeparr_torrents",
			"Number of tracked torrents by status",
			[]string{"status"},
			nil,
		),
		mediaFilesDesc: prometheus.NewDesc(
			"sweeparr_media_files",
			"Number of media files by catalogue link state",
			[]string{"link_state"},
			nil,
		),
	}
}

func (c *LibraryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.torrentsByStatusDesc
	ch <- c.mediaFilesDesc
}

func (c *LibraryCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	counts, err := c.torrentStatStore.CountByStatus(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to count torrents for metrics")
	} else {
		for status, count := range counts {
			ch <- prometheus.MustNewConstMetric(
				c.torrentsByStatusDesc,
				prometheus.GaugeValue,
				float64(count),
				string(status),
			)
		}
	}

	linked, unlinked, err := c.mediaFileStore.CountLinkStates(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to count media files for metrics")
		return
	}
	ch <- prometheus.MustNewConstMetric(c.mediaFilesDesc, prometheus.GaugeValue, float64(linked), "linked")
	ch <- prometheus.MustNewConstMetric(c.mediaFilesDesc, prometheus.GaugeValue, float64(unlinked), "unlinked")
}

// Register attaches the collector to the default registry serving /metrics.
func (c *LibraryCollector) Register() error {
	return prometheus.Register(c)
}
