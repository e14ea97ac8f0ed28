// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent wraps the go-qbittorrent client with the small surface
// the torrent reconciler needs.
package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"
)

// minTrackerFieldVersion is the WebAPI version that started including the
// tracker URL directly in torrent list responses. Older servers need a
// per-torrent tracker fetch.
var minTrackerFieldVersion = semver.MustParse("2.11.4")

type Client struct {
	*qbt.Client
	webAPIVersion        string
	supportsTrackerField bool
}

// NewClient connects and logs in to a qBittorrent instance. An unreachable
// instance is an error here; callers degrade to a zero-effect sync.
func NewClient(ctx context.Context, host, username, password string) (*Client, error) {
	qbtClient := qbt.NewClient(qbt.Config{
		Host:     host,
		Username: username,
		Password: password,
		Timeout:  30,
	})

	loginCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := qbtClient.LoginCtx(loginCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to qBittorrent: %w", err)
	}

	webAPIVersion, err := qbtClient.GetWebAPIVersionCtx(loginCtx)
	if err != nil {
		webAPIVersion = ""
	}

	supportsTrackerField := false
	if webAPIVersion != "" {
		if v, err := semver.NewVersion(webAPIVersion); err == nil {
			supportsTrackerField = !v.LessThan(minTrackerFieldVersion)
		}
	}

	client := &Client{
		Client:               qbtClient,
		webAPIVersion:        webAPIVersion,
		supportsTrackerField: supportsTrackerField,
	}

	log.Debug().
		Str("host", host).
		Str("webAPIVersion", webAPIVersion).
		Bool("supportsTrackerField", supportsTrackerField).
		Msg("qBittorrent client created successfully")

	return client, nil
}

func (c *Client) WebAPIVersion() string {
	return c.webAPIVersion
}

func (c *Client) SupportsTrackerField() bool {
	return c.supportsTrackerField
}

// ListTorrents returns every torrent the client knows about.
func (c *Client) ListTorrents(ctx context.Context) ([]qbt.Torrent, error) {
	torrents, err := c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list torrents: %w", err)
	}
	return torrents, nil
}

// ListFiles returns the file entries of one torrent.
func (c *Client) ListFiles(ctx context.Context, hash string) (qbt.TorrentFiles, error) {
	files, err := c.GetFilesInformationCtx(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to list torrent files: %w", err)
	}
	if files == nil {
		return nil, nil
	}
	return *files, nil
}

// TrackerURL resolves a torrent's primary tracker URL. On modern servers the
// list response already carries it; otherwise fall back to a tracker fetch.
func (c *Client) TrackerURL(ctx context.Context, torrent qbt.Torrent) (string, error) {
	if c.supportsTrackerField && torrent.Tracker != "" {
		return torrent.Tracker, nil
	}

	trackers, err := c.GetTorrentTrackersCtx(ctx, torrent.Hash)
	if err != nil {
		return "", fmt.Errorf("failed to fetch trackers for %s: %w", torrent.Hash, err)
	}
	for _, tracker := range trackers {
		u := strings.TrimSpace(tracker.Url)
		// Skip the synthetic DHT/PeX/LSD rows.
		if u == "" || !strings.Contains(u, "://") {
			continue
		}
		return u, nil
	}
	return "", nil
}
