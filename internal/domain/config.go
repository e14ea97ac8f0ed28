// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	SessionSecret string `toml:"sessionSecret" mapstructure:"sessionSecret"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	// SyncSchedule and MatchSchedule are standard 5-field cron specs driving
	// the torrent reconciler and the bulk catalogue matcher in serve mode.
	SyncSchedule  string `toml:"syncSchedule" mapstructure:"syncSchedule"`
	MatchSchedule string `toml:"matchSchedule" mapstructure:"matchSchedule"`

	// StaleAfterMinutes controls when a torrent that stopped appearing in the
	// client is marked removed. Defaults to 90.
	StaleAfterMinutes int `toml:"staleAfterMinutes" mapstructure:"staleAfterMinutes"`

	// MatchBatchSize bounds how many files the bulk matcher processes between
	// commits. Defaults to 50.
	MatchBatchSize int `toml:"matchBatchSize" mapstructure:"matchBatchSize"`

	MetricsEnabled bool `toml:"metricsEnabled" mapstructure:"metricsEnabled"`

	Qbittorrent  QbittorrentConfig  `toml:"qbittorrent" mapstructure:"qbittorrent"`
	Watcher      WatcherConfig      `toml:"watcher" mapstructure:"watcher"`
	Notification NotificationConfig `toml:"notification" mapstructure:"notification"`
	Volumes      []VolumeConfig     `toml:"volumes" mapstructure:"volumes"`
}

// QbittorrentConfig is the torrent client connection.
type QbittorrentConfig struct {
	Host     string `toml:"host" mapstructure:"host"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`
}

// WatcherConfig points at the remote watcher agent that performs filesystem
// deletion and hardlink replacement on the storage host.
type WatcherConfig struct {
	BaseURL        string `toml:"baseUrl" mapstructure:"baseUrl"`
	APIKey         string `toml:"apiKey" mapstructure:"apiKey"`
	TimeoutSeconds int    `toml:"timeoutSeconds" mapstructure:"timeoutSeconds"`
}

// NotificationConfig is the deletion-run webhook sink.
type NotificationConfig struct {
	WebhookURL string `toml:"webhookUrl" mapstructure:"webhookUrl"`
}

// VolumeConfig declares a storage volume. Path is where this process sees the
// volume; HostPath is where external managers and the watcher see it.
type VolumeConfig struct {
	Name     string `toml:"name" mapstructure:"name"`
	Path     string `toml:"path" mapstructure:"path"`
	HostPath string `toml:"hostPath" mapstructure:"hostPath"`
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("dataDir cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	for _, v := range c.Volumes {
		if strings.TrimSpace(v.Name) == "" || strings.TrimSpace(v.Path) == "" {
			return errors.New("every volume needs a name and a path")
		}
	}
	return nil
}

// StaleAfter returns the staleness window for torrent removal detection.
func (c *Config) StaleAfter() time.Duration {
	minutes := c.StaleAfterMinutes
	if minutes <= 0 {
		minutes = 90
	}
	return time.Duration(minutes) * time.Minute
}
