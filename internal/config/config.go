// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the TOML configuration with environment overrides.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/sweeparr/sweeparr/internal/domain"
	"github.com/sweeparr/sweeparr/internal/logger"
)

const envPrefix = "SWEEPARR__"

// AppConfig owns the loaded configuration and the viper instance watching it.
type AppConfig struct {
	Config *domain.Config
	viper  *viper.Viper
}

// New loads configuration from configPath (a file or a directory holding
// config.toml), writing a default file on first run.
func New(configPath, version string) (*AppConfig, error) {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults(version)

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	if err := c.Config.Validate(); err != nil {
		return nil, err
	}

	c.watch()

	return c, nil
}

func (c *AppConfig) defaults(version string) {
	c.Config = &domain.Config{
		Version:           version,
		Host:              "127.0.0.1",
		Port:              7272,
		LogLevel:          "INFO",
		LogMaxSize:        50,
		LogMaxBackups:     3,
		SyncSchedule:      "*/15 * * * *",
		MatchSchedule:     "5 * * * *",
		StaleAfterMinutes: 90,
		MatchBatchSize:    50,
		MetricsEnabled:    true,
	}
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetConfigType("toml")

	if configPath != "" {
		if fi, err := os.Stat(configPath); err == nil && fi.IsDir() {
			configPath = filepath.Join(configPath, "config.toml")
		}
		c.viper.SetConfigFile(configPath)

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := c.writeDefault(configPath); err != nil {
				return err
			}
		}
	} else {
		c.viper.SetConfigName("config")
		c.viper.AddConfigPath(".")
		c.viper.AddConfigPath("$HOME/.config/sweeparr")
	}

	c.bindEnv()

	if err := c.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config read: %w", err)
		}
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("config unmarshal: %w", err)
	}

	if c.Config.DataDir == "" {
		if c.viper.ConfigFileUsed() != "" {
			c.Config.DataDir = filepath.Dir(c.viper.ConfigFileUsed())
		} else {
			c.Config.DataDir = "."
		}
	}

	if c.Config.SessionSecret == "" {
		c.Config.SessionSecret = generateSecret()
	}

	return nil
}

// bindEnv maps SWEEPARR__SNAKE_CASE variables onto config keys, matching the
// key set a config file can carry.
func (c *AppConfig) bindEnv() {
	keys := map[string]string{
		"host":                    "HOST",
		"port":                    "PORT",
		"sessionSecret":           "SESSION_SECRET",
		"logLevel":                "LOG_LEVEL",
		"logPath":                 "LOG_PATH",
		"dataDir":                 "DATA_DIR",
		"syncSchedule":            "SYNC_SCHEDULE",
		"matchSchedule":           "MATCH_SCHEDULE",
		"staleAfterMinutes":       "STALE_AFTER_MINUTES",
		"matchBatchSize":          "MATCH_BATCH_SIZE",
		"metricsEnabled":          "METRICS_ENABLED",
		"qbittorrent.host":        "QBITTORRENT_HOST",
		"qbittorrent.username":    "QBITTORRENT_USERNAME",
		"qbittorrent.password":    "QBITTORRENT_PASSWORD",
		"watcher.baseUrl":         "WATCHER_BASE_URL",
		"watcher.apiKey":          "WATCHER_API_KEY",
		"notification.webhookUrl": "NOTIFICATION_WEBHOOK_URL",
	}

	for key, env := range keys {
		if value, ok := os.LookupEnv(envPrefix + env); ok {
			c.viper.Set(key, value)
		}
	}
}

// watch reloads mutable settings on config file change. Only logLevel is
// applied live; everything else requires a restart.
func (c *AppConfig) watch() {
	if c.viper.ConfigFileUsed() == "" {
		return
	}

	c.viper.OnConfigChange(func(e fsnotify.Event) {
		prev := c.Config.LogLevel
		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("failed to reload config")
			return
		}
		if c.Config.LogLevel != prev {
			logger.SetLogLevel(c.Config.LogLevel)
			log.Info().Str("level", c.Config.LogLevel).Msg("log level changed")
		}
	})
	c.viper.WatchConfig()
}

func (c *AppConfig) writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config dir: %w", err)
	}

	content := fmt.Sprintf(`# sweeparr configuration
host = "127.0.0.1"
port = 7272

# TRACE, DEBUG, INFO, WARN, ERROR
logLevel = "INFO"
#logPath = "sweeparr.log"

sessionSecret = "%s"

# cron specs (minute hour dom month dow)
syncSchedule = "*/15 * * * *"
matchSchedule = "5 * * * *"

staleAfterMinutes = 90
matchBatchSize = 50
metricsEnabled = true

[qbittorrent]
host = "http://localhost:8080"
username = "admin"
password = ""

[watcher]
baseUrl = ""
apiKey = ""

[notification]
webhookUrl = ""

#[[volumes]]
#name = "media"
#path = "/mnt/media"
#hostPath = "/data/media"
`, generateSecret())

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}

	log.Info().Str("path", path).Msg("wrote default config file")
	return nil
}

// DatabasePath returns the SQLite file location inside the data directory.
func (c *AppConfig) DatabasePath() string {
	return filepath.Join(c.Config.DataDir, "sweeparr.db")
}

// EncryptionKey derives the 32-byte key used for stored credentials from the
// session secret.
func (c *AppConfig) EncryptionKey() []byte {
	secret := c.Config.SessionSecret
	key := make([]byte, 32)
	copy(key, secret)
	return key
}

func generateSecret() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unrecoverable
		panic(err)
	}
	return hex.EncodeToString(b)
}
