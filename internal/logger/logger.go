// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package logger configures the global zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sweeparr/sweeparr/internal/domain"
)

// Setup configures the global logger from config: console output (pretty when
// attached to a TTY), optional rotated file output, level from logLevel.
func Setup(cfg *domain.Config) {
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer

	if isatty.IsTerminal(os.Stderr.Fd()) {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, os.Stderr)
	}

	if cfg.LogPath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    maxOrDefault(cfg.LogMaxSize, 50),
			MaxBackups: maxOrDefault(cfg.LogMaxBackups, 3),
			Compress:   true,
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	SetLogLevel(cfg.LogLevel)
}

// SetLogLevel applies a level by name; unknown names fall back to info.
func SetLogLevel(level string) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "DEBUG":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "WARN":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "ERROR":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func maxOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
