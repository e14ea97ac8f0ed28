// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sweeparr",
		Short: "Media library reconciliation and retirement",
		Long: `sweeparr tracks a media library spread across storage volumes,
reconciles on-disk files against catalogue records and torrent client
state, and safely retires files that are no longer needed.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "path to configuration file or directory")

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunSyncCommand())
	rootCmd.AddCommand(RunMatchCommand())
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunUpdateCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
