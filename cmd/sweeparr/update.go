// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/sweeparr/sweeparr/internal/buildinfo"
	"github.com/sweeparr/sweeparr/internal/update"
)

// RunUpdateCommand replaces the running binary with the latest release.
func RunUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update sweeparr to the latest release",
		RunE: func(cmd *cobra.Command, _ []string) error {
			updater := update.NewUpdater(update.Config{
				Repository: "sweeparr/sweeparr",
				Version:    buildinfo.Version,
			})
			_, err := updater.Run(cmd.Context())
			return err
		},
	}
}
