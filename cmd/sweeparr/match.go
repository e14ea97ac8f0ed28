// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// RunMatchCommand performs a single catalogue matching pass and exits.
// With --file it matches just that one media file.
func RunMatchCommand() *cobra.Command {
	var fileID int

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Run one catalogue matching pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if fileID > 0 {
				result, err := app.matcher.MatchSingleFile(cmd.Context(), fileID)
				if err != nil {
					return err
				}
				log.Info().
					Int("external_linked", result.ExternalLinked).
					Int("filename_linked", result.FilenameLinked).
					Int("skipped", result.Skipped).
					Msg("single file match completed")
				return nil
			}

			runMatch(cmd.Context(), app)
			return nil
		},
	}

	cmd.Flags().IntVar(&fileID, "file", 0, "match a single media file by id")
	return cmd
}
