// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sweeparr/sweeparr/internal/buildinfo"
	"github.com/sweeparr/sweeparr/internal/config"
)

// RunGenerateConfigCommand writes a default config file and exits.
func RunGenerateConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			if configPath == "" {
				configPath, _ = cmd.InheritedFlags().GetString("config")
			}
			if configPath == "" {
				configPath = "config.toml"
			}
			if fi, err := os.Stat(configPath); err == nil && fi.IsDir() {
				configPath = filepath.Join(configPath, "config.toml")
			}
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config file already exists at %s", configPath)
			}

			if _, err := config.New(configPath, buildinfo.Version); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
			return nil
		},
	}
}
