// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package buildinfo exposes build-time version metadata.
package buildinfo

import (
	"encoding/json"
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// UserAgent is sent on outbound HTTP requests to external managers and agents.
var UserAgent = "sweeparr/" + Version

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

func String() string {
	i := Get()
	return fmt.Sprintf("Version: %s\nCommit: %s\nBuild date: %s\nGo: %s (%s/%s)",
		i.Version, i.Commit, i.BuildDate, i.GoVersion, i.OS, i.Arch)
}

func JSON() ([]byte, error) {
	return json.Marshal(Get())
}
