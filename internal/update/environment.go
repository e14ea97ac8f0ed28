// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package update

import (
	"errors"
	"os"
	"runtime"
	"strings"
)

// ErrSelfUpdateUnsupported is returned when the current environment does not
// support self-updates.
var ErrSelfUpdateUnsupported = errors.New("self-update is not supported in this environment")

// CheckEnvironment rejects self-update where replacing the binary in place
// cannot work: container images, which are replaced by pulling a new tag, and
// Windows, where a running binary cannot overwrite itself.
func CheckEnvironment() error {
	if isRunningInContainer() || !isSelfUpdateSupportedPlatform() {
		return ErrSelfUpdateUnsupported
	}
	return nil
}

// isRunningInContainer checks common container markers: /.dockerenv,
// /run/.containerenv and well-known cgroup identifiers.
func isRunningInContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/run/.containerenv"); err == nil {
		return true
	}

	data, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}

	content := string(data)
	containerIndicators := []string{"docker", "kubepods", "containerd", "libpod"}
	for _, indicator := range containerIndicators {
		if strings.Contains(content, indicator) {
			return true
		}
	}

	return false
}

func isSelfUpdateSupportedPlatform() bool {
	return runtime.GOOS != "windows"
}
