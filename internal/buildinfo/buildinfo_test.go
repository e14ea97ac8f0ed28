// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	t.Parallel()

	s := String()

	assert.Contains(t, s, "Version:")
	assert.Contains(t, s, "Commit:")
	assert.Contains(t, s, "Build date:")
	assert.Contains(t, s, runtime.Version())

	lines := strings.Split(strings.TrimSpace(s), "\n")
	assert.Len(t, lines, 4)
}

func TestJSON(t *testing.T) {
	t.Parallel()

	data, err := JSON()
	require.NoError(t, err)

	var info Info
	require.NoError(t, json.Unmarshal(data, &info))

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, Commit, info.Commit)
	assert.Equal(t, Date, info.BuildDate)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
}

func TestUserAgent(t *testing.T) {
	t.Parallel()

	assert.NotEmpty(t, UserAgent)
	assert.Contains(t, UserAgent, "sweeparr/")
}
