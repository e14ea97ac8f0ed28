// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pathcmp provides shared path normalization helpers used for
// comparisons across systems. External managers and torrent clients report
// forward-slashed paths, so we normalize using path semantics (not filepath).
package pathcmp

import (
	"path"
	"strings"
)

// NormalizePath normalizes a file path for comparison by:
// - Converting backslashes to forward slashes
// - Cleaning the path (removing . and .. where possible)
// - Removing trailing slashes
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// HasPathPrefix reports whether p is inside root (or equal to it), comparing
// whole path segments so that "/data/movies2" is not treated as being under
// "/data/movies". Both arguments are normalized first.
func HasPathPrefix(p, root string) bool {
	p = NormalizePath(p)
	root = NormalizePath(root)
	if root == "" {
		return false
	}
	if p == root {
		return true
	}
	if root == "/" {
		return strings.HasPrefix(p, "/")
	}
	return strings.HasPrefix(p, root+"/")
}

// TrimPathPrefix strips root from p and returns the remainder without a
// leading slash. Returns ("", false) when p is not under root.
func TrimPathPrefix(p, root string) (string, bool) {
	if !HasPathPrefix(p, root) {
		return "", false
	}
	p = NormalizePath(p)
	root = NormalizePath(root)
	rest := strings.TrimPrefix(p, root)
	rest = strings.TrimPrefix(rest, "/")
	return rest, true
}
