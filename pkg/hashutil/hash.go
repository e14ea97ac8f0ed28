// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hashutil normalizes torrent info hashes consistently across the
// codebase.
package hashutil

import "strings"

// Normalize canonicalizes a torrent hash by trimming whitespace and
// converting to lowercase. Returns an empty string if the input is blank.
func Normalize(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// NormalizeAll normalizes a slice of hashes, removing empty entries and
// duplicates while preserving order of first occurrence.
func NormalizeAll(hashes []string) []string {
	if len(hashes) == 0 {
		return nil
	}

	result := make([]string, 0, len(hashes))
	seen := make(map[string]struct{}, len(hashes))

	for _, hash := range hashes {
		normalized := Normalize(hash)
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}

	return result
}
