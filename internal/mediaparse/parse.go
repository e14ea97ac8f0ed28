// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package mediaparse extracts release metadata from media filenames using
// ordered token matching. Parsing is deterministic and stateless.
package mediaparse

import (
	"regexp"
	"strconv"
	"strings"
)

// Result holds whatever could be extracted from a filename. A nil Title
// means the name was unparseable for title-based matching; other fields may
// still be usable.
type Result struct {
	Title      *string
	Year       *int
	Resolution *string
	Quality    *string
	Codec      *string
}

// yearPattern matches a standalone 4-digit year between 1900 and 2099.
var yearPattern = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)

// Ordered vocabularies; the first case-insensitive substring hit wins per
// category. Order matters: "web-dl" must be checked before "webrip" would
// match a shared fragment, and 2160p before plain "4k" synonyms.
var (
	resolutions = []string{"2160p", "4k", "1080p", "720p", "480p"}
	qualities   = []string{"remux", "bluray", "blu-ray", "web-dl", "webdl", "webrip", "hdtv", "dvdrip"}
	codecs      = []string{"x265", "h265", "hevc", "x264", "h264", "avc", "av1", "xvid"}
)

// canonical folds vocabulary aliases into the stored spelling.
var canonical = map[string]string{
	"blu-ray": "bluray",
	"webdl":   "web-dl",
	"h265":    "x265",
	"hevc":    "x265",
	"h264":    "x264",
	"avc":     "x264",
}

// Parse extracts {title, year, resolution, quality, codec} from a filename.
// The title is everything before the year with dot and underscore separators
// replaced by spaces; without a year no title is derived.
func Parse(filename string) Result {
	var result Result

	name := strings.TrimSuffix(filename, extension(filename))
	lower := strings.ToLower(name)

	if match := yearPattern.FindStringIndex(name); match != nil {
		year, err := strconv.Atoi(name[match[0]:match[1]])
		if err == nil {
			result.Year = &year
			if title := cleanTitle(name[:match[0]]); title != "" {
				result.Title = &title
			}
		}
	}

	if hit := firstHit(lower, resolutions); hit != "" {
		result.Resolution = &hit
	}
	if hit := firstHit(lower, qualities); hit != "" {
		result.Quality = &hit
	}
	if hit := firstHit(lower, codecs); hit != "" {
		result.Codec = &hit
	}

	return result
}

// Confidence scores a filename-parse match from its populated fields. Base
// 0.5, plus 0.2 for a year, 0.1 for resolution, 0.05 each for quality and
// codec, capped at 0.9.
func Confidence(r Result) float64 {
	score := 0.5
	if r.Year != nil {
		score += 0.2
	}
	if r.Resolution != nil {
		score += 0.1
	}
	if r.Quality != nil {
		score += 0.05
	}
	if r.Codec != nil {
		score += 0.05
	}
	if score > 0.9 {
		score = 0.9
	}
	return score
}

func firstHit(lower string, vocabulary []string) string {
	for _, token := range vocabulary {
		if strings.Contains(lower, token) {
			if folded, ok := canonical[token]; ok {
				return folded
			}
			return token
		}
	}
	return ""
}

func cleanTitle(raw string) string {
	raw = strings.ReplaceAll(raw, ".", " ")
	raw = strings.ReplaceAll(raw, "_", " ")
	raw = strings.Trim(raw, " -([")
	return strings.Join(strings.Fields(raw), " ")
}

func extension(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		ext := filename[idx:]
		// Only strip short media extensions; "Movie.2010" keeps its year.
		if len(ext) >= 3 && len(ext) <= 5 && !strings.ContainsAny(ext[1:], "0123456789 ") {
			return ext
		}
	}
	return ""
}
