// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package arr is a minimal client for the external movie manager's v3 HTTP
// API, covering root folder discovery, file listings, download history,
// catalogue dereference and title lookup.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sweeparr/sweeparr/internal/buildinfo"
)

// Client talks to one manager connection.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeoutSeconds int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 15
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

// RootFolder is one storage root the manager imports into.
type RootFolder struct {
	ID   int    `json:"id"`
	Path string `json:"path"`
}

// MovieFile is one file the manager tracks for a movie.
type MovieFile struct {
	ID           int    `json:"id"`
	MovieID      int64  `json:"movieId"`
	Path         string `json:"path"`
	RelativePath string `json:"relativePath"`
	Size         int64  `json:"size"`
}

// HistoryRecord connects a completed download to its movie.
type HistoryRecord struct {
	DownloadID string `json:"downloadId"`
	MovieID    int64  `json:"movieId"`
	EventType  string `json:"eventType"`
}

// LookupResult is one hit from the manager's title search.
type LookupResult struct {
	ExternalID int64  `json:"tmdbId"`
	Title      string `json:"title"`
	Year       int    `json:"year"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	u := c.baseURL + "/api/v3" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.Errorf("manager returned status %d for %s: %s", resp.StatusCode, endpoint, strings.TrimSpace(string(payload)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrapf(err, "failed to decode response from %s", endpoint)
		}
	}
	return nil
}

// GetRootFolders returns the manager's configured storage roots.
func (c *Client) GetRootFolders(ctx context.Context) ([]RootFolder, error) {
	var folders []RootFolder
	if err := c.do(ctx, http.MethodGet, "/rootfolder", nil, nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// GetMovieFiles returns the authoritative file list for one movie.
func (c *Client) GetMovieFiles(ctx context.Context, movieExternalID int64) ([]MovieFile, error) {
	query := url.Values{"movieId": []string{strconv.FormatInt(movieExternalID, 10)}}
	var files []MovieFile
	if err := c.do(ctx, http.MethodGet, "/moviefile", query, nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// GetHistory returns grab/import history. Callers key on DownloadID, which
// for torrent downloads is the info hash.
func (c *Client) GetHistory(ctx context.Context) ([]HistoryRecord, error) {
	query := url.Values{
		"pageSize": []string{"1000"},
		"page":     []string{"1"},
	}
	var page struct {
		Records []HistoryRecord `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/history", query, nil, &page); err != nil {
		return nil, err
	}
	return page.Records, nil
}

// Dereference removes the movie from the manager without deleting its files
// there and without adding an import exclusion.
func (c *Client) Dereference(ctx context.Context, movieExternalID int64) error {
	query := url.Values{
		"deleteFiles":        []string{"false"},
		"addImportExclusion": []string{"false"},
	}
	return c.do(ctx, http.MethodDelete, "/movie/"+strconv.FormatInt(movieExternalID, 10), query, nil, nil)
}

// UpdateMonitoring flips the monitored flag on a movie.
func (c *Client) UpdateMonitoring(ctx context.Context, movieExternalID int64, monitored bool) error {
	endpoint := "/movie/" + strconv.FormatInt(movieExternalID, 10)

	var movie map[string]any
	if err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &movie); err != nil {
		return err
	}
	movie["monitored"] = monitored
	return c.do(ctx, http.MethodPut, endpoint, nil, movie, nil)
}

// IsMonitored reports the current monitored flag on a movie.
func (c *Client) IsMonitored(ctx context.Context, movieExternalID int64) (bool, error) {
	var movie struct {
		Monitored bool `json:"monitored"`
	}
	if err := c.do(ctx, http.MethodGet, "/movie/"+strconv.FormatInt(movieExternalID, 10), nil, nil, &movie); err != nil {
		return false, err
	}
	return movie.Monitored, nil
}

// Lookup searches the manager's upstream catalogue by title, optionally
// constrained to a year.
func (c *Client) Lookup(ctx context.Context, term string, year *int) ([]LookupResult, error) {
	if year != nil {
		term = fmt.Sprintf("%s %d", term, *year)
	}
	query := url.Values{"term": []string{term}}

	var results []LookupResult
	if err := c.do(ctx, http.MethodGet, "/movie/lookup", query, nil, &results); err != nil {
		return nil, err
	}
	if year != nil {
		filtered := results[:0]
		for _, r := range results {
			if r.Year == *year {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}
	return results, nil
}
