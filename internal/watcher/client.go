// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package watcher is the client for the filesystem agent running on the
// storage host. The agent performs the actual scanning, deletion and
// hardlink swaps; sweeparr only issues commands.
package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sweeparr/sweeparr/internal/buildinfo"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeoutSeconds int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to encode request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(encoded))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.Errorf("watcher returned status %d for %s: %s", resp.StatusCode, endpoint, strings.TrimSpace(string(payload)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrapf(err, "failed to decode response from %s", endpoint)
		}
	}
	return nil
}

// Exists reports whether a path is present on the storage host.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	err := c.post(ctx, "/api/fs/exists", map[string]string{"path": path}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// Unlink removes a path on the storage host. Returns true when the file was
// removed or was already absent.
func (c *Client) Unlink(ctx context.Context, path string) (bool, error) {
	var resp struct {
		Removed bool   `json:"removed"`
		Error   string `json:"error,omitempty"`
	}
	err := c.post(ctx, "/api/fs/unlink", map[string]string{"path": path}, &resp)
	if err != nil {
		return false, err
	}
	if !resp.Removed && resp.Error != "" {
		return false, errors.Errorf("watcher unlink failed: %s", resp.Error)
	}
	return resp.Removed, nil
}

// RequestReplacement asks the agent to hardlink-swap a served file. The
// agent answers with an accepted flag only; the swap itself happens out of
// band and the owning deletion waits on it.
func (c *Client) RequestReplacement(ctx context.Context, deletionID int, sourcePath, targetPath, volumeRoot string) (bool, error) {
	var resp struct {
		Accepted bool `json:"accepted"`
	}
	err := c.post(ctx, "/api/fs/replace", map[string]any{
		"deletionId": deletionID,
		"sourcePath": sourcePath,
		"targetPath": targetPath,
		"volumeRoot": volumeRoot,
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Accepted, nil
}
