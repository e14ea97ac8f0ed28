// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notifications delivers fire-and-forget webhook messages about
// deletion runs. Delivery failures are logged, never surfaced to callers.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/sweeparr/sweeparr/internal/buildinfo"
	"github.com/sweeparr/sweeparr/internal/models"
)

type WebhookNotifier struct {
	webhookURL string
	httpClient *http.Client
}

func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	return &WebhookNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *WebhookNotifier) Enabled() bool {
	return n != nil && n.webhookURL != ""
}

type message struct {
	Event        string    `json:"event"`
	DeletionID   int       `json:"deletion_id,omitempty"`
	Status       string    `json:"status,omitempty"`
	SuccessCount int       `json:"success_count"`
	FailedCount  int       `json:"failed_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// NotifyDeletionResult posts the outcome of one deletion run.
func (n *WebhookNotifier) NotifyDeletionResult(ctx context.Context, deletionID int, status models.DeletionStatus, successCount, failedCount int) {
	if !n.Enabled() {
		return
	}
	n.send(ctx, message{
		Event:        "deletion.result",
		DeletionID:   deletionID,
		Status:       string(status),
		SuccessCount: successCount,
		FailedCount:  failedCount,
		Timestamp:    time.Now().UTC(),
	})
}

// NotifyDeletionReminder posts a reminder for a pending deletion.
func (n *WebhookNotifier) NotifyDeletionReminder(ctx context.Context, deletionID int) {
	if !n.Enabled() {
		return
	}
	n.send(ctx, message{
		Event:      "deletion.reminder",
		DeletionID: deletionID,
		Timestamp:  time.Now().UTC(),
	})
}

func (n *WebhookNotifier) send(ctx context.Context, msg message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode webhook payload")
		return
	}

	err = retry.Do(
		func() error { return n.post(ctx, payload) },
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Warn().Err(err).Str("event", msg.Event).Msg("webhook delivery failed")
	}
}

func (n *WebhookNotifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
