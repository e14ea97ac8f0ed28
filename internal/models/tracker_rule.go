// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeparr/sweeparr/internal/dbinterface"
)

var ErrTrackerRuleNotFound = errors.New("tracker rule not found")

// TrackerRule is the retention policy for one tracker domain: a torrent from
// that domain is not eligible for deletion before both thresholds are met.
// Auto-detected rules start unrestricted (0/0) until an operator tightens
// them.
type TrackerRule struct {
	ID               int       `json:"id"`
	Domain           string    `json:"domain"`
	MinSeedTimeHours int       `json:"minSeedTimeHours"`
	MinRatio         float64   `json:"minRatio"`
	IsAutoDetected   bool      `json:"isAutoDetected"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Satisfied reports whether a torrent's observed ratio and seed time clear
// this rule's thresholds.
func (r *TrackerRule) Satisfied(ratio float64, seedTime time.Duration) bool {
	if seedTime < time.Duration(r.MinSeedTimeHours)*time.Hour {
		return false
	}
	return ratio >= r.MinRatio
}

type TrackerRuleStore struct {
	db dbinterface.Querier
}

func NewTrackerRuleStore(db dbinterface.Querier) *TrackerRuleStore {
	return &TrackerRuleStore{db: db}
}

const trackerRuleColumns = `id, domain, min_seed_time_hours, min_ratio, is_auto_detected, created_at, updated_at`

func scanTrackerRule(row interface{ Scan(...any) error }) (*TrackerRule, error) {
	var r TrackerRule
	if err := row.Scan(&r.ID, &r.Domain, &r.MinSeedTimeHours, &r.MinRatio, &r.IsAutoDetected, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

func (s *TrackerRuleStore) GetByDomain(ctx context.Context, domain string) (*TrackerRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trackerRuleColumns+` FROM tracker_rules WHERE domain = ?`, normalizeDomain(domain))
	r, err := scanTrackerRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTrackerRuleNotFound
		}
		return nil, fmt.Errorf("failed to get tracker rule: %w", err)
	}
	return r, nil
}

// CreateAutoDetected inserts an unrestricted rule for a newly observed
// domain. A concurrent insert for the same domain is tolerated; the stored
// row wins either way.
func (s *TrackerRuleStore) CreateAutoDetected(ctx context.Context, domain string) (*TrackerRule, error) {
	domain = normalizeDomain(domain)
	if domain == "" {
		return nil, errors.New("domain cannot be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tracker_rules (domain, min_seed_time_hours, min_ratio, is_auto_detected)
		VALUES (?, 0, 0, 1)
	`, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker rule: %w", err)
	}

	return s.GetByDomain(ctx, domain)
}

func (s *TrackerRuleStore) List(ctx context.Context) ([]*TrackerRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+trackerRuleColumns+` FROM tracker_rules ORDER BY domain ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracker rules: %w", err)
	}
	defer rows.Close()

	var rules []*TrackerRule
	for rows.Next() {
		r, err := scanTrackerRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracker rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// Update sets operator-chosen thresholds and clears the auto-detected flag.
func (s *TrackerRuleStore) Update(ctx context.Context, id int, minSeedTimeHours int, minRatio float64) (*TrackerRule, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tracker_rules
		SET min_seed_time_hours = ?, min_ratio = ?, is_auto_detected = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, minSeedTimeHours, minRatio, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update tracker rule: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, ErrTrackerRuleNotFound
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+trackerRuleColumns+` FROM tracker_rules WHERE id = ?`, id)
	return scanTrackerRule(row)
}
