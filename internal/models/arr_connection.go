// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sweeparr/sweeparr/internal/dbinterface"
)

var ErrArrConnectionNotFound = errors.New("arr connection not found")

// ArrConnection is one external media manager instance used for catalogue
// import, root folder discovery and dereference.
type ArrConnection struct {
	ID              int        `json:"id"`
	Name            string     `json:"name"`
	BaseURL         string     `json:"base_url"`
	APIKeyEncrypted string     `json:"-"`
	Enabled         bool       `json:"enabled"`
	TimeoutSeconds  int        `json:"timeout_seconds"`
	LastTestAt      *time.Time `json:"last_test_at,omitempty"`
	LastTestStatus  string     `json:"last_test_status"`
	LastTestError   *string    `json:"last_test_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ArrConnectionStore manages manager connections. API keys are stored
// AES-GCM encrypted with the app's derived key.
type ArrConnectionStore struct {
	db            dbinterface.Querier
	encryptionKey []byte
}

func NewArrConnectionStore(db dbinterface.Querier, encryptionKey []byte) (*ArrConnectionStore, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}
	return &ArrConnectionStore{db: db, encryptionKey: encryptionKey}, nil
}

func (s *ArrConnectionStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *ArrConnectionStore) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("malformed ciphertext")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

const arrConnectionColumns = `id, name, base_url, api_key_encrypted, enabled, timeout_seconds, last_test_at, last_test_status, last_test_error, created_at, updated_at`

func scanArrConnection(row interface{ Scan(...any) error }) (*ArrConnection, error) {
	var c ArrConnection
	var lastTestAt sql.NullTime
	var lastTestError sql.NullString

	if err := row.Scan(&c.ID, &c.Name, &c.BaseURL, &c.APIKeyEncrypted, &c.Enabled, &c.TimeoutSeconds,
		&lastTestAt, &c.LastTestStatus, &lastTestError, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}

	if lastTestAt.Valid {
		c.LastTestAt = &lastTestAt.Time
	}
	if lastTestError.Valid {
		c.LastTestError = &lastTestError.String
	}
	return &c, nil
}

func (s *ArrConnectionStore) Create(ctx context.Context, name, baseURL, apiKey string, enabled bool, timeoutSeconds int) (*ArrConnection, error) {
	name = strings.TrimSpace(name)
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	apiKey = strings.TrimSpace(apiKey)

	if name == "" {
		return nil, errors.New("name cannot be empty")
	}
	if baseURL == "" {
		return nil, errors.New("base URL cannot be empty")
	}
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 15
	}

	encryptedAPIKey, err := s.encrypt(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt API key: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO arr_connections (name, base_url, api_key_encrypted, enabled, timeout_seconds)
		VALUES (?, ?, ?, ?, ?)
	`, name, baseURL, encryptedAPIKey, enabled, timeoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to create arr connection: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, int(id))
}

func (s *ArrConnectionStore) Get(ctx context.Context, id int) (*ArrConnection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+arrConnectionColumns+` FROM arr_connections WHERE id = ?`, id)
	c, err := scanArrConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrArrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get arr connection: %w", err)
	}
	return c, nil
}

func (s *ArrConnectionStore) List(ctx context.Context) ([]*ArrConnection, error) {
	return s.list(ctx, `SELECT `+arrConnectionColumns+` FROM arr_connections ORDER BY name ASC`)
}

func (s *ArrConnectionStore) ListEnabled(ctx context.Context) ([]*ArrConnection, error) {
	return s.list(ctx, `SELECT `+arrConnectionColumns+` FROM arr_connections WHERE enabled = 1 ORDER BY name ASC`)
}

func (s *ArrConnectionStore) list(ctx context.Context, query string) ([]*ArrConnection, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list arr connections: %w", err)
	}
	defer rows.Close()

	connections := make([]*ArrConnection, 0)
	for rows.Next() {
		c, err := scanArrConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan arr connection: %w", err)
		}
		connections = append(connections, c)
	}
	return connections, rows.Err()
}

func (s *ArrConnectionStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM arr_connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete arr connection: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrArrConnectionNotFound
	}
	return nil
}

// UpdateTestStatus records the outcome of the most recent connectivity test.
func (s *ArrConnectionStore) UpdateTestStatus(ctx context.Context, id int, status string, errorMsg *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE arr_connections
		SET last_test_at = CURRENT_TIMESTAMP, last_test_status = ?, last_test_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, nullableString(errorMsg), id)
	if err != nil {
		return fmt.Errorf("failed to update test status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrArrConnectionNotFound
	}
	return nil
}

// GetDecryptedAPIKey returns the connection's API key in the clear.
func (s *ArrConnectionStore) GetDecryptedAPIKey(connection *ArrConnection) (string, error) {
	return s.decrypt(connection.APIKeyEncrypted)
}
