package storage

// tokens.go contains SQLiteStore methods for access tokens. Tokens carry
// a bcrypt hash of the secret; the plaintext is shown once at creation
// and never stored.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// Token is one access token record.
type Token struct {
	ID         string
	Name       string
	SecretHash string
	CreatedAt  time.Time
	LastSeen   time.Time
}

// SaveToken persists a token.
// Uses INSERT OR REPLACE to handle both new tokens and updates.
func (s *SQLiteStore) SaveToken(token *Token) error {
	if token == nil {
		return errors.New("token cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: saving token %s (%s)", token.ID, token.Name)

	const query = `
		INSERT OR REPLACE INTO tokens
			(id, name, secret_hash, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		token.ID,
		token.Name,
		token.SecretHash,
		token.CreatedAt.Format(time.RFC3339Nano),
		token.LastSeen.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}

	return nil
}

// GetToken retrieves a token by ID.
// Returns nil, nil if the token does not exist.
func (s *SQLiteStore) GetToken(id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, secret_hash, created_at, last_seen
		FROM tokens
		WHERE id = ?
	`

	token, err := scanToken(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

// ListTokens returns all tokens, oldest first. Validation scans the list
// and compares hashes since bcrypt hashes cannot be looked up directly.
func (s *SQLiteStore) ListTokens() ([]*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, secret_hash, created_at, last_seen
		FROM tokens
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token rows: %w", err)
	}

	return tokens, nil
}

// DeleteToken removes a token.
// Returns nil if the token does not exist (idempotent delete).
func (s *SQLiteStore) DeleteToken(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: deleting token %s", id)

	if _, err := s.db.Exec("DELETE FROM tokens WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// UpdateTokenLastSeen updates the last_seen timestamp for a token.
// Returns ErrTokenNotFound if the token does not exist.
func (s *SQLiteStore) UpdateTokenLastSeen(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `UPDATE tokens SET last_seen = ? WHERE id = ?`

	result, err := s.db.Exec(query, t.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func scanToken(row rowScanner) (*Token, error) {
	var (
		token     Token
		createdAt string
		lastSeen  string
	)

	err := row.Scan(
		&token.ID,
		&token.Name,
		&token.SecretHash,
		&createdAt,
		&lastSeen,
	)
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	token.CreatedAt = t

	t, err = time.Parse(time.RFC3339Nano, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}
	token.LastSeen = t

	return &token, nil
}
