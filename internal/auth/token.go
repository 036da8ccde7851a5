// Package auth provides bearer-token authentication for the bridge.
//
// Tokens are issued with `termbridge token new`: the plaintext is shown
// once and only a bcrypt hash is stored. Clients present the token on
// session creation and bridge connections, either as an Authorization
// bearer header or as a ?token= query parameter (for WebSocket dials
// from environments that cannot set headers).
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/workdesk/termbridge/internal/storage"
)

// Token is an alias for storage.Token to avoid import cycles.
type Token = storage.Token

// ErrTokenInvalid is returned when no stored token matches.
var ErrTokenInvalid = errors.New("invalid token")

// TokenStore defines the interface for persisting access tokens.
// Implemented by storage.SQLiteStore. Implementations must be safe for
// concurrent access.
type TokenStore interface {
	SaveToken(token *Token) error
	GetToken(id string) (*Token, error)
	ListTokens() ([]*Token, error)
	DeleteToken(id string) error
	UpdateTokenLastSeen(id string, t time.Time) error
}

// TokenValidator validates bearer tokens against the store.
type TokenValidator struct {
	store   TokenStore
	timeNow func() time.Time
}

// NewTokenValidator creates a new token validator.
func NewTokenValidator(store TokenStore) *TokenValidator {
	return &TokenValidator{
		store:   store,
		timeNow: time.Now,
	}
}

// ValidateToken checks the given plaintext token. On success, returns the
// token record and updates its last_seen timestamp. Returns
// ErrTokenInvalid if nothing matches.
//
// Note: this is a linear scan comparing against every stored hash. For
// the handful of tokens a single bridge carries this is acceptable.
func (tv *TokenValidator) ValidateToken(plaintext string) (*Token, error) {
	tokens, err := tv.store.ListTokens()
	if err != nil {
		return nil, err
	}

	for _, token := range tokens {
		// bcrypt.CompareHashAndPassword is timing-safe.
		if err := bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(plaintext)); err == nil {
			log.Printf("auth: validated token %s (%s)", token.ID, token.Name)

			now := tv.timeNow()
			if err := tv.store.UpdateTokenLastSeen(token.ID, now); err != nil {
				// Log but don't fail, validation succeeded.
				log.Printf("auth: failed to update last_seen for token %s: %v", token.ID, err)
			}

			return token, nil
		}
	}

	log.Printf("auth: token validation failed (no match)")
	return nil, ErrTokenInvalid
}

// IssueToken creates a new token with the given name, stores its bcrypt
// hash and returns the record plus the plaintext secret. The plaintext is
// never stored; show it to the user once.
func IssueToken(store TokenStore, name string) (*Token, string, error) {
	secret := generateSecureToken()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash token: %w", err)
	}

	now := time.Now()
	token := &Token{
		ID:         uuid.New().String(),
		Name:       name,
		SecretHash: string(hash),
		CreatedAt:  now,
		LastSeen:   now,
	}
	if err := store.SaveToken(token); err != nil {
		return nil, "", fmt.Errorf("save token: %w", err)
	}

	return token, secret, nil
}

// generateSecureToken generates a random secret with 256 bits of entropy,
// hex-encoded for easy transport.
func generateSecureToken() string {
	const tokenBytes = 32

	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		// This should never happen with crypto/rand.
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}

	return fmt.Sprintf("%x", b)
}
