package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenType enumerates the closed set of token kinds held in the tokens table.
type TokenType int16

const (
	TokenTypeSession      TokenType = 1
	TokenTypeOAuthAccess  TokenType = 2
	TokenTypeOAuthRefresh TokenType = 3
)

// Token is a credential held on behalf of either a User (session tokens) or
// a LinkedAccount (provider access/refresh tokens). Exactly one of UserID or
// LinkedAccountID is set.
type Token struct {
	ID              uuid.UUID  `json:"id"`
	UserID          *uuid.UUID `json:"user_id,omitempty"`
	LinkedAccountID *uuid.UUID `json:"linked_account_id,omitempty"`
	TypeID          TokenType  `json:"type_id"`
	Value           string     `json:"-"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsExpired reports whether the token's expiry has passed as of now. A token
// with no ExpiresAt never expires.
func (t *Token) IsExpired(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return now.After(*t.ExpiresAt)
}

// IsValid is the negation of IsExpired; no read path should treat an expired
// token as usable.
func (t *Token) IsValid(now time.Time) bool {
	return !t.IsExpired(now)
}

// RemainingTTL returns the duration until expiry, or zero if already expired
// or non-expiring.
func (t *Token) RemainingTTL(now time.Time) time.Duration {
	if t.ExpiresAt == nil {
		return 0
	}
	d := t.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// PublicToken is the redacted projection safe to return on any API surface
// or write to a log line.
type PublicToken struct {
	ID        uuid.UUID  `json:"id"`
	TypeID    TokenType  `json:"type_id"`
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Public redacts the secret Value, replacing it with a fixed placeholder.
// This is the only representation of a Token ever handed to a response body
// or a log field.
func (t *Token) Public() PublicToken {
	return PublicToken{
		ID:        t.ID,
		TypeID:    t.TypeID,
		Value:     "<redacted>",
		ExpiresAt: t.ExpiresAt,
		CreatedAt: t.CreatedAt,
	}
}
