package models

import (
	"time"

	"github.com/google/uuid"
)

// BrowserSession is a browser login session authenticated by exactly one
// session-type Token.
type BrowserSession struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	TokenID   uuid.UUID `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBrowserSession constructs a session with expires_at computed from a
// strictly positive duration. Panics on a non-positive duration since that
// indicates a caller bug, not a runtime condition.
func NewBrowserSession(sessionID, userID, tokenID uuid.UUID, now time.Time, ttl time.Duration) *BrowserSession {
	if ttl <= 0 {
		panic("models: session ttl must be positive")
	}
	return &BrowserSession{
		SessionID: sessionID,
		UserID:    userID,
		TokenID:   tokenID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// IsExpired reports whether the session has passed its expiry.
func (s *BrowserSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
