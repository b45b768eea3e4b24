package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenScope records one OAuth scope granted for a given access token.
type TokenScope struct {
	TokenID   uuid.UUID `json:"token_id"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
}
