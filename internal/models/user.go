package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a natural person known to the gateway, keyed by a case-insensitive
// unique primary email address.
type User struct {
	ID           uuid.UUID  `json:"id"`
	PrimaryEmail string     `json:"primary_email"`
	FirstName    *string    `json:"first_name,omitempty"`
	LastName     *string    `json:"last_name,omitempty"`
	DisplayName  *string    `json:"display_name,omitempty"`
	AvatarURL    *string    `json:"avatar_url,omitempty"`
	IsVerified   bool       `json:"is_verified"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}
