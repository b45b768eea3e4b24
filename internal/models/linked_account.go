package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProviderID enumerates the closed set of identity providers a LinkedAccount
// can bind to. Reserved values beyond Google are intentionally left for
// future providers.
type ProviderID int16

const (
	ProviderLocal  ProviderID = 1
	ProviderGoogle ProviderID = 2
)

// LinkedAccount binds a User to one external identity-provider account.
type LinkedAccount struct {
	ID                 uuid.UUID       `json:"id"`
	UserID             uuid.UUID       `json:"user_id"`
	ProviderID         ProviderID      `json:"provider_id"`
	ProviderUserID     string          `json:"provider_user_id"`
	ProviderEmail      *string         `json:"provider_email,omitempty"`
	ProviderDisplayName *string        `json:"provider_display_name,omitempty"`
	ProviderAvatarURL  *string         `json:"provider_avatar_url,omitempty"`
	ProviderProfileData json.RawMessage `json:"provider_profile_data,omitempty"`
	IsActive           bool            `json:"is_active"`
	ConnectedAt        time.Time       `json:"connected_at"`
	LastLoginAt        *time.Time      `json:"last_login_at,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
