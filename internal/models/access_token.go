package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessToken is the bearer credential minted when a request is granted.
// Exactly one row per granted request (unique on RequestID); re-issuance
// returns the existing row. Revocation is immediate and irreversible for
// this value; a fresh grant flow is the only way to a new token.
type AccessToken struct {
	ID        uuid.UUID  `json:"id"`
	RequestID uuid.UUID  `json:"request_id"`
	Value     string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
