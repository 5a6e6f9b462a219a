package models

import (
	"time"

	"github.com/google/uuid"
)

// Trustee is owned by the account-management tier; this service only reads
// the verified trustee list for an owner to build the quorum denominator.
type Trustee struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	PhoneNumber *string   `json:"phone_number,omitempty"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"created_at"`
}

// Owner is the account whose vault a request targets. Also owned by the
// account tier; read here to resolve the submitted owner identifier and to
// reach the owner's alert channels.
type Owner struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	PhoneNumber *string   `json:"phone_number,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
