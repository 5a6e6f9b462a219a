package dtos

import (
	"time"

	"github.com/google/uuid"
)

/*
SubmitRequestRequest is the body for POST /api/v1/legacy-access.
OwnerEmail is the identifier the requester asserts; the response never
reveals whether it matched an account.
*/
type SubmitRequestRequest struct {
	RequesterName       string  `json:"requester_name" validate:"required,min=2,max=120"`
	RequesterEmail      string  `json:"requester_email" validate:"required,email"`
	OwnerEmail          string  `json:"owner_email" validate:"required,email"`
	Relationship        string  `json:"relationship" validate:"required,max=80"`
	VerificationMethod  string  `json:"verification_method" validate:"required,oneof=TRUSTEE_CONFIRMATION DEATH_CERTIFICATE COMBINED"`
	DeathCertificateURL *string `json:"death_certificate_url,omitempty" validate:"omitempty,url"`
}

type SubmitRequestResponse struct {
	RequestID     uuid.UUID `json:"request_id"`
	Status        string    `json:"status"`
	StatusMessage string    `json:"status_message"`
}

type TallyDTO struct {
	Confirmed int `json:"confirmed"`
	Denied    int `json:"denied"`
	Total     int `json:"total"`
}

/*
RequestStatusDTO is one request as shown to its requester (and, with the
same shape, to the owner dashboard). AccessLink is only present on GRANTED
requests with a live token.
*/
type RequestStatusDTO struct {
	RequestID      uuid.UUID  `json:"request_id"`
	RequesterName  string     `json:"requester_name"`
	Relationship   string     `json:"relationship"`
	Status         string     `json:"status"`
	StatusMessage  string     `json:"status_message"`
	Tally          TallyDTO   `json:"tally"`
	GracePeriodEnd *time.Time `json:"grace_period_end,omitempty"`
	AccessLink     string     `json:"access_link,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type StatusListResponse struct {
	Requests []RequestStatusDTO `json:"requests"`
}

/*
ConfirmDetailsResponse is the summary a trustee sees after following their
confirm link, before choosing an action.
*/
type ConfirmDetailsResponse struct {
	RequestID          uuid.UUID `json:"request_id"`
	RequesterName      string    `json:"requester_name"`
	Relationship       string    `json:"relationship"`
	VerificationMethod string    `json:"verification_method"`
	SubmittedAt        time.Time `json:"submitted_at"`
	Tally              TallyDTO  `json:"tally"`
}

type ConfirmActionRequest struct {
	Token  string  `json:"token" validate:"required"`
	Action string  `json:"action" validate:"required,oneof=confirm deny"`
	Notes  *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

type ConfirmActionResponse struct {
	RequestID     uuid.UUID `json:"request_id"`
	Action        string    `json:"action"`
	RequestStatus string    `json:"request_status"`
	Tally         TallyDTO  `json:"tally"`
	// Replayed is true when the same token+action was re-submitted; the
	// prior outcome is returned unchanged.
	Replayed bool `json:"replayed,omitempty"`
}

type VaultItemDTO struct {
	ID        uuid.UUID `json:"id"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type ContentBundleResponse struct {
	RequestID       uuid.UUID      `json:"request_id"`
	AccessExpiresAt *time.Time     `json:"access_expires_at,omitempty"`
	Items           []VaultItemDTO `json:"items"`
}

type HealthCheckResponse struct {
	Status string `json:"status"`
}
