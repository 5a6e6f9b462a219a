package models

import (
	"time"

	"github.com/google/uuid"
)

type AccessRequestStatusType string

const (
	RequestStatusPending     AccessRequestStatusType = "PENDING"
	RequestStatusUnderReview AccessRequestStatusType = "UNDER_REVIEW"
	RequestStatusVerified    AccessRequestStatusType = "VERIFIED"
	RequestStatusRejected    AccessRequestStatusType = "REJECTED"
	RequestStatusGracePeriod AccessRequestStatusType = "GRACE_PERIOD"
	RequestStatusGranted     AccessRequestStatusType = "GRANTED"
	RequestStatusExpired     AccessRequestStatusType = "EXPIRED"
	RequestStatusCancelled   AccessRequestStatusType = "CANCELLED"
	RequestStatusRevoked     AccessRequestStatusType = "REVOKED"
)

type VerificationMethodType string

const (
	VerificationTrusteeConfirmation VerificationMethodType = "TRUSTEE_CONFIRMATION"
	VerificationDeathCertificate    VerificationMethodType = "DEATH_CERTIFICATE"
	VerificationCombined            VerificationMethodType = "COMBINED"
)

// transitions is the single authoritative state graph. Every status write in
// the service layer and every conditional UPDATE in the repositories must
// correspond to an edge here; ad hoc status writes are a bug.
var transitions = map[AccessRequestStatusType][]AccessRequestStatusType{
	RequestStatusPending:     {RequestStatusUnderReview, RequestStatusGracePeriod, RequestStatusRejected},
	RequestStatusUnderReview: {RequestStatusVerified, RequestStatusGracePeriod, RequestStatusRejected},
	RequestStatusVerified:    {RequestStatusGracePeriod},
	RequestStatusGracePeriod: {RequestStatusGranted, RequestStatusCancelled},
	RequestStatusGranted:     {RequestStatusExpired, RequestStatusRevoked},
}

// CanTransition reports whether from → to is an edge of the state graph.
func CanTransition(from, to AccessRequestStatusType) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
// Terminal rows are immutable; they are retained for audit, never deleted.
func IsTerminal(s AccessRequestStatusType) bool {
	return len(transitions[s]) == 0
}

// ActiveStatuses lists every non-terminal status. Used by the duplicate-
// request guard: at most one request per (owner, requester email) may hold
// one of these at a time.
func ActiveStatuses() []AccessRequestStatusType {
	return []AccessRequestStatusType{
		RequestStatusPending,
		RequestStatusUnderReview,
		RequestStatusVerified,
		RequestStatusGracePeriod,
		RequestStatusGranted,
	}
}

type LegacyAccessRequest struct {
	ID uuid.UUID `json:"id"`

	// OwnerID is nil when the submitted owner identifier matched no account.
	// Such requests are held for manual review; the requester-facing response
	// is identical either way so the flow cannot be used to enumerate accounts.
	OwnerID *uuid.UUID `json:"owner_id,omitempty"`

	RequesterName  string `json:"requester_name"`
	RequesterEmail string `json:"requester_email"`
	Relationship   string `json:"relationship"`

	VerificationMethod  VerificationMethodType `json:"verification_method"`
	DeathCertificateURL *string                `json:"death_certificate_url,omitempty"`

	Status        AccessRequestStatusType `json:"status"`
	StatusMessage string                  `json:"status_message"`

	// TrusteeTotal is the quorum denominator, fixed at fan-out time.
	// Trustees added after submission do not join an in-flight request.
	TrusteeTotal int `json:"trustee_total"`

	GracePeriodEnd  *time.Time `json:"grace_period_end,omitempty"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *LegacyAccessRequest) GetID() string {
	return r.ID.String()
}
