package models

import (
	"time"

	"github.com/google/uuid"
)

type ConfirmationActionType string

const (
	ConfirmationUnconfirmed ConfirmationActionType = "UNCONFIRMED"
	ConfirmationConfirmed   ConfirmationActionType = "CONFIRMED"
	ConfirmationDenied      ConfirmationActionType = "DENIED"
)

// TrusteeConfirmation is one trustee's ballot on one request. A row is
// created per verified trustee at fan-out time and written at most once:
// RespondedAt is set on the first response and the action is never
// overwritten afterwards.
type TrusteeConfirmation struct {
	ID        uuid.UUID `json:"id"`
	RequestID uuid.UUID `json:"request_id"`
	TrusteeID uuid.UUID `json:"trustee_id"`

	// Token is the single-use secret embedded in the trustee's confirm link.
	Token string `json:"-"`

	Action      ConfirmationActionType `json:"action"`
	Notes       *string                `json:"notes,omitempty"`
	RespondedAt *time.Time             `json:"responded_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ConfirmationTally is the quorum arithmetic input for a request.
// Total is frozen at fan-out; Confirmed+Denied never exceeds it.
type ConfirmationTally struct {
	Confirmed int `json:"confirmed"`
	Denied    int `json:"denied"`
	Total     int `json:"total"`
}

// Unresponded returns how many trustees have not yet voted.
func (t ConfirmationTally) Unresponded() int {
	return t.Total - t.Confirmed - t.Denied
}

// Majority is the quorum threshold: floor(total/2) + 1.
func (t ConfirmationTally) Majority() int {
	return t.Total/2 + 1
}

// ConfirmMajorityReached reports whether confirmed votes meet quorum.
func (t ConfirmationTally) ConfirmMajorityReached() bool {
	return t.Total > 0 && t.Confirmed >= t.Majority()
}

// ConfirmMajorityImpossible reports whether quorum can no longer be reached
// even if every remaining trustee confirms. A single early denial therefore
// never rejects a request on its own while other trustees can still tip it.
func (t ConfirmationTally) ConfirmMajorityImpossible() bool {
	return t.Total > 0 && t.Confirmed+t.Unresponded() < t.Majority()
}
