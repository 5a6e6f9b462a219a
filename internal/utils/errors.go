package utils

import (
	"errors"
	"net/http"
)

/*
   Sentinel errors for the legacy-access domain.
   Controllers can do: if errors.Is(err, ErrXYZ) { ... }
*/
var (
	// A non-terminal request already exists for (owner, requester_email).
	ErrDuplicateActiveRequest = errors.New("duplicate_active_request")

	// The trustee token does not resolve to an unconfirmed row.
	ErrInvalidOrUsedToken = errors.New("invalid_or_used_token")

	// An attempted state-machine move that the transition table forbids
	// (duplicate sweep tick, replayed submission, terminal state).
	ErrInvalidTransition = errors.New("invalid_transition")

	// The owner has zero verified trustees at fan-out time.
	ErrNoTrustees = errors.New("no_trustees")

	// Access-token validation outcomes.
	ErrTokenNotFound = errors.New("token_not_found")
	ErrTokenExpired  = errors.New("token_expired")
	ErrTokenRevoked  = errors.New("token_revoked")

	ErrNotFound = errors.New("not_found")
)

// AppError for structured error handling from services to controllers.
type AppError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// HandleAppError centralizes responding to AppErrors.
func HandleAppError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		RespondErrorWithCode(w, appErr.StatusCode, appErr.Code, appErr.Message, nil, appErr.Err)
	} else {
		// Fallback for unexpected error types
		RespondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternal, "An unexpected error occurred", nil, err)
	}
}
