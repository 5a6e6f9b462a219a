package routes

const (
	// Health
	Health = "/health"

	// Public requester/trustee endpoints
	LegacyAccessBase           = "/api/v1/legacy-access"
	LegacyAccessStatus         = "/api/v1/legacy-access/status"
	LegacyAccessConfirmDetails = "/api/v1/legacy-access/confirm-details"
	LegacyAccessConfirm        = "/api/v1/legacy-access/confirm"
	LegacyAccessContent        = "/api/v1/legacy-access/content"

	// Owner endpoints (authenticated)
	LegacyAccessMine   = "/api/v1/legacy-access/mine"
	LegacyAccessCancel = "/api/v1/legacy-access/{id}/cancel"
	LegacyAccessRevoke = "/api/v1/legacy-access/{id}/revoke"
)
