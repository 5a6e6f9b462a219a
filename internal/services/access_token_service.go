package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/everkeep/legacy-access-service/internal/constants"
	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/repositories"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

// AccessTokenService mints and validates the bearer token that gates content
// retrieval after a grant.
type AccessTokenService struct {
	tokenRepo repositories.AccessTokenRepository
	reqRepo   repositories.LegacyAccessRequestRepository
}

func NewAccessTokenService(
	tokenRepo repositories.AccessTokenRepository,
	reqRepo repositories.LegacyAccessRequestRepository,
) *AccessTokenService {
	return &AccessTokenService{tokenRepo: tokenRepo, reqRepo: reqRepo}
}

// IssueToken mints the bearer token for a granted request. Issuance is
// idempotent: a replayed grant tick gets the existing token back, never a
// second value.
func (s *AccessTokenService) IssueToken(ctx context.Context, req *models.LegacyAccessRequest) (*models.AccessToken, error) {
	expiresAt := time.Now().UTC().Add(constants.DefaultAccessValidityDays * 24 * time.Hour)
	if req.AccessExpiresAt != nil {
		expiresAt = *req.AccessExpiresAt
	}
	tok := &models.AccessToken{
		ID:        uuid.New(),
		RequestID: req.ID,
		Value:     utils.RandomSecureToken(constants.AccessTokenBytes),
		ExpiresAt: expiresAt,
	}
	return s.tokenRepo.CreateIfAbsent(ctx, tok)
}

// ValidateToken resolves a bearer value to its request. Returns
// utils.ErrTokenNotFound / ErrTokenRevoked / ErrTokenExpired; revocation is
// checked before expiry so a revoked-then-expired token stays "revoked".
func (s *AccessTokenService) ValidateToken(ctx context.Context, value string) (*models.AccessToken, *models.LegacyAccessRequest, error) {
	tok, err := s.tokenRepo.GetByValue(ctx, value)
	if err != nil {
		return nil, nil, err
	}
	if tok.Revoked {
		return nil, nil, utils.ErrTokenRevoked
	}
	if time.Now().After(tok.ExpiresAt) {
		return nil, nil, utils.ErrTokenExpired
	}

	req, err := s.reqRepo.GetByID(ctx, tok.RequestID)
	if err != nil {
		return nil, nil, err
	}
	// The request row is authoritative: a token that slipped past the expiry
	// sweep is still unusable once the request left GRANTED.
	if req.Status != models.RequestStatusGranted {
		return nil, nil, utils.ErrTokenRevoked
	}
	return tok, req, nil
}

// Revoke invalidates the token for a request immediately and irreversibly.
func (s *AccessTokenService) Revoke(ctx context.Context, requestID uuid.UUID) error {
	return s.tokenRepo.Revoke(ctx, requestID)
}
