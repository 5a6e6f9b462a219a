package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

// grantRequest drives a three-trustee request all the way to GRANTED and
// returns the live token.
func grantRequest(t *testing.T, e *testEnv) (*models.LegacyAccessRequest, *models.AccessToken) {
	t.Helper()
	owner, _ := e.seedOwnerWithTrustees(3)
	req := e.submit(t, owner.Email)
	driveToGracePeriod(t, e, req)
	e.store.Requests[req.ID].GracePeriodEnd = timePtr(time.Now().UTC().Add(-time.Minute))
	_, err := e.graceSvc.SweepExpiredGracePeriods(context.Background())
	require.NoError(t, err)
	tok := e.store.Tokens[req.ID]
	require.NotNil(t, tok)
	return e.store.Requests[req.ID], tok
}

func TestIssueTokenIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	req, tok := grantRequest(t, e)

	again, err := e.tokenSvc.IssueToken(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, tok.Value, again.Value)
	require.Equal(t, tok.ID, again.ID)
}

func TestValidateTokenHappyPath(t *testing.T) {
	e := newTestEnv(t)
	req, tok := grantRequest(t, e)

	gotTok, gotReq, err := e.tokenSvc.ValidateToken(context.Background(), tok.Value)
	require.NoError(t, err)
	require.Equal(t, tok.ID, gotTok.ID)
	require.Equal(t, req.ID, gotReq.ID)
}

func TestValidateTokenExpired(t *testing.T) {
	e := newTestEnv(t)
	_, tok := grantRequest(t, e)

	e.store.Tokens[tok.RequestID].ExpiresAt = time.Now().UTC().Add(-time.Minute)

	_, _, err := e.tokenSvc.ValidateToken(context.Background(), tok.Value)
	require.ErrorIs(t, err, utils.ErrTokenExpired)
}

func TestValidateTokenRevokedBeforeExpired(t *testing.T) {
	e := newTestEnv(t)
	_, tok := grantRequest(t, e)

	// Revoked AND past its expiry: revocation wins.
	e.store.Tokens[tok.RequestID].ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, e.tokenSvc.Revoke(context.Background(), tok.RequestID))

	_, _, err := e.tokenSvc.ValidateToken(context.Background(), tok.Value)
	require.ErrorIs(t, err, utils.ErrTokenRevoked)
}

func TestValidateTokenRequestLeftGranted(t *testing.T) {
	e := newTestEnv(t)
	req, tok := grantRequest(t, e)

	// Sweep raced: token row untouched but the request moved to EXPIRED.
	e.store.Requests[req.ID].Status = models.RequestStatusExpired

	_, _, err := e.tokenSvc.ValidateToken(context.Background(), tok.Value)
	require.ErrorIs(t, err, utils.ErrTokenRevoked)
}

func TestRevokeIsRepeatable(t *testing.T) {
	e := newTestEnv(t)
	_, tok := grantRequest(t, e)

	require.NoError(t, e.tokenSvc.Revoke(context.Background(), tok.RequestID))
	firstAt := e.store.Tokens[tok.RequestID].RevokedAt
	require.NotNil(t, firstAt)

	require.NoError(t, e.tokenSvc.Revoke(context.Background(), tok.RequestID))
	require.Equal(t, firstAt, e.store.Tokens[tok.RequestID].RevokedAt)
}
