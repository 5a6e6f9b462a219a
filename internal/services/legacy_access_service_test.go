package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/legacy-access-service/internal/config"
	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/testhelpers"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

func init() {
	utils.InitLogger("legacy-access-service-test")
}

type testEnv struct {
	store      *testhelpers.MemoryStore
	dispatcher *testhelpers.RecordingDispatcher
	tokenSvc   *AccessTokenService
	svc        *LegacyAccessService
	graceSvc   *GracePeriodService
	cfg        *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := testhelpers.NewMemoryStore()
	dispatcher := testhelpers.NewRecordingDispatcher()
	cfg := &config.Config{
		AppUrl:                    "https://app.everkeep.test",
		LDFlag_GracePeriodDays:    7,
		LDFlag_AccessValidityDays: 30,
	}

	reqRepo := testhelpers.NewMemoryRequestRepo(store)
	confRepo := testhelpers.NewMemoryConfirmationRepo(store)
	trusteeRepo := testhelpers.NewMemoryTrusteeRepo(store)
	ownerRepo := testhelpers.NewMemoryOwnerRepo(store)
	vaultRepo := testhelpers.NewMemoryVaultRepo(store)
	tokenRepo := testhelpers.NewMemoryTokenRepo(store)

	tokenSvc := NewAccessTokenService(tokenRepo, reqRepo)
	certSvc := NewCertificateReviewService("")

	svc := NewLegacyAccessService(
		cfg, reqRepo, confRepo, trusteeRepo, ownerRepo, vaultRepo,
		tokenSvc, certSvc, dispatcher,
	)
	graceSvc := NewGracePeriodService(cfg, reqRepo, tokenSvc, svc, dispatcher)

	return &testEnv{
		store:      store,
		dispatcher: dispatcher,
		tokenSvc:   tokenSvc,
		svc:        svc,
		graceSvc:   graceSvc,
		cfg:        cfg,
	}
}

// seedOwnerWithTrustees creates an owner with n verified trustees.
func (e *testEnv) seedOwnerWithTrustees(n int) (*models.Owner, []*models.Trustee) {
	owner := e.store.SeedOwner("Dana Keen", "dana@example.com", nil)
	trustees := make([]*models.Trustee, 0, n)
	for i := 0; i < n; i++ {
		tr := e.store.SeedTrustee(owner.ID, "Trustee", uuid.NewString()+"@example.com", true)
		trustees = append(trustees, tr)
	}
	return owner, trustees
}

func (e *testEnv) submit(t *testing.T, ownerEmail string) *models.LegacyAccessRequest {
	t.Helper()
	req, err := e.svc.SubmitRequest(context.Background(), SubmitRequestInput{
		RequesterName:      "Sam Reed",
		RequesterEmail:     "sam@example.com",
		OwnerEmail:         ownerEmail,
		Relationship:       "sibling",
		VerificationMethod: models.VerificationTrusteeConfirmation,
	})
	require.NoError(t, err)
	return req
}

// tokensForRequest returns the confirm tokens minted at fan-out.
func (e *testEnv) tokensForRequest(t *testing.T, requestID uuid.UUID) []string {
	t.Helper()
	confRepo := testhelpers.NewMemoryConfirmationRepo(e.store)
	confs, err := confRepo.ListByRequestID(context.Background(), requestID)
	require.NoError(t, err)
	tokens := make([]string, 0, len(confs))
	for _, c := range confs {
		tokens = append(tokens, c.Token)
	}
	return tokens
}

/* ------------------------------------------------------------------
   Submission
------------------------------------------------------------------ */

func TestSubmitRequestFansOutToVerifiedTrustees(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	// An unverified trustee never joins the quorum.
	e.store.SeedTrustee(owner.ID, "Unverified", "uv@example.com", false)

	req := e.submit(t, owner.Email)

	require.Equal(t, models.RequestStatusPending, req.Status)
	require.Equal(t, 3, req.TrusteeTotal)
	require.Len(t, e.tokensForRequest(t, req.ID), 3)
	require.Equal(t, 1, e.dispatcher.CountKind(testhelpers.NotifTrusteesOfRequest))
	require.Equal(t, 1, e.dispatcher.CountKind(testhelpers.NotifOwnerOfRequest))
}

func TestSubmitRequestDuplicateActiveRejected(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(2)

	e.submit(t, owner.Email)

	_, err := e.svc.SubmitRequest(context.Background(), SubmitRequestInput{
		RequesterName:      "Sam Reed",
		RequesterEmail:     "sam@example.com",
		OwnerEmail:         owner.Email,
		Relationship:       "sibling",
		VerificationMethod: models.VerificationTrusteeConfirmation,
	})
	require.ErrorIs(t, err, utils.ErrDuplicateActiveRequest)
}

func TestSubmitRequestUnknownOwnerHeldForReview(t *testing.T) {
	e := newTestEnv(t)

	req := e.submit(t, "nobody@example.com")

	// The response shape is identical to a known-owner submit; the request
	// just sits in PENDING with no trustee fan-out.
	require.Equal(t, models.RequestStatusPending, req.Status)
	require.Nil(t, req.OwnerID)
	require.Equal(t, 0, req.TrusteeTotal)
	require.Empty(t, e.tokensForRequest(t, req.ID))
	require.Equal(t, 0, e.dispatcher.CountKind(testhelpers.NotifTrusteesOfRequest))
}

func TestSubmitRequestOwnerWithoutTrusteesHeldForReview(t *testing.T) {
	e := newTestEnv(t)
	owner := e.store.SeedOwner("No Trustees", "nt@example.com", nil)

	req := e.submit(t, owner.Email)

	require.Equal(t, models.RequestStatusPending, req.Status)
	require.NotNil(t, req.OwnerID)
	require.Equal(t, 0, req.TrusteeTotal)
	// The owner still hears about it.
	require.Equal(t, 1, e.dispatcher.CountKind(testhelpers.NotifOwnerOfRequest))
}

/* ------------------------------------------------------------------
   Trustee responses / quorum
------------------------------------------------------------------ */

func TestQuorumTwoOfThreeConfirmsStartsGracePeriod(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	req := e.submit(t, owner.Email)
	tokens := e.tokensForRequest(t, req.ID)

	out1, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[0], models.ConfirmationConfirmed, nil)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusUnderReview, out1.Request.Status)
	require.True(t, out1.Transitioned)

	out2, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[1], models.ConfirmationConfirmed, nil)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusGracePeriod, out2.Request.Status)
	require.NotNil(t, out2.Request.GracePeriodEnd)

	wantEnd := time.Now().UTC().Add(e.cfg.GracePeriodDuration())
	require.WithinDuration(t, wantEnd, *out2.Request.GracePeriodEnd, time.Minute)

	require.Equal(t, 1, e.dispatcher.CountKind(testhelpers.NotifGracePeriodStarted))
}

func TestSingleDenialOfThreeDoesNotReject(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	req := e.submit(t, owner.Email)
	tokens := e.tokensForRequest(t, req.ID)

	out, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[0], models.ConfirmationDenied, nil)
	require.NoError(t, err)
	// Two trustees remain; confirmation majority is still reachable.
	require.Equal(t, models.RequestStatusUnderReview, out.Request.Status)
	require.Equal(t, 0, e.dispatcher.CountKind(testhelpers.NotifRejected))
}

func TestTwoDenialsOfThreeRejects(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	req := e.submit(t, owner.Email)
	tokens := e.tokensForRequest(t, req.ID)

	_, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[0], models.ConfirmationDenied, nil)
	require.NoError(t, err)

	out, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[1], models.ConfirmationDenied, nil)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusRejected, out.Request.Status)
	require.Equal(t, 1, e.dispatcher.CountKind(testhelpers.NotifRejected))
}

func TestSingleDenialOfTwoRejects(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(2)
	req := e.submit(t, owner.Email)
	tokens := e.tokensForRequest(t, req.ID)

	// Majority is 2-of-2: one denial already makes it unreachable.
	out, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[0], models.ConfirmationDenied, nil)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusRejected, out.Request.Status)
}

func TestSoleTrusteeConfirmDecidesImmediately(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(1)
	req := e.submit(t, owner.Email)
	tokens := e.tokensForRequest(t, req.ID)

	out, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[0], models.ConfirmationConfirmed, nil)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusGracePeriod, out.Request.Status)
}

func TestTokenReplaySameActionIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	req := e.submit(t, owner.Email)
	tokens := e.tokensForRequest(t, req.ID)

	first, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[0], models.ConfirmationConfirmed, nil)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	replay, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[0], models.ConfirmationConfirmed, nil)
	require.NoError(t, err)
	require.True(t, replay.Replayed)
	require.Equal(t, first.Tally, replay.Tally)
	require.Equal(t, first.Request.Status, replay.Request.Status)
}

func TestTokenReplayDifferentActionRejected(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	req := e.submit(t, owner.Email)
	tokens := e.tokensForRequest(t, req.ID)

	_, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[0], models.ConfirmationConfirmed, nil)
	require.NoError(t, err)

	_, err = e.svc.RecordTrusteeResponse(context.Background(), tokens[0], models.ConfirmationDenied, nil)
	require.ErrorIs(t, err, utils.ErrInvalidOrUsedToken)
}

func TestUnknownTokenRejected(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.svc.RecordTrusteeResponse(context.Background(), "no-such-token", models.ConfirmationConfirmed, nil)
	require.ErrorIs(t, err, utils.ErrInvalidOrUsedToken)
}

func TestLateResponsesAfterQuorumAreRecordedButDoNotMove(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	req := e.submit(t, owner.Email)
	tokens := e.tokensForRequest(t, req.ID)

	_, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[0], models.ConfirmationConfirmed, nil)
	require.NoError(t, err)
	_, err = e.svc.RecordTrusteeResponse(context.Background(), tokens[1], models.ConfirmationConfirmed, nil)
	require.NoError(t, err)

	// The third trustee's denial lands in the ledger; the grace period stands.
	out, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[2], models.ConfirmationDenied, nil)
	require.NoError(t, err)
	require.False(t, out.Transitioned)
	require.Equal(t, models.RequestStatusGracePeriod, out.Request.Status)
	require.Equal(t, 1, out.Tally.Denied)
}

/* ------------------------------------------------------------------
   Confirm details
------------------------------------------------------------------ */

func TestGetConfirmDetails(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	req := e.submit(t, owner.Email)
	tokens := e.tokensForRequest(t, req.ID)

	details, err := e.svc.GetConfirmDetails(context.Background(), tokens[0])
	require.NoError(t, err)
	require.Equal(t, req.ID, details.Request.ID)
	require.Equal(t, "Sam Reed", details.Request.RequesterName)
	require.Equal(t, 3, details.Tally.Total)
}

func TestGetConfirmDetailsUsedToken(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	req := e.submit(t, owner.Email)
	tokens := e.tokensForRequest(t, req.ID)

	_, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[0], models.ConfirmationConfirmed, nil)
	require.NoError(t, err)

	_, err = e.svc.GetConfirmDetails(context.Background(), tokens[0])
	require.ErrorIs(t, err, utils.ErrInvalidOrUsedToken)
}

/* ------------------------------------------------------------------
   Requester status
------------------------------------------------------------------ */

func TestStatusForEmail(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	req := e.submit(t, owner.Email)
	tokens := e.tokensForRequest(t, req.ID)

	_, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[0], models.ConfirmationConfirmed, nil)
	require.NoError(t, err)

	views, err := e.svc.StatusForEmail(context.Background(), "sam@example.com")
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, models.RequestStatusUnderReview, views[0].Request.Status)
	require.Equal(t, 1, views[0].Tally.Confirmed)
	require.Empty(t, views[0].AccessLink)

	none, err := e.svc.StatusForEmail(context.Background(), "stranger@example.com")
	require.NoError(t, err)
	require.Empty(t, none)
}

/* ------------------------------------------------------------------
   Owner controls
------------------------------------------------------------------ */

// driveToGracePeriod confirms a quorum of trustees.
func driveToGracePeriod(t *testing.T, e *testEnv, req *models.LegacyAccessRequest) {
	t.Helper()
	tokens := e.tokensForRequest(t, req.ID)
	need := len(tokens)/2 + 1
	for i := 0; i < need; i++ {
		_, err := e.svc.RecordTrusteeResponse(context.Background(), tokens[i], models.ConfirmationConfirmed, nil)
		require.NoError(t, err)
	}
}

func TestOwnerCancelDuringGracePeriod(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	req := e.submit(t, owner.Email)
	driveToGracePeriod(t, e, req)

	updated, err := e.svc.CancelRequest(context.Background(), owner.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusCancelled, updated.Status)
	require.Equal(t, 1, e.dispatcher.CountKind(testhelpers.NotifCancelled))
}

func TestOwnerCancelOutsideGracePeriodIsNoOp(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	req := e.submit(t, owner.Email)

	// Still PENDING: nothing to cancel, current state comes back unchanged.
	updated, err := e.svc.CancelRequest(context.Background(), owner.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusPending, updated.Status)
	require.Equal(t, 0, e.dispatcher.CountKind(testhelpers.NotifCancelled))
}

func TestOwnerCannotTouchForeignRequest(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	stranger := e.store.SeedOwner("Other", "other@example.com", nil)
	req := e.submit(t, owner.Email)
	driveToGracePeriod(t, e, req)

	_, err := e.svc.CancelRequest(context.Background(), stranger.ID, req.ID)
	require.ErrorIs(t, err, utils.ErrNotFound)

	_, err = e.svc.RevokeAccess(context.Background(), stranger.ID, req.ID)
	require.ErrorIs(t, err, utils.ErrNotFound)
}

func TestOwnerRevokeAfterGrantKillsToken(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	req := e.submit(t, owner.Email)
	driveToGracePeriod(t, e, req)

	// Force the grace period into the past and run the sweep to grant.
	e.store.Requests[req.ID].GracePeriodEnd = timePtr(time.Now().UTC().Add(-time.Hour))
	granted, err := e.graceSvc.SweepExpiredGracePeriods(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{req.ID}, granted)

	updated, err := e.svc.RevokeAccess(context.Background(), owner.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusRevoked, updated.Status)

	tok := e.store.Tokens[req.ID]
	require.NotNil(t, tok)
	require.True(t, tok.Revoked)

	_, err = e.svc.FetchContent(context.Background(), tok.Value)
	require.ErrorIs(t, err, utils.ErrTokenRevoked)
}

/* ------------------------------------------------------------------
   Content retrieval
------------------------------------------------------------------ */

func TestFetchContentWithValidToken(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.seedOwnerWithTrustees(3)
	e.store.SeedVaultItem(owner.ID, models.VaultCategoryFinance, "Bank login", "hunter2")
	e.store.SeedVaultItem(owner.ID, models.VaultCategoryLetter, "Letter", "Dear family...")

	req := e.submit(t, owner.Email)
	driveToGracePeriod(t, e, req)
	e.store.Requests[req.ID].GracePeriodEnd = timePtr(time.Now().UTC().Add(-time.Hour))
	_, err := e.graceSvc.SweepExpiredGracePeriods(context.Background())
	require.NoError(t, err)

	tok := e.store.Tokens[req.ID]
	require.NotNil(t, tok)

	bundle, err := e.svc.FetchContent(context.Background(), tok.Value)
	require.NoError(t, err)
	require.Equal(t, req.ID, bundle.Request.ID)
	require.Len(t, bundle.Items, 2)

	// The granted-access email carries the same link the status view builds.
	granted := e.dispatcher.LastOfKind(testhelpers.NotifAccessGranted)
	require.NotNil(t, granted)
	require.Equal(t, e.svc.AccessLink(tok.Value), granted.AccessLink)
}

func TestFetchContentUnknownToken(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.svc.FetchContent(context.Background(), "bogus")
	require.ErrorIs(t, err, utils.ErrTokenNotFound)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
