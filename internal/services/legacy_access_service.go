package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/everkeep/legacy-access-service/internal/config"
	"github.com/everkeep/legacy-access-service/internal/constants"
	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/repositories"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

// Requester-facing status messages, rewritten on each transition.
const (
	msgPendingTrustees = "Your request has been received. The designated trustees have been asked to confirm it."
	msgManualReview    = "Your request has been received and is being reviewed by our support team."
	msgUnderReview     = "Trustees are reviewing your request."
	msgGracePeriod     = "Trustees confirmed your request. A mandatory waiting period applies before access is released."
	msgRejected        = "The designated trustees declined your request."
	msgGranted         = "Access has been granted. Check your email for the access link."
	msgExpired         = "The access window for this request has ended."
	msgCancelled       = "The account owner cancelled this request."
	msgRevoked         = "The account owner revoked access for this request."
)

// LegacyAccessService is the workflow orchestrator: it owns every status
// transition, delegating persistence to the repositories and announcements
// to the dispatcher. Nothing else writes request statuses.
type LegacyAccessService struct {
	cfg         *config.Config
	reqRepo     repositories.LegacyAccessRequestRepository
	confRepo    repositories.TrusteeConfirmationRepository
	trusteeRepo repositories.TrusteeRepository
	ownerRepo   repositories.OwnerRepository
	vaultRepo   repositories.VaultItemRepository
	tokenSvc    *AccessTokenService
	certSvc     *CertificateReviewService
	dispatcher  NotificationDispatcher
}

func NewLegacyAccessService(
	cfg *config.Config,
	reqRepo repositories.LegacyAccessRequestRepository,
	confRepo repositories.TrusteeConfirmationRepository,
	trusteeRepo repositories.TrusteeRepository,
	ownerRepo repositories.OwnerRepository,
	vaultRepo repositories.VaultItemRepository,
	tokenSvc *AccessTokenService,
	certSvc *CertificateReviewService,
	dispatcher NotificationDispatcher,
) *LegacyAccessService {
	return &LegacyAccessService{
		cfg:         cfg,
		reqRepo:     reqRepo,
		confRepo:    confRepo,
		trusteeRepo: trusteeRepo,
		ownerRepo:   ownerRepo,
		vaultRepo:   vaultRepo,
		tokenSvc:    tokenSvc,
		certSvc:     certSvc,
		dispatcher:  dispatcher,
	}
}

/* ------------------------------------------------------------------
   Submission
------------------------------------------------------------------ */

type SubmitRequestInput struct {
	RequesterName       string
	RequesterEmail      string
	OwnerEmail          string
	Relationship        string
	VerificationMethod  models.VerificationMethodType
	DeathCertificateURL *string
}

// SubmitRequest creates the request and fans out trustee confirmations.
// The response is identical whether or not the owner identifier matched an
// account: unmatched (and trustee-less) submissions are held in PENDING for
// manual review instead of erroring, so the flow cannot be used to probe
// which emails have vaults.
func (s *LegacyAccessService) SubmitRequest(ctx context.Context, in SubmitRequestInput) (*models.LegacyAccessRequest, error) {
	owner, err := s.ownerRepo.GetByEmail(ctx, in.OwnerEmail)
	if err != nil {
		return nil, err
	}

	var trustees []*models.Trustee
	var ownerID *uuid.UUID
	if owner != nil {
		ownerID = &owner.ID
		trustees, err = s.trusteeRepo.ListVerifiedByOwner(ctx, owner.ID)
		if err != nil {
			return nil, err
		}
	}

	req := &models.LegacyAccessRequest{
		ID:                  uuid.New(),
		OwnerID:             ownerID,
		RequesterName:       in.RequesterName,
		RequesterEmail:      in.RequesterEmail,
		Relationship:        in.Relationship,
		VerificationMethod:  in.VerificationMethod,
		DeathCertificateURL: in.DeathCertificateURL,
		Status:              models.RequestStatusPending,
		StatusMessage:       msgPendingTrustees,
		TrusteeTotal:        len(trustees),
	}
	if len(trustees) == 0 {
		// NoTrustees edge: nothing to fan out to, so the request is held in
		// PENDING on the manual-review path rather than silently dropped.
		req.StatusMessage = msgManualReview
	}

	if err := s.reqRepo.Create(ctx, req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	if len(trustees) == 0 {
		utils.Logger.Warnf("Request %s has no verified trustees; held for manual review", req.ID)
		s.certSvc.ReviewForManualQueue(ctx, req)
		if owner != nil {
			s.dispatcher.NotifyOwnerOfRequest(ctx, owner, req)
		}
		return req, nil
	}

	confirmations, err := s.confRepo.FanOut(ctx, req.ID, trustees)
	if err != nil {
		// The request row exists; trustees just were not asked yet. Leave it
		// PENDING and let support re-trigger the fan-out.
		utils.Logger.WithError(err).Errorf("Trustee fan-out failed for request %s", req.ID)
		return req, nil
	}

	s.dispatcher.NotifyTrusteesOfRequest(ctx, req, trustees, confirmations)
	s.dispatcher.NotifyOwnerOfRequest(ctx, owner, req)
	return req, nil
}

/* ------------------------------------------------------------------
   Trustee responses
------------------------------------------------------------------ */

// ConfirmDetails is the request summary shown to a trustee following their
// confirm link.
type ConfirmDetails struct {
	Request      *models.LegacyAccessRequest
	Confirmation *models.TrusteeConfirmation
	Tally        models.ConfirmationTally
}

// GetConfirmDetails resolves an unused trustee token to a request summary.
func (s *LegacyAccessService) GetConfirmDetails(ctx context.Context, token string) (*ConfirmDetails, error) {
	conf, err := s.confRepo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if conf.RespondedAt != nil {
		return nil, utils.ErrInvalidOrUsedToken
	}
	if time.Since(conf.CreatedAt) > constants.ConfirmationTokenTTL {
		return nil, utils.ErrInvalidOrUsedToken
	}

	req, err := s.reqRepo.GetByID(ctx, conf.RequestID)
	if err != nil {
		return nil, err
	}
	tally, err := s.confRepo.Tally(ctx, conf.RequestID)
	if err != nil {
		return nil, err
	}
	return &ConfirmDetails{Request: req, Confirmation: conf, Tally: tally}, nil
}

// RecordTrusteeResponse is the sole entry point that can move a request
// through the trustee-review stage. The ballot write and the quorum
// re-evaluation run in one transaction (repositories.RespondAndTally);
// notifications fire only after that transaction commits.
func (s *LegacyAccessService) RecordTrusteeResponse(
	ctx context.Context,
	token string,
	action models.ConfirmationActionType,
	notes *string,
) (*repositories.RespondOutcome, error) {
	if action != models.ConfirmationConfirmed && action != models.ConfirmationDenied {
		return nil, utils.ErrInvalidOrUsedToken
	}

	outcome, err := s.confRepo.RespondAndTally(ctx, token, action, notes, s.decideAfterResponse)
	if err != nil {
		return nil, err
	}

	if outcome.Transitioned {
		req := outcome.Request
		switch req.Status {
		case models.RequestStatusGracePeriod:
			s.dispatcher.NotifyRequesterGracePeriodStarted(ctx, req)
			s.notifyOwnerByID(ctx, req)
		case models.RequestStatusRejected:
			s.dispatcher.NotifyRequesterRejected(ctx, req)
		}
	}
	return outcome, nil
}

// decideAfterResponse is the quorum policy, evaluated inside the respond
// transaction with the request row locked:
//   - confirmed >= floor(total/2)+1           => GRACE_PERIOD
//   - confirmed majority no longer reachable  => REJECTED
//   - first response on a PENDING request     => UNDER_REVIEW
// Requests already past review (grace period, terminal) still accept the
// ballot for the ledger but never move.
func (s *LegacyAccessService) decideAfterResponse(
	req *models.LegacyAccessRequest,
	tally models.ConfirmationTally,
) *repositories.TransitionVerdict {
	switch req.Status {
	case models.RequestStatusPending, models.RequestStatusUnderReview:
	default:
		return nil
	}

	if tally.ConfirmMajorityReached() {
		end := time.Now().UTC().Add(s.cfg.GracePeriodDuration())
		return &repositories.TransitionVerdict{
			NewStatus:      models.RequestStatusGracePeriod,
			StatusMessage:  msgGracePeriod,
			GracePeriodEnd: &end,
		}
	}
	if tally.ConfirmMajorityImpossible() {
		return &repositories.TransitionVerdict{
			NewStatus:     models.RequestStatusRejected,
			StatusMessage: msgRejected,
		}
	}
	if req.Status == models.RequestStatusPending {
		return &repositories.TransitionVerdict{
			NewStatus:     models.RequestStatusUnderReview,
			StatusMessage: msgUnderReview,
		}
	}
	return nil
}

/* ------------------------------------------------------------------
   Requester status
------------------------------------------------------------------ */

// RequestStatusView is one request as the requester is allowed to see it.
type RequestStatusView struct {
	Request    *models.LegacyAccessRequest
	Tally      models.ConfirmationTally
	AccessLink string
}

// StatusForEmail returns every request a requester email has filed.
func (s *LegacyAccessService) StatusForEmail(ctx context.Context, email string) ([]*RequestStatusView, error) {
	reqs, err := s.reqRepo.ListByRequesterEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	out := make([]*RequestStatusView, 0, len(reqs))
	for _, req := range reqs {
		view := &RequestStatusView{Request: req}
		view.Tally, err = s.confRepo.Tally(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if req.Status == models.RequestStatusGranted {
			tok, tErr := s.tokenSvc.tokenRepo.GetByRequestID(ctx, req.ID)
			if tErr == nil && !tok.Revoked {
				view.AccessLink = s.AccessLink(tok.Value)
			} else if tErr != nil && !errors.Is(tErr, utils.ErrTokenNotFound) {
				return nil, tErr
			}
		}
		out = append(out, view)
	}
	return out, nil
}

// AccessLink builds the content-retrieval link for a bearer token value.
func (s *LegacyAccessService) AccessLink(tokenValue string) string {
	return fmt.Sprintf("%s/legacy-access/unlock?token=%s", s.cfg.AppUrl, tokenValue)
}

/* ------------------------------------------------------------------
   Owner-side operations
------------------------------------------------------------------ */

// ListOwnerRequests returns every inbound request against the owner's vault.
func (s *LegacyAccessService) ListOwnerRequests(ctx context.Context, ownerID uuid.UUID) ([]*RequestStatusView, error) {
	reqs, err := s.reqRepo.ListByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]*RequestStatusView, 0, len(reqs))
	for _, req := range reqs {
		view := &RequestStatusView{Request: req}
		view.Tally, err = s.confRepo.Tally(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

// CancelRequest lets the owner stop a request during the grace period.
// A request that already left GRACE_PERIOD makes this a logged no-op: the
// caller sees current state, not an error, so replayed clicks and races with
// the sweep stay invisible to the user.
func (s *LegacyAccessService) CancelRequest(ctx context.Context, ownerID, requestID uuid.UUID) (*models.LegacyAccessRequest, error) {
	req, err := s.ownedRequest(ctx, ownerID, requestID)
	if err != nil {
		return nil, err
	}

	updated, err := s.reqRepo.TransitionStatus(ctx, requestID,
		[]models.AccessRequestStatusType{models.RequestStatusGracePeriod},
		models.RequestStatusCancelled,
		repositories.StatusFields{StatusMessage: msgCancelled},
	)
	if errors.Is(err, utils.ErrInvalidTransition) {
		utils.Logger.Warnf("Cancel on request %s ignored: status is %s", requestID, req.Status)
		return req, nil
	}
	if err != nil {
		return nil, err
	}

	s.dispatcher.NotifyRequesterCancelled(ctx, updated)
	return updated, nil
}

// RevokeAccess is the owner's hard stop after a grant: the request moves to
// REVOKED and the bearer token dies immediately. Grant is not irrevocable.
func (s *LegacyAccessService) RevokeAccess(ctx context.Context, ownerID, requestID uuid.UUID) (*models.LegacyAccessRequest, error) {
	req, err := s.ownedRequest(ctx, ownerID, requestID)
	if err != nil {
		return nil, err
	}

	updated, err := s.reqRepo.TransitionStatus(ctx, requestID,
		[]models.AccessRequestStatusType{models.RequestStatusGranted},
		models.RequestStatusRevoked,
		repositories.StatusFields{StatusMessage: msgRevoked},
	)
	if errors.Is(err, utils.ErrInvalidTransition) {
		utils.Logger.Warnf("Revoke on request %s ignored: status is %s", requestID, req.Status)
		return req, nil
	}
	if err != nil {
		return nil, err
	}

	// Token invalidation must never be skipped once the status moved.
	if err := s.tokenSvc.Revoke(ctx, requestID); err != nil {
		utils.Logger.WithError(err).Errorf("Failed to revoke access token for request %s", requestID)
		return nil, err
	}
	return updated, nil
}

// ownedRequest loads a request and enforces ownership. A mismatch reads as
// not_found: owners must not learn about requests on other accounts, and
// requesters must not learn which IDs exist.
func (s *LegacyAccessService) ownedRequest(ctx context.Context, ownerID, requestID uuid.UUID) (*models.LegacyAccessRequest, error) {
	req, err := s.reqRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID == nil || *req.OwnerID != ownerID {
		return nil, utils.ErrNotFound
	}
	return req, nil
}

/* ------------------------------------------------------------------
   Content retrieval
------------------------------------------------------------------ */

// ContentBundle is what a valid access token unlocks.
type ContentBundle struct {
	Request *models.LegacyAccessRequest
	Items   []*models.VaultItem
}

// FetchContent validates the bearer token and returns the decrypted vault
// bundle. Revoked and expired tokens surface as such; the vault is never
// touched for an invalid token.
func (s *LegacyAccessService) FetchContent(ctx context.Context, tokenValue string) (*ContentBundle, error) {
	_, req, err := s.tokenSvc.ValidateToken(ctx, tokenValue)
	if err != nil {
		return nil, err
	}
	if req.OwnerID == nil {
		// Granted requests always carry an owner; this is a data bug.
		return nil, &utils.AppError{
			StatusCode: http.StatusInternalServerError,
			Code:       utils.ErrCodeInternal,
			Message:    "Vault owner record is missing for this request",
		}
	}

	items, err := s.vaultRepo.ListByOwner(ctx, *req.OwnerID)
	if err != nil {
		return nil, err
	}
	return &ContentBundle{Request: req, Items: items}, nil
}

func (s *LegacyAccessService) notifyOwnerByID(ctx context.Context, req *models.LegacyAccessRequest) {
	if req.OwnerID == nil {
		return
	}
	owner, err := s.ownerRepo.GetByID(ctx, *req.OwnerID)
	if err != nil {
		utils.Logger.WithError(err).Warnf("Could not load owner %s for notification", req.OwnerID)
		return
	}
	s.dispatcher.NotifyOwnerOfRequest(ctx, owner, req)
}
