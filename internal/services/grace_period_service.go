package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/everkeep/legacy-access-service/internal/config"
	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/repositories"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

// GracePeriodService advances requests whose timers have run out. It holds
// no in-process timer state: every sweep is re-derived from persisted
// timestamps vs. the clock, so restarts, replays, and concurrent instances
// are all safe. The cron wiring lives in main.
type GracePeriodService struct {
	cfg        *config.Config
	reqRepo    repositories.LegacyAccessRequestRepository
	tokenSvc   *AccessTokenService
	accessSvc  *LegacyAccessService
	dispatcher NotificationDispatcher
}

func NewGracePeriodService(
	cfg *config.Config,
	reqRepo repositories.LegacyAccessRequestRepository,
	tokenSvc *AccessTokenService,
	accessSvc *LegacyAccessService,
	dispatcher NotificationDispatcher,
) *GracePeriodService {
	return &GracePeriodService{
		cfg:        cfg,
		reqRepo:    reqRepo,
		tokenSvc:   tokenSvc,
		accessSvc:  accessSvc,
		dispatcher: dispatcher,
	}
}

// SweepExpiredGracePeriods grants every request whose grace period has
// elapsed without an owner cancellation. Each grant is a conditional
// GRACE_PERIOD→GRANTED update: when two sweep instances race, exactly one
// wins and the loser's utils.ErrInvalidTransition is a silent skip. A second
// pass finishes grants whose token issuance failed on an earlier tick, so a
// crash between the status move and the email re-converges here.
func (s *GracePeriodService) SweepExpiredGracePeriods(ctx context.Context) ([]uuid.UUID, error) {
	now := time.Now().UTC()
	expired, err := s.reqRepo.ListGracePeriodExpired(ctx, now)
	if err != nil {
		return nil, err
	}

	var granted []uuid.UUID
	for _, req := range expired {
		accessExpiresAt := now.Add(s.cfg.AccessValidityDuration())
		updated, err := s.reqRepo.TransitionStatus(ctx, req.ID,
			[]models.AccessRequestStatusType{models.RequestStatusGracePeriod},
			models.RequestStatusGranted,
			repositories.StatusFields{
				StatusMessage:   msgGranted,
				AccessExpiresAt: &accessExpiresAt,
			},
		)
		if errors.Is(err, utils.ErrInvalidTransition) {
			// Cancelled, or another instance granted it first.
			continue
		}
		if err != nil {
			utils.Logger.WithError(err).Errorf("Grace-period grant failed for request %s", req.ID)
			continue
		}
		if s.finishGrant(ctx, updated) {
			granted = append(granted, req.ID)
		}
	}

	// Convergence pass: a GRANTED row without a token means an earlier grant
	// stopped between the status move and issuance. Issuance is idempotent,
	// so picking these up is safe to repeat.
	stranded, err := s.reqRepo.ListGrantedWithoutToken(ctx)
	if err != nil {
		return granted, err
	}
	for _, req := range stranded {
		if s.finishGrant(ctx, req) {
			granted = append(granted, req.ID)
		}
	}
	return granted, nil
}

// finishGrant mints the bearer token and emails the access link. Returns
// false when issuance failed; the request stays GRANTED without a token and
// the convergence pass retries it on a later tick.
func (s *GracePeriodService) finishGrant(ctx context.Context, req *models.LegacyAccessRequest) bool {
	tok, err := s.tokenSvc.IssueToken(ctx, req)
	if err != nil {
		utils.Logger.WithError(err).Errorf("Token issuance failed for granted request %s", req.ID)
		return false
	}
	utils.Logger.Infof("Request %s granted; access expires at %s", req.ID, tok.ExpiresAt)
	s.dispatcher.NotifyRequesterAccessGranted(ctx, req, s.accessSvc.AccessLink(tok.Value))
	return true
}

// SweepExpiredGrants retires granted requests whose access window has
// passed: GRANTED→EXPIRED plus token invalidation. Repeat runs are no-ops.
func (s *GracePeriodService) SweepExpiredGrants(ctx context.Context) error {
	now := time.Now().UTC()
	stale, err := s.reqRepo.ListGrantedExpired(ctx, now)
	if err != nil {
		return err
	}

	for _, req := range stale {
		_, err := s.reqRepo.TransitionStatus(ctx, req.ID,
			[]models.AccessRequestStatusType{models.RequestStatusGranted},
			models.RequestStatusExpired,
			repositories.StatusFields{StatusMessage: msgExpired},
		)
		if errors.Is(err, utils.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			utils.Logger.WithError(err).Errorf("Expiry sweep failed for request %s", req.ID)
			continue
		}
		if err := s.tokenSvc.Revoke(ctx, req.ID); err != nil {
			utils.Logger.WithError(err).Errorf("Token invalidation failed for expired request %s", req.ID)
		}
		utils.Logger.Infof("Request %s expired; access window closed", req.ID)
	}
	return nil
}
