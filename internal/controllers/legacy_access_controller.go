package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/everkeep/legacy-access-service/internal/dtos"
	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/services"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

// LegacyAccessController serves the public (unauthenticated) surface:
// requesters submitting and polling, trustees responding to confirm links,
// and bearer-token content retrieval.
type LegacyAccessController struct {
	accessService *services.LegacyAccessService
	validate      *validator.Validate
}

func NewLegacyAccessController(as *services.LegacyAccessService) *LegacyAccessController {
	return &LegacyAccessController{
		accessService: as,
		validate:      validator.New(),
	}
}

// ----------------------------------------------------------------
// POST /api/v1/legacy-access
// ----------------------------------------------------------------
func (c *LegacyAccessController) SubmitRequestHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body dtos.SubmitRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidPayload,
			"Invalid JSON for submit-request payload", nil, err,
		)
		return
	}
	if err := c.validate.Struct(body); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation,
			"Request validation failed", err.Error(), err,
		)
		return
	}

	req, svcErr := c.accessService.SubmitRequest(ctx, services.SubmitRequestInput{
		RequesterName:       body.RequesterName,
		RequesterEmail:      body.RequesterEmail,
		OwnerEmail:          body.OwnerEmail,
		Relationship:        body.Relationship,
		VerificationMethod:  models.VerificationMethodType(body.VerificationMethod),
		DeathCertificateURL: body.DeathCertificateURL,
	})
	if svcErr != nil {
		if errors.Is(svcErr, utils.ErrDuplicateActiveRequest) {
			utils.RespondErrorWithCode(
				w, http.StatusConflict, utils.ErrCodeDuplicateActiveRequest,
				"An active request for this account already exists", nil, svcErr,
			)
			return
		}
		utils.Logger.WithError(svcErr).Error("Submit legacy access request error")
		utils.HandleAppError(w, svcErr)
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, dtos.SubmitRequestResponse{
		RequestID:     req.ID,
		Status:        string(req.Status),
		StatusMessage: req.StatusMessage,
	})
}

// ----------------------------------------------------------------
// GET /api/v1/legacy-access/status?email=...
// ----------------------------------------------------------------
func (c *LegacyAccessController) StatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	email := r.URL.Query().Get("email")
	if email == "" {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidPayload,
			"email is a required query param", nil, nil,
		)
		return
	}
	if err := c.validate.Var(email, "required,email"); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation,
			"invalid email param", nil, err,
		)
		return
	}

	views, svcErr := c.accessService.StatusForEmail(ctx, email)
	if svcErr != nil {
		utils.Logger.WithError(svcErr).Error("Status lookup error")
		utils.HandleAppError(w, svcErr)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dtos.StatusListResponse{
		Requests: toStatusDTOs(views),
	})
}

// ----------------------------------------------------------------
// GET /api/v1/legacy-access/confirm-details?token=...
// ----------------------------------------------------------------
func (c *LegacyAccessController) ConfirmDetailsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidPayload,
			"token is a required query param", nil, nil,
		)
		return
	}

	details, svcErr := c.accessService.GetConfirmDetails(ctx, token)
	if svcErr != nil {
		if errors.Is(svcErr, utils.ErrTokenNotFound) || errors.Is(svcErr, utils.ErrInvalidOrUsedToken) {
			// Unknown and used tokens read the same so link values cannot be probed.
			utils.RespondErrorWithCode(
				w, http.StatusNotFound, utils.ErrCodeInvalidOrUsedToken,
				"This confirmation link is invalid or has already been used", nil, svcErr,
			)
			return
		}
		utils.Logger.WithError(svcErr).Error("Confirm details error")
		utils.HandleAppError(w, svcErr)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dtos.ConfirmDetailsResponse{
		RequestID:          details.Request.ID,
		RequesterName:      details.Request.RequesterName,
		Relationship:       details.Request.Relationship,
		VerificationMethod: string(details.Request.VerificationMethod),
		SubmittedAt:        details.Request.CreatedAt,
		Tally:              toTallyDTO(details.Tally),
	})
}

// ----------------------------------------------------------------
// POST /api/v1/legacy-access/confirm
// ----------------------------------------------------------------
func (c *LegacyAccessController) ConfirmActionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body dtos.ConfirmActionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidPayload,
			"Invalid JSON for confirm payload", nil, err,
		)
		return
	}
	if err := c.validate.Struct(body); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation,
			"Request validation failed", err.Error(), err,
		)
		return
	}

	action := models.ConfirmationConfirmed
	if body.Action == "deny" {
		action = models.ConfirmationDenied
	}

	outcome, svcErr := c.accessService.RecordTrusteeResponse(ctx, body.Token, action, body.Notes)
	if svcErr != nil {
		if errors.Is(svcErr, utils.ErrTokenNotFound) || errors.Is(svcErr, utils.ErrInvalidOrUsedToken) {
			utils.RespondErrorWithCode(
				w, http.StatusNotFound, utils.ErrCodeInvalidOrUsedToken,
				"This confirmation link is invalid or has already been used", nil, svcErr,
			)
			return
		}
		utils.Logger.WithError(svcErr).Error("Record trustee response error")
		utils.HandleAppError(w, svcErr)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dtos.ConfirmActionResponse{
		RequestID:     outcome.Request.ID,
		Action:        string(outcome.Confirmation.Action),
		RequestStatus: string(outcome.Request.Status),
		Tally:         toTallyDTO(outcome.Tally),
		Replayed:      outcome.Replayed,
	})
}

// ----------------------------------------------------------------
// GET /api/v1/legacy-access/content?token=...
// ----------------------------------------------------------------
func (c *LegacyAccessController) ContentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidPayload,
			"token is a required query param", nil, nil,
		)
		return
	}

	bundle, svcErr := c.accessService.FetchContent(ctx, token)
	if svcErr != nil {
		switch {
		case errors.Is(svcErr, utils.ErrTokenNotFound):
			utils.RespondErrorWithCode(
				w, http.StatusNotFound, utils.ErrCodeNotFound,
				"Access token not recognized", nil, svcErr,
			)
		case errors.Is(svcErr, utils.ErrTokenExpired):
			utils.RespondErrorWithCode(
				w, http.StatusForbidden, utils.ErrCodeAccessTokenExpired,
				"This access token has expired", nil, svcErr,
			)
		case errors.Is(svcErr, utils.ErrTokenRevoked):
			utils.RespondErrorWithCode(
				w, http.StatusForbidden, utils.ErrCodeAccessTokenRevoked,
				"This access token has been revoked", nil, svcErr,
			)
		default:
			utils.Logger.WithError(svcErr).Error("Fetch content error")
			utils.HandleAppError(w, svcErr)
		}
		return
	}

	items := make([]dtos.VaultItemDTO, 0, len(bundle.Items))
	for _, it := range bundle.Items {
		items = append(items, dtos.VaultItemDTO{
			ID:        it.ID,
			Category:  string(it.Category),
			Title:     it.Title,
			Content:   it.Content,
			CreatedAt: it.CreatedAt,
		})
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.ContentBundleResponse{
		RequestID:       bundle.Request.ID,
		AccessExpiresAt: bundle.Request.AccessExpiresAt,
		Items:           items,
	})
}

// ----------------------------------------------------------------
// shared DTO mapping
// ----------------------------------------------------------------

func toTallyDTO(t models.ConfirmationTally) dtos.TallyDTO {
	return dtos.TallyDTO{
		Confirmed: t.Confirmed,
		Denied:    t.Denied,
		Total:     t.Total,
	}
}

func toStatusDTOs(views []*services.RequestStatusView) []dtos.RequestStatusDTO {
	out := make([]dtos.RequestStatusDTO, 0, len(views))
	for _, v := range views {
		out = append(out, dtos.RequestStatusDTO{
			RequestID:      v.Request.ID,
			RequesterName:  v.Request.RequesterName,
			Relationship:   v.Request.Relationship,
			Status:         string(v.Request.Status),
			StatusMessage:  v.Request.StatusMessage,
			Tally:          toTallyDTO(v.Tally),
			GracePeriodEnd: v.Request.GracePeriodEnd,
			AccessLink:     v.AccessLink,
			CreatedAt:      v.Request.CreatedAt,
			UpdatedAt:      v.Request.UpdatedAt,
		})
	}
	return out
}
