package controllers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/everkeep/legacy-access-service/internal/dtos"
	"github.com/everkeep/legacy-access-service/internal/middleware"
	"github.com/everkeep/legacy-access-service/internal/services"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

// OwnerController serves the authenticated owner dashboard: listing
// requests against the owner's account, cancelling during the grace
// period, and revoking granted access.
type OwnerController struct {
	accessService *services.LegacyAccessService
}

func NewOwnerController(as *services.LegacyAccessService) *OwnerController {
	return &OwnerController{accessService: as}
}

// ----------------------------------------------------------------
// GET /api/v1/legacy-access/mine
// ----------------------------------------------------------------
func (c *OwnerController) ListMineHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, ok := ownerIDFromContext(w, r)
	if !ok {
		return
	}

	views, svcErr := c.accessService.ListOwnerRequests(ctx, ownerID)
	if svcErr != nil {
		utils.Logger.WithError(svcErr).Error("Failed to list owner requests")
		utils.HandleAppError(w, svcErr)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.StatusListResponse{
		Requests: toStatusDTOs(views),
	})
}

// ----------------------------------------------------------------
// POST /api/v1/legacy-access/{id}/cancel
// ----------------------------------------------------------------
func (c *OwnerController) CancelRequestHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, ok := ownerIDFromContext(w, r)
	if !ok {
		return
	}
	requestID, ok := requestIDFromPath(w, r)
	if !ok {
		return
	}

	req, svcErr := c.accessService.CancelRequest(ctx, ownerID, requestID)
	if svcErr != nil {
		if errors.Is(svcErr, utils.ErrNotFound) {
			utils.RespondErrorWithCode(
				w, http.StatusNotFound, utils.ErrCodeNotFound,
				"Request not found", nil, svcErr,
			)
			return
		}
		utils.Logger.WithError(svcErr).Error("Cancel request error")
		utils.HandleAppError(w, svcErr)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dtos.SubmitRequestResponse{
		RequestID:     req.ID,
		Status:        string(req.Status),
		StatusMessage: req.StatusMessage,
	})
}

// ----------------------------------------------------------------
// POST /api/v1/legacy-access/{id}/revoke
// ----------------------------------------------------------------
func (c *OwnerController) RevokeAccessHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, ok := ownerIDFromContext(w, r)
	if !ok {
		return
	}
	requestID, ok := requestIDFromPath(w, r)
	if !ok {
		return
	}

	req, svcErr := c.accessService.RevokeAccess(ctx, ownerID, requestID)
	if svcErr != nil {
		if errors.Is(svcErr, utils.ErrNotFound) {
			utils.RespondErrorWithCode(
				w, http.StatusNotFound, utils.ErrCodeNotFound,
				"Request not found", nil, svcErr,
			)
			return
		}
		utils.Logger.WithError(svcErr).Error("Revoke access error")
		utils.HandleAppError(w, svcErr)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dtos.SubmitRequestResponse{
		RequestID:     req.ID,
		Status:        string(req.Status),
		StatusMessage: req.StatusMessage,
	})
}

// ----------------------------------------------------------------
// helpers
// ----------------------------------------------------------------

func ownerIDFromContext(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	ctxUserID := r.Context().Value(middleware.ContextKeyUserID)
	if ctxUserID == nil {
		utils.RespondErrorWithCode(
			w, http.StatusUnauthorized, utils.ErrCodeUnauthorized,
			"No userID in context", nil, nil,
		)
		return uuid.Nil, false
	}
	ownerID, err := uuid.Parse(ctxUserID.(string))
	if err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusUnauthorized, utils.ErrCodeUnauthorized,
			"Invalid userID in context", nil, err,
		)
		return uuid.Nil, false
	}
	return ownerID, true
}

func requestIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := mux.Vars(r)["id"]
	requestID, err := uuid.Parse(idStr)
	if err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidPayload,
			"invalid request id", nil, err,
		)
		return uuid.Nil, false
	}
	return requestID, true
}
