package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/legacy-access-service/internal/dtos"
	"github.com/everkeep/legacy-access-service/internal/middleware"
	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/routes"
	"github.com/everkeep/legacy-access-service/internal/testhelpers"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

// authedRequest builds a request carrying an authenticated owner ID, the way
// AuthMiddleware would after validating the JWT.
func authedRequest(method, target, userID string, vars map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := context.WithValue(req.Context(), middleware.ContextKeyUserID, userID)
	req = req.WithContext(ctx)
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func TestListMineHandler(t *testing.T) {
	e := newControllerEnv(t)
	owner := e.seedOwnerWithTrustees(3)
	ownerCtrl := NewOwnerController(e.svc)

	w := postJSON(t, e.controller.SubmitRequestHandler, routes.LegacyAccessBase, submitPayload(owner.Email))
	require.Equal(t, http.StatusCreated, w.Code)

	w2 := httptest.NewRecorder()
	ownerCtrl.ListMineHandler(w2, authedRequest(http.MethodGet, routes.LegacyAccessMine, owner.ID.String(), nil))
	require.Equal(t, http.StatusOK, w2.Code)

	var list dtos.StatusListResponse
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &list))
	require.Len(t, list.Requests, 1)
	require.Equal(t, "Sam Reed", list.Requests[0].RequesterName)
}

func TestListMineHandlerRequiresAuth(t *testing.T) {
	e := newControllerEnv(t)
	ownerCtrl := NewOwnerController(e.svc)

	req := httptest.NewRequest(http.MethodGet, routes.LegacyAccessMine, nil)
	w := httptest.NewRecorder()
	ownerCtrl.ListMineHandler(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCancelRequestHandler(t *testing.T) {
	e := newControllerEnv(t)
	owner := e.seedOwnerWithTrustees(3)
	ownerCtrl := NewOwnerController(e.svc)

	w := postJSON(t, e.controller.SubmitRequestHandler, routes.LegacyAccessBase, submitPayload(owner.Email))
	require.Equal(t, http.StatusCreated, w.Code)
	var created dtos.SubmitRequestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	confs, err := testhelpers.NewMemoryConfirmationRepo(e.store).ListByRequestID(context.Background(), created.RequestID)
	require.NoError(t, err)
	for _, c := range confs[:2] {
		wc := postJSON(t, e.controller.ConfirmActionHandler, routes.LegacyAccessConfirm, dtos.ConfirmActionRequest{
			Token:  c.Token,
			Action: "confirm",
		})
		require.Equal(t, http.StatusOK, wc.Code)
	}

	w2 := httptest.NewRecorder()
	ownerCtrl.CancelRequestHandler(w2, authedRequest(
		http.MethodPost, "/api/v1/legacy-access/"+created.RequestID.String()+"/cancel",
		owner.ID.String(), map[string]string{"id": created.RequestID.String()},
	))
	require.Equal(t, http.StatusOK, w2.Code)

	var resp dtos.SubmitRequestResponse
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp))
	require.Equal(t, string(models.RequestStatusCancelled), resp.Status)
}

func TestCancelRequestHandlerForeignOwner(t *testing.T) {
	e := newControllerEnv(t)
	owner := e.seedOwnerWithTrustees(3)
	stranger := e.store.SeedOwner("Other", "other@example.com", nil)
	ownerCtrl := NewOwnerController(e.svc)

	w := postJSON(t, e.controller.SubmitRequestHandler, routes.LegacyAccessBase, submitPayload(owner.Email))
	require.Equal(t, http.StatusCreated, w.Code)
	var created dtos.SubmitRequestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w2 := httptest.NewRecorder()
	ownerCtrl.CancelRequestHandler(w2, authedRequest(
		http.MethodPost, "/api/v1/legacy-access/"+created.RequestID.String()+"/cancel",
		stranger.ID.String(), map[string]string{"id": created.RequestID.String()},
	))
	require.Equal(t, http.StatusNotFound, w2.Code)

	var errResp utils.ErrorResponse
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &errResp))
	require.Equal(t, utils.ErrCodeNotFound, errResp.Code)
}

func TestCancelRequestHandlerBadID(t *testing.T) {
	e := newControllerEnv(t)
	ownerCtrl := NewOwnerController(e.svc)

	w := httptest.NewRecorder()
	ownerCtrl.CancelRequestHandler(w, authedRequest(
		http.MethodPost, "/api/v1/legacy-access/nope/cancel",
		uuid.NewString(), map[string]string{"id": "nope"},
	))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRevokeAccessHandler(t *testing.T) {
	e := newControllerEnv(t)
	ownerCtrl := NewOwnerController(e.svc)

	tokValue := grantThroughHandlers(t, e)

	// Find the granted request and its owner.
	var requestID uuid.UUID
	var ownerID uuid.UUID
	for id, req := range e.store.Requests {
		if req.Status == models.RequestStatusGranted {
			requestID = id
			ownerID = *req.OwnerID
		}
	}
	require.NotEqual(t, uuid.Nil, requestID)

	w := httptest.NewRecorder()
	ownerCtrl.RevokeAccessHandler(w, authedRequest(
		http.MethodPost, "/api/v1/legacy-access/"+requestID.String()+"/revoke",
		ownerID.String(), map[string]string{"id": requestID.String()},
	))
	require.Equal(t, http.StatusOK, w.Code)

	var resp dtos.SubmitRequestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, string(models.RequestStatusRevoked), resp.Status)

	// The bearer token is dead immediately.
	w2 := getURL(e.controller.ContentHandler, routes.LegacyAccessContent+"?token="+tokValue)
	require.Equal(t, http.StatusForbidden, w2.Code)
	var errResp utils.ErrorResponse
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &errResp))
	require.Equal(t, utils.ErrCodeAccessTokenRevoked, errResp.Code)

	// Revoking again is a logged no-op, not an error.
	w3 := httptest.NewRecorder()
	ownerCtrl.RevokeAccessHandler(w3, authedRequest(
		http.MethodPost, "/api/v1/legacy-access/"+requestID.String()+"/revoke",
		ownerID.String(), map[string]string{"id": requestID.String()},
	))
	require.Equal(t, http.StatusOK, w3.Code)
}
