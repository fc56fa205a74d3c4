package handlers

import (
	"errors"
	"net/http"

	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/logging"
	"github.com/tunr/backend/internal/middleware"
	"github.com/tunr/backend/internal/models"
	"github.com/tunr/backend/internal/services"
)

// IdentityHandler provisions anonymous identities and issues their tokens.
type IdentityHandler struct {
	identities  *services.IdentityService
	authService *services.AuthService
}

func NewIdentityHandler(identities *services.IdentityService, authService *services.AuthService) *IdentityHandler {
	return &IdentityHandler{identities: identities, authService: authService}
}

// Create provisions a new identity. The secret is only returned here; clients
// keep it to obtain fresh tokens later.
func (h *IdentityHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident, err := h.identities.Create(r.Context())
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to create identity", err)
		return
	}

	token, err := h.authService.GenerateToken(ident.ID)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to generate token", err)
		return
	}

	writeJSON(w, http.StatusCreated, models.CreateIdentityResponse{
		IdentityID:  ident.ID,
		DisplayName: ident.DisplayName,
		Secret:      ident.Secret,
		Token:       token,
	})
}

// Refresh exchanges an identity id and secret for a new token.
func (h *IdentityHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshIdentityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IdentityID == "" || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "identityId and secret are required")
		return
	}

	ident, err := h.identities.Verify(r.Context(), req.IdentityID, req.Secret)
	if errors.Is(err, services.ErrBadSecret) || errors.Is(err, engine.ErrNotFound) {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventBadIdentitySecret, "identity refresh rejected")
		writeError(w, http.StatusUnauthorized, "invalid identity or secret")
		return
	}
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to verify identity", err)
		return
	}

	token, err := h.authService.GenerateToken(ident.ID)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to generate token", err)
		return
	}
	writeJSON(w, http.StatusOK, models.TokenResponse{IdentityID: ident.ID, DisplayName: ident.DisplayName, Token: token})
}

// Me returns the caller's identity.
func (h *IdentityHandler) Me(w http.ResponseWriter, r *http.Request) {
	ident, err := h.identities.Get(r.Context(), middleware.IdentityID(r.Context()))
	if err != nil {
		writeStoreError(r.Context(), w, "identity", err)
		return
	}
	writeJSON(w, http.StatusOK, models.TokenResponse{IdentityID: ident.ID, DisplayName: ident.DisplayName})
}
