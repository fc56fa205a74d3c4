package handlers

import (
	"errors"
	"net/http"

	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/logging"
	"github.com/tunr/backend/internal/middleware"
	"github.com/tunr/backend/internal/models"
	"github.com/tunr/backend/internal/store"
)

// RoomHandler registers rooms and reports their owners.
type RoomHandler struct {
	store *store.Store
}

func NewRoomHandler(s *store.Store) *RoomHandler {
	return &RoomHandler{store: s}
}

// Create registers the requested code to the caller. A taken code is a 409
// with code "code_taken"; the client picks another or adopts the room.
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	code, err := engine.NormalizeRoomCode(req.Code)
	if err != nil {
		writeCodedError(w, http.StatusBadRequest, "room code must be 3-6 letters or digits", codeInvalid)
		return
	}

	ctx := logging.WithRoom(r.Context(), code)
	identity := middleware.IdentityID(ctx)
	if err := h.store.RegisterRoom(ctx, code, identity); err != nil {
		if errors.Is(err, engine.ErrConflict) {
			logging.LogSecurityEvent(ctx, logging.SecurityEventCodeTaken, "room code already registered")
		}
		writeStoreError(ctx, w, "register room", err)
		return
	}
	writeJSON(w, http.StatusCreated, models.RoomResponse{Code: code, OwnerID: identity, IsOwner: true})
}

// Get returns the owner of a room.
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	code, ok := roomParam(w, r)
	if !ok {
		return
	}
	owner, err := h.store.RoomOwner(r.Context(), code)
	if err != nil {
		writeStoreError(r.Context(), w, "room "+code, err)
		return
	}
	writeJSON(w, http.StatusOK, models.RoomResponse{
		Code:    code,
		OwnerID: owner,
		IsOwner: owner == middleware.IdentityID(r.Context()),
	})
}
