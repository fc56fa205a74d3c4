package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/logging"
	"github.com/tunr/backend/internal/middleware"
	"github.com/tunr/backend/internal/models"
	"github.com/tunr/backend/internal/store"
)

// QueueHandler exposes the room queue. Reads and inserts are open to every
// identity; updates and deletes are limited to the room owner by the store.
type QueueHandler struct {
	store *store.Store
}

func NewQueueHandler(s *store.Store) *QueueHandler {
	return &QueueHandler{store: s}
}

// List returns a room's entries in queue order, optionally filtered by one
// or more ?status= values (repeated or comma separated).
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	code, ok := roomParam(w, r)
	if !ok {
		return
	}
	statuses, ok := statusFilter(w, r)
	if !ok {
		return
	}
	rows, err := h.store.ListEntries(r.Context(), code, statuses...)
	if err != nil {
		writeStoreError(r.Context(), w, "list queue", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// Latest returns the most recently updated entry with ?status=, or null.
func (h *QueueHandler) Latest(w http.ResponseWriter, r *http.Request) {
	code, ok := roomParam(w, r)
	if !ok {
		return
	}
	statuses, ok := statusFilter(w, r)
	if !ok {
		return
	}
	if len(statuses) != 1 {
		writeError(w, http.StatusBadRequest, "exactly one status is required")
		return
	}
	row, err := h.store.LatestUpdated(r.Context(), code, statuses[0])
	if err != nil {
		writeStoreError(r.Context(), w, "latest entry", err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// ByIDs returns the entries named by ?ids=1,2,3.
func (h *QueueHandler) ByIDs(w http.ResponseWriter, r *http.Request) {
	var ids []int64
	for _, part := range strings.Split(r.URL.Query().Get("ids"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id "+part)
			return
		}
		ids = append(ids, id)
	}
	rows, err := h.store.EntriesByID(r.Context(), ids...)
	if err != nil {
		writeStoreError(r.Context(), w, "get entries", err)
		return
	}
	if rows == nil {
		rows = []engine.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// Insert adds an entry to the room in the URL.
func (h *QueueHandler) Insert(w http.ResponseWriter, r *http.Request) {
	code, ok := roomParam(w, r)
	if !ok {
		return
	}
	var e engine.NewEntry
	if !decodeBody(w, r, &e) {
		return
	}
	e.RoomCode = code

	ctx := logging.WithRoom(r.Context(), code)
	id, err := h.store.InsertEntry(ctx, middleware.IdentityID(ctx), e)
	if err != nil {
		writeStoreError(ctx, w, "insert entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, models.InsertEntryResponse{ID: id})
}

// Update patches one entry.
func (h *QueueHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	var p engine.EntryPatch
	if !decodeBody(w, r, &p) {
		return
	}
	n, err := h.store.UpdateEntry(r.Context(), middleware.IdentityID(r.Context()), id, p)
	if err != nil {
		writeStoreError(r.Context(), w, "update entry", err)
		return
	}
	writeJSON(w, http.StatusOK, models.AffectedResponse{Affected: n})
}

// UpdateRoom patches every entry of the room with ?status=. Entries the
// caller does not own are skipped, so a non-owner gets affected 0 and 200.
func (h *QueueHandler) UpdateRoom(w http.ResponseWriter, r *http.Request) {
	code, ok := roomParam(w, r)
	if !ok {
		return
	}
	statuses, ok := statusFilter(w, r)
	if !ok {
		return
	}
	if len(statuses) != 1 {
		writeError(w, http.StatusBadRequest, "exactly one status is required")
		return
	}
	var p engine.EntryPatch
	if !decodeBody(w, r, &p) {
		return
	}

	ctx := logging.WithRoom(r.Context(), code)
	n, err := h.store.UpdateRoomEntries(ctx, middleware.IdentityID(ctx), code, statuses[0], p)
	if err != nil {
		writeStoreError(ctx, w, "update room entries", err)
		return
	}
	h.noteGhost(ctx, code, n)
	writeJSON(w, http.StatusOK, models.AffectedResponse{Affected: n})
}

// Delete removes one entry.
func (h *QueueHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteEntry(r.Context(), middleware.IdentityID(r.Context()), id); err != nil {
		writeStoreError(r.Context(), w, "delete entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteRoom removes every entry of the room the caller owns.
func (h *QueueHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	code, ok := roomParam(w, r)
	if !ok {
		return
	}
	ctx := logging.WithRoom(r.Context(), code)
	n, err := h.store.DeleteRoomEntries(ctx, middleware.IdentityID(ctx), code)
	if err != nil {
		writeStoreError(ctx, w, "clear queue", err)
		return
	}
	h.noteGhost(ctx, code, n)
	writeJSON(w, http.StatusOK, models.AffectedResponse{Affected: n})
}

// noteGhost logs a bulk write by someone other than the owner. It matched
// no rows, and the caller will treat that as lost control of the room.
func (h *QueueHandler) noteGhost(ctx context.Context, code string, affected int64) {
	if affected != 0 {
		return
	}
	owner, err := h.store.RoomOwner(ctx, code)
	if err != nil || owner == middleware.IdentityID(ctx) {
		return
	}
	logging.LogSecurityEvent(ctx, logging.SecurityEventGhostControl, "bulk write by non-owner matched no rows")
}

func statusFilter(w http.ResponseWriter, r *http.Request) ([]engine.Status, bool) {
	var out []engine.Status
	for _, v := range r.URL.Query()["status"] {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			st := engine.Status(part)
			if !st.Valid() {
				writeCodedError(w, http.StatusBadRequest, "unknown status "+part, codeInvalid)
				return nil, false
			}
			out = append(out, st)
		}
	}
	return out, true
}
