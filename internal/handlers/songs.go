package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/models"
	"github.com/tunr/backend/internal/services"
	"github.com/tunr/backend/internal/store"
)

// SongHandler serves the registered song table and the external catalog.
type SongHandler struct {
	store   *store.Store
	catalog *services.CatalogService
}

func NewSongHandler(s *store.Store, catalog *services.CatalogService) *SongHandler {
	return &SongHandler{store: s, catalog: catalog}
}

// Get returns a registered song by number.
func (h *SongHandler) Get(w http.ResponseWriter, r *http.Request) {
	number, ok := intParam(w, r, "number")
	if !ok {
		return
	}
	id, item, err := h.store.Song(r.Context(), int(number))
	if err != nil {
		writeStoreError(r.Context(), w, "song", err)
		return
	}
	writeJSON(w, http.StatusOK, models.SongResponse{ID: id, CatalogItem: item})
}

// Register adds a song to the table. A zero number takes the next free one.
func (h *SongHandler) Register(w http.ResponseWriter, r *http.Request) {
	var item engine.CatalogItem
	if !decodeBody(w, r, &item) {
		return
	}
	id, item, err := h.store.AddSong(r.Context(), item)
	if err != nil {
		writeStoreError(r.Context(), w, "register song", err)
		return
	}
	writeJSON(w, http.StatusCreated, models.SongResponse{ID: id, CatalogItem: item})
}

// Lookup resolves a song number against the external songbook.
func (h *SongHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	number, ok := intParam(w, r, "number")
	if !ok {
		return
	}
	item, err := h.catalog.Lookup(r.Context(), int(number))
	if errors.Is(err, services.ErrCatalogDisabled) {
		writeError(w, http.StatusServiceUnavailable, "catalog lookup not configured")
		return
	}
	if errors.Is(err, engine.ErrNotFound) {
		writeCodedError(w, http.StatusNotFound, "song "+strconv.FormatInt(number, 10)+" not in catalog", codeNotFound)
		return
	}
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusBadGateway, "catalog lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Search finds candidate tracks to register.
func (h *SongHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := h.catalog.Search(r.Context(), query, limit)
	if errors.Is(err, services.ErrCatalogDisabled) {
		writeError(w, http.StatusServiceUnavailable, "catalog search not configured")
		return
	}
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusBadGateway, "catalog search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, models.SearchResponse{Results: results})
}
