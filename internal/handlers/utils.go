package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tunr/backend/internal/engine"
	"github.com/tunr/backend/internal/logging"
	"github.com/tunr/backend/internal/models"
	"github.com/tunr/backend/internal/sentry"
	"github.com/tunr/backend/internal/store"
)

// Error codes clients switch on.
const (
	codeNotOwner = "not_owner"
	codeNotFound = "not_found"
	codeTaken    = "code_taken"
	codeInvalid  = "invalid"
)

const maxBodyBytes = 64 << 10

// decodeBody reads a JSON request body into dst, answering 400 itself when
// the body is malformed, oversized or has trailing data.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil || dec.More() {
		writeCodedError(w, http.StatusBadRequest, "invalid request body", codeInvalid)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeCodedError(w, status, message, "")
}

// writeCodedError adds a machine-readable code clients can switch on.
func writeCodedError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, models.ErrorResponse{Error: message, Code: code})
}

// writeErrorWithCause answers with message and logs err with its stack.
// Server errors also go to Sentry. 401 and 403 are left to the security
// event log.
func writeErrorWithCause(ctx context.Context, w http.ResponseWriter, status int, message string, err error) {
	writeError(w, status, message)
	if err == nil || status == http.StatusUnauthorized || status == http.StatusForbidden {
		return
	}
	wrapped := logging.WrapError(err, message)
	logging.LogErrorWithStatus(ctx, status, "error response", wrapped)
	if status >= http.StatusInternalServerError {
		sentry.Capture(ctx, wrapped)
	}
}

// writeStoreError maps store and engine errors onto HTTP statuses:
// permission 403, not found 404, conflict 409, invalid 400, anything else 500.
func writeStoreError(ctx context.Context, w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, engine.ErrPermission):
		logging.LogSecurityEvent(ctx, logging.SecurityEventNotOwner, message+": not the room owner")
		writeCodedError(w, http.StatusForbidden, "not the room owner", codeNotOwner)
	case errors.Is(err, engine.ErrNotFound):
		writeCodedError(w, http.StatusNotFound, message+": not found", codeNotFound)
	case errors.Is(err, engine.ErrConflict):
		writeCodedError(w, http.StatusConflict, message+": already exists", codeTaken)
	case errors.Is(err, store.ErrInvalid), errors.Is(err, engine.ErrDecode):
		writeCodedError(w, http.StatusBadRequest, err.Error(), codeInvalid)
	default:
		writeErrorWithCause(ctx, w, http.StatusInternalServerError, message, err)
	}
}

// roomParam returns the normalized {code} URL parameter, writing 400 when it
// is malformed.
func roomParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	code, err := engine.NormalizeRoomCode(chi.URLParam(r, "code"))
	if err != nil {
		writeCodedError(w, http.StatusBadRequest, "invalid room code", codeInvalid)
		return "", false
	}
	return code, true
}

// intParam parses a positive integer URL parameter, writing 400 when it is not one.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	n, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}
