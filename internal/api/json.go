package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tape/internal/apperr"
	"github.com/starford/tape/internal/hotlist"
	"github.com/starford/tape/internal/tree"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	// Kind names the structural or parse failure for 422 responses.
	Kind string `json:"kind,omitempty"`
	Line int    `json:"line,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// kindName turns an error kind such as "sibling cycle" into "sibling_cycle".
func kindName(kind error) string {
	return strings.ReplaceAll(kind.Error(), " ", "_")
}

// writeError maps service errors to status codes. Unexpected errors are
// logged and reported as 500 without detail.
func writeError(w http.ResponseWriter, op string, err error) {
	var (
		se  *tree.StructureError
		pe  *hotlist.ParseError
		ves validation.Errors
	)
	switch {
	case errors.As(err, &se):
		writeJSON(w, http.StatusUnprocessableEntity, errResponse{Error: se.Error(), Kind: kindName(se.Kind)})
	case errors.As(err, &pe):
		writeJSON(w, http.StatusUnprocessableEntity, errResponse{Error: pe.Error(), Kind: kindName(pe.Kind), Line: pe.Line})
	case errors.As(err, &ves):
		writeJSON(w, http.StatusBadRequest, errorBody(ves.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
	case errors.Is(err, apperr.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
