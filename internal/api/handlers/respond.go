package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	db "github.com/markdave123-py/Extracta/internal/core/database"
	"github.com/markdave123-py/Extracta/internal/core/errs"
	"github.com/markdave123-py/Extracta/internal/models"
	"github.com/markdave123-py/Extracta/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}

// writeError maps err onto an HTTP status and a client-safe body.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrRunNotFound) {
		writeMessage(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, statusFor(errs.CodeOf(err)), services.ErrorBody(err))
}

func statusFor(code errs.ErrorCode) int {
	switch code {
	case errs.CodeInvalidInput, errs.CodeEngineNotFound:
		return http.StatusBadRequest
	case errs.CodeFileNotFound:
		return http.StatusNotFound
	case errs.CodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case errs.CodeDownloadSizeExceeded:
		return http.StatusRequestEntityTooLarge
	case errs.CodeValidationSchema, errs.CodeValidationContent, errs.CodeValidationType, errs.CodeFileCorrupted:
		return http.StatusUnprocessableEntity
	case errs.CodeHTTPError, errs.CodeNetworkConnectionFailed:
		return http.StatusBadGateway
	case errs.CodeNetworkTimeout:
		return http.StatusGatewayTimeout
	case errs.CodeEngineInitFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
