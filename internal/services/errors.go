package services

import (
	"github.com/markdave123-py/Extracta/internal/core/errs"
	"github.com/markdave123-py/Extracta/internal/models"
)

// ErrorBody renders err for clients: message, code, kind and suggestion, never
// the underlying cause.
func ErrorBody(err error) models.ErrorResponse {
	pe, ok := errs.As(err)
	if !ok {
		return models.ErrorResponse{Error: "internal error", Code: string(errs.CodeUnknown), Kind: string(errs.KindGeneric)}
	}
	body := models.ErrorResponse{
		Error:      pe.Message,
		Code:       string(pe.Code),
		Kind:       string(pe.Kind),
		Suggestion: pe.RecoverySuggestion,
	}
	if pe.Context != nil && pe.Context.FilePath != "" {
		body.Details = map[string]any{"file_path": pe.Context.FilePath}
	}
	return body
}
