package rest

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/davidleathers/dnc-guard/internal/domain/errors"
)

const maxJSONBody = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps err to a status and error body. AppErrors keep their own
// status and code; anything else is reported as an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, detail := describeError(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, ErrorResponse{Error: detail})
}

func describeError(err error) (int, ErrorDetail) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		detail := ErrorDetail{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
		if appErr.StatusCode >= http.StatusInternalServerError {
			detail.Message = "An internal error occurred"
			detail.Details = nil
		}
		return appErr.StatusCode, detail
	}

	var syntaxErr *json.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		return http.StatusBadRequest, ErrorDetail{
			Code:    "INVALID_JSON",
			Message: fmt.Sprintf("invalid JSON at position %d", syntaxErr.Offset),
		}
	}
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &typeErr) {
		return http.StatusBadRequest, ErrorDetail{
			Code:    "TYPE_MISMATCH",
			Message: fmt.Sprintf("invalid type for field %q", typeErr.Field),
			Details: map[string]interface{}{"field": typeErr.Field},
		}
	}
	var maxBytesErr *http.MaxBytesError
	if stderrors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge, ErrorDetail{
			Code:    "REQUEST_TOO_LARGE",
			Message: fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit),
		}
	}

	return http.StatusInternalServerError, ErrorDetail{Code: "INTERNAL_ERROR", Message: "An internal error occurred"}
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields,
// and runs struct validation on it.
func decodeJSON(r *http.Request, v *validator.Validate, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		switch {
		case stderrors.Is(err, io.EOF):
			return errors.NewValidationError("EMPTY_BODY", "request body is required")
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
			return errors.NewValidationError("UNKNOWN_FIELD", err.Error()).
				WithDetails(map[string]interface{}{"field": field})
		}
		return err
	}
	if err := v.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.NewValidationError("VALIDATION_FAILED", err.Error())
	}
	fields := make(map[string]interface{}, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return errors.NewValidationError("VALIDATION_FAILED", "request validation failed").
		WithDetails(map[string]interface{}{"fields": fields})
}
