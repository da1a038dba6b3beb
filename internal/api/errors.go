package api

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ContentType is the media type of every response body.
const ContentType = "application/json"

// ErrorBody is the error object in an error response.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// ErrorResponse wraps an error for JSON output.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as an error response. Status 0 derives the status
// from the error code.
func WriteError(w http.ResponseWriter, status int, err error) {
	body := ErrorBody{
		Code:      "internal_error",
		Message:   err.Error(),
		RequestID: w.Header().Get("X-Request-Id"),
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		body.Code = ce.Code
		body.Message = ce.Message
		body.Details = ce.Details
	}
	if status == 0 {
		status = StatusFor(err)
	}
	WriteJSON(w, status, ErrorResponse{Error: body})
}

// StatusFor maps an error to an HTTP status.
func StatusFor(err error) int {
	switch core.CodeOf(err) {
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeMalformedPayload, core.ErrCodeInvalidJob, core.ErrCodeInvalidCronSpec:
		return http.StatusBadRequest
	case core.ErrCodeDuplicateName, core.ErrCodeDuplicateSubject:
		return http.StatusConflict
	case core.ErrCodeHandlerTimeout:
		return http.StatusGatewayTimeout
	case core.ErrCodeSinkError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
