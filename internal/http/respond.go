package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindInvalidSession:      http.StatusUnauthorized,
	apperr.KindUnauthorized:        http.StatusForbidden,
	apperr.KindNotFound:            http.StatusNotFound,
	apperr.KindValidation:          http.StatusBadRequest,
	apperr.KindRateLimited:         http.StatusTooManyRequests,
	apperr.KindComputationMismatch: http.StatusConflict,
	apperr.KindStoreUnavailable:    http.StatusServiceUnavailable,
	apperr.KindInternal:            http.StatusInternalServerError,
}

type errorPayload struct {
	Code    apperr.Kind `json:"code"`
	Message string      `json:"message"`
	Detail  string      `json:"detail,omitempty"`
}

func errorBody(kind apperr.Kind, msg string) map[string]errorPayload {
	return map[string]errorPayload{"error": {Code: kind, Message: msg}}
}

// writeError renders err as {"error":{"code","message"}}. The wrapped
// cause is only shown to administrators.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Wrap(apperr.KindInternal, err, "internal error")
	}
	status, ok := statusByKind[e.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if e.Kind == apperr.KindRateLimited {
		w.Header().Set("Retry-After", retryAfterSeconds(e.RetryAfter))
	}

	level := s.logger.Info
	if status >= http.StatusInternalServerError {
		level = s.logger.Error
	}
	level("request failed", "code", e.Kind, "error", err.Error(), "request_id", requestIDFromContext(r.Context()))

	payload := errorPayload{Code: e.Kind, Message: e.Message}
	if id, ok := r.Context().Value(identityKey).(models.Identity); ok && id.IsAdmin() && e.Err != nil {
		payload.Detail = e.Err.Error()
	}
	writeJSON(w, status, map[string]errorPayload{"error": payload})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.Validation("malformed JSON body")
}
