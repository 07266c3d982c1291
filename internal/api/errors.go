package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/appointment"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/logging"
)

const maxBodyBytes = 1 << 20

func statusFor(kind appointment.Kind) int {
	switch kind {
	case appointment.KindValidation:
		return http.StatusBadRequest
	case appointment.KindNotFound:
		return http.StatusNotFound
	case appointment.KindConflict, appointment.KindInvalidTransition, appointment.KindAlreadyResolved:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps an engine error onto the HTTP error contract.
// Internal details are logged, not returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := appointment.KindOf(err)
	status := statusFor(kind)

	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), nil).Error("request failed", "error", err)
		writeJSON(w, status, ErrorResponse{
			Error:   string(appointment.KindInternal),
			Code:    "internal_error",
			Details: "internal server error",
		})
		return
	}

	details := err.Error()
	var e *appointment.Error
	if errors.As(err, &e) && e.Message != "" {
		details = e.Message
	}
	writeJSON(w, status, ErrorResponse{
		Error:   string(kind),
		Code:    appointment.CodeOf(err),
		Details: details,
	})
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	kind := appointment.KindValidation
	switch status {
	case http.StatusNotFound:
		kind = appointment.KindNotFound
	case http.StatusConflict:
		kind = appointment.KindConflict
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		kind = appointment.KindInternal
	}
	writeJSON(w, status, ErrorResponse{Error: string(kind), Code: code, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "request body is empty")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}
