package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dgallion1/raptree/internal/apperr"
	"github.com/dgallion1/raptree/internal/pipeline"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case apperr.IsConfiguration(err):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrOverwriteRequired), apperr.IsNotReady(err):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrEmptyDocument), apperr.IsCorruptSnapshot(err):
		return http.StatusUnprocessableEntity
	case apperr.IsProvider(err):
		return http.StatusBadGateway
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeErr reports err with the status its kind maps to. Unclassified
// errors are logged and hidden from the client.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
		jsonError(w, "internal error", code)
		return
	}
	jsonError(w, err.Error(), code)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Configf("body", "invalid json: %v", err)
	}
	return nil
}
