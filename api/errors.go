package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/slidergate/captcha"
	"github.com/jmcleod/slidergate/storage"
)

const maxBodySize = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData[T any](w http.ResponseWriter, data T) {
	writeJSON(w, http.StatusOK, captcha.Envelope[T]{Success: true, Data: &data})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, captcha.Envelope[struct{}]{Success: true})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, captcha.Envelope[struct{}]{Success: false, Message: msg})
}

func writeInternalError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrCASFailed):
		writeError(w, http.StatusConflict, "challenge already in use")
	case errors.Is(err, storage.ErrTokenReplayed):
		writeError(w, http.StatusConflict, "captcha token already used")
	case errors.Is(err, errInvalidToken), errors.Is(err, errTokenExpired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, errSceneMismatch):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a JSON body of at most limit bytes into a T. On failure
// it writes a 400 and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return v, false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}
