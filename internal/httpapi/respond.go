package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/service"
	"github.com/BrandonDHaskell/beacon/internal/beacon/store"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	body := map[string]any{
		"code":    code,
		"message": msg,
	}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

// writeServiceError maps service and store sentinels to HTTP responses.
// Anything unrecognised is logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, op string, err error) {
	switch {
	case errors.Is(err, service.ErrDeviceNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, service.ErrUnknownRequest):
		writeError(w, http.StatusNotFound, "unknown_request", err.Error(), nil)
	case errors.Is(err, service.ErrNoLocation):
		writeError(w, http.StatusNotFound, "no_location", err.Error(), nil)
	case errors.Is(err, service.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error(), nil)
	case errors.Is(err, service.ErrInvalidDeviceID):
		writeError(w, http.StatusBadRequest, "invalid_device_id", err.Error(), nil)
	case errors.Is(err, service.ErrDeviceOffline):
		writeError(w, http.StatusBadRequest, "device_offline", err.Error(), nil)
	case errors.Is(err, service.ErrCommandsDisabled),
		errors.Is(err, service.ErrMessagesDisabled),
		errors.Is(err, service.ErrLockDisabled):
		writeError(w, http.StatusBadRequest, "not_permitted", err.Error(), nil)
	case errors.Is(err, service.ErrDeliveryFailed):
		writeError(w, http.StatusBadRequest, "delivery_failed", err.Error(), nil)
	case errors.Is(err, types.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, "invalid_command", err.Error(), nil)
	case errors.Is(err, types.ErrInvalidDeviceType):
		writeError(w, http.StatusBadRequest, "invalid_device_type", err.Error(), nil)
	case errors.Is(err, service.ErrInvalidLocation):
		writeError(w, http.StatusBadRequest, "invalid_location", err.Error(), nil)
	case errors.Is(err, service.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, "invalid_settings", err.Error(), nil)
	default:
		log.Error().Err(err).Str("op", op).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error", nil)
	}
}

// queryInt returns def for a missing value and false for a malformed one.
func queryInt(r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func queryBool(r *http.Request, key string) (*bool, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, false
	}
	return &b, true
}
