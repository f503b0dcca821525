package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"tube/cmd/identity"
)

// errorResponse is the envelope for every failed request.
type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// dataResponse is the envelope for every successful request.
type dataResponse struct {
	Status  int    `json:"status"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any, msg string) {
	if data == nil {
		data = struct{}{}
	}
	writeJSON(w, status, dataResponse{Status: status, Data: data, Message: msg})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Status: status, Message: msg})
}

// writeDomainError maps identity error kinds onto HTTP statuses. Anything
// without a domain kind is an internal fault and leaks no detail.
func writeDomainError(log *slog.Logger, w http.ResponseWriter, event string, err error) {
	switch {
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, userMessage(err, "invalid request"))
	case identity.IsDependency(err):
		writeError(w, http.StatusBadRequest, userMessage(err, "required upload missing"))
	case identity.IsConflict(err):
		var ce identity.ConflictError
		if errors.As(err, &ce) && ce.Field != "" {
			writeError(w, http.StatusConflict, ce.Field+" already exists")
			return
		}
		writeError(w, http.StatusConflict, "already exists")
	case identity.IsNotFound(err):
		writeError(w, http.StatusNotFound, "user not found")
	case identity.IsUnauthorized(err):
		writeError(w, http.StatusUnauthorized, userMessage(err, "unauthorized"))
	case identity.IsCorruptData(err):
		// Corrupt stored credentials read as an auth failure to the caller.
		log.Error(event, "err", err)
		writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func userMessage(err error, fallback string) string {
	var oe identity.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return fallback
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
