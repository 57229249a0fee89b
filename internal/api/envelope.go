package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"kajabook/internal/domain"
)

const maxBodyBytes = 1 << 20

// envelope is the shape of every JSON response.
type envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

const (
	codeValidation       = "validation"
	codeNotFound         = "not_found"
	codeConflict         = "conflict"
	codeCapacityExceeded = "capacity_exceeded"
	codeStorage          = "storage"
	codeUnauthorized     = "unauthorized"
	codeForbidden        = "forbidden"
	codeRateLimited      = "rate_limited"
	codeInternal         = "internal"
)

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, envelope{OK: true, Data: data})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, envelope{Error: message, Code: code})
}

// writeDomainError maps the service error taxonomy onto HTTP. Storage
// details stay in the logs.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, codeValidation
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrCapacityExceeded):
		return http.StatusBadRequest, codeCapacityExceeded
	case errors.Is(err, domain.ErrConflict):
		return http.StatusBadRequest, codeConflict
	case errors.Is(err, domain.ErrStorage):
		return http.StatusInternalServerError, codeStorage
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

// decodeLenientJSON ignores unknown keys and treats an empty body as {}.
func decodeLenientJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Validationf("%s must be an integer", name)
	}
	return n, nil
}
