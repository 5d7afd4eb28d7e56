package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/types"
)

// statusFor maps a ledger error code to an HTTP status
func statusFor(code types.ErrorCode) int {
	switch code {
	case types.CodeUnauthorized:
		return http.StatusForbidden
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeAlreadyExists:
		return http.StatusConflict
	case types.CodeInvalidInput:
		return http.StatusBadRequest
	case types.CodeExpiredAccess:
		return http.StatusForbidden
	case types.CodeEmergencyInactive:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, log *logger.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes err as a JSON LedgerError. Untyped errors are reported
// as internal errors without their message.
func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	var le *types.LedgerError
	if !errors.As(err, &le) {
		log.WithError(err).Error("Unexpected ledger failure")
		writeJSON(w, log, http.StatusInternalServerError, map[string]string{
			"type":    "internal",
			"message": "internal error",
		})
		return
	}

	status := statusFor(le.Code)
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("Ledger operation failed")
	}
	writeJSON(w, log, status, le)
}

func pathPrincipal(r *http.Request, name string) (types.Principal, error) {
	raw := mux.Vars(r)[name]
	value, err := url.PathUnescape(raw)
	if err != nil || value == "" {
		return "", types.NewValidationError("invalid " + name)
	}
	return types.Principal(value), nil
}

func pathUint(r *http.Request, name string) (uint64, error) {
	value, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, types.NewValidationError("invalid " + name)
	}
	return value, nil
}

// queryUint parses an optional unsigned query parameter
func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, types.NewValidationError("invalid " + name)
	}
	return value, nil
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return types.NewValidationError("invalid JSON payload")
	}
	return nil
}

// writeUnauthenticated rejects a request without valid credentials
func writeUnauthenticated(w http.ResponseWriter, log *logger.Logger, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeJSON(w, log, http.StatusUnauthorized, types.NewUnauthorizedError(message))
}
