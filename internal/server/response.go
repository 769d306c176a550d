package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"org-security-engine/internal/authz"
	identityservice "org-security-engine/internal/identity/service"
	sessionservice "org-security-engine/internal/session/service"
)

// envelope is the uniform response shape: {"success": true, "data": ...} or
// {"success": false, "error": {"code": ..., "message": ...}}.
type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Success: false, Error: &errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondServiceError maps domain sentinels to their transport status and
// code. Unknown errors become an opaque 500; internals never leak into the
// message.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identityservice.ErrInvalidCredentials),
		errors.Is(err, identityservice.ErrAccountInactive):
		// Inactive accounts answer exactly like bad credentials so account
		// state cannot be probed; the sentinel stays distinct internally for
		// audit and metrics.
		respondError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", identityservice.ErrInvalidCredentials.Error())
	case errors.Is(err, identityservice.ErrAccountLocked):
		respondError(w, http.StatusLocked, "ACCOUNT_LOCKED", err.Error())
	case errors.Is(err, identityservice.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", err.Error())
	case errors.Is(err, sessionservice.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "INVALID_OR_EXPIRED_TOKEN", err.Error())
	case errors.Is(err, sessionservice.ErrTokenAlreadyUsed):
		respondError(w, http.StatusConflict, "TOKEN_ALREADY_USED", err.Error())
	default:
		var forbidden *authz.ForbiddenError
		if errors.As(err, &forbidden) {
			respondError(w, http.StatusForbidden, "FORBIDDEN", "you do not have permission to perform this action")
			return
		}
		respondError(w, http.StatusInternalServerError, "SYSTEM_ERROR", "an internal error occurred")
	}
}
