package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/mnemoforge/authcore"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// User-facing messages. Credential and token failures deliberately share
// one message each.
const (
	msgInvalidCredentials = "Invalid email or password"
	msgInvalidToken       = "Invalid or expired token"
	msgAccountLocked      = "Account temporarily locked. Please try again later."
	msgRateLimited        = "Too many requests. Please try again later."
	msgInvalidPayload     = "Invalid request payload"
	msgUnavailable        = "Service temporarily unavailable"
	msgInternal           = "Internal server error"
	msgInvalidLink        = "Invalid or expired link"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decode reads a JSON body into dst. It fails on unknown trailing data
// and bodies over maxBodyBytes.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, msgInvalidPayload)
		return false
	}
	if dec.More() {
		writeJSONError(w, http.StatusBadRequest, msgInvalidPayload)
		return false
	}
	return true
}

// writeError maps engine errors onto status codes and fixed messages.
// Internal details only reach the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *authcore.RateLimitError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", retryAfterSeconds(rl.RetryAfter))
		writeJSONError(w, http.StatusTooManyRequests, msgRateLimited)
	case errors.Is(err, authcore.ErrRateLimited),
		errors.Is(err, authcore.ErrEmailVerificationRateLimited):
		writeJSONError(w, http.StatusTooManyRequests, msgRateLimited)
	case errors.Is(err, authcore.ErrInvalidCredentials):
		writeJSONError(w, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.Is(err, authcore.ErrAccountLocked):
		writeJSONError(w, http.StatusUnauthorized, msgAccountLocked)
	case errors.Is(err, authcore.ErrInvalidToken):
		writeJSONError(w, http.StatusUnauthorized, msgInvalidToken)
	case errors.Is(err, authcore.ErrTwoFactorInvalid):
		writeJSONError(w, http.StatusUnauthorized, "Invalid verification code")
	case errors.Is(err, authcore.ErrTwoFactorNotEnabled):
		writeJSONError(w, http.StatusBadRequest, "Two-factor authentication is not enabled")
	case errors.Is(err, authcore.ErrTwoFactorNotPending):
		writeJSONError(w, http.StatusBadRequest, "Two-factor setup has not been started")
	case errors.Is(err, authcore.ErrTwoFactorAlreadyEnabled):
		writeJSONError(w, http.StatusConflict, "Two-factor authentication is already enabled")
	case errors.Is(err, authcore.ErrAccountExists):
		writeJSONError(w, http.StatusConflict, "An account with this email already exists")
	case errors.Is(err, authcore.ErrInvalidEmail):
		writeJSONError(w, http.StatusBadRequest, "Invalid email address")
	case errors.Is(err, authcore.ErrPasswordPolicy):
		writeJSONError(w, http.StatusBadRequest, "Password does not meet the requirements")
	case errors.Is(err, authcore.ErrEmailAlreadyVerified):
		writeJSONError(w, http.StatusBadRequest, "Email is already verified")
	case errors.Is(err, authcore.ErrIdentityNotFound):
		writeJSONError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, authcore.ErrOAuthProviderUnknown):
		writeJSONError(w, http.StatusNotFound, "Unknown provider")
	case errors.Is(err, authcore.ErrStoreUnavailable),
		errors.Is(err, authcore.ErrLimiterUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, msgUnavailable)
	default:
		s.logger.Error("unhandled error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSONError(w, http.StatusInternalServerError, msgInternal)
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
