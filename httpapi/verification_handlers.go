package httpapi

import (
	"errors"
	"net/http"

	"github.com/mnemoforge/authcore"
	"github.com/mnemoforge/authcore/middleware"
	"go.uber.org/zap"
)

const msgResetRequested = "If an account exists for this email, a password reset link has been sent."

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// requestPasswordReset answers the same way whether or not the email is
// registered. Only the per-address bucket can change the response.
func (s *Server) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) {
		return
	}

	if err := s.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		if errors.Is(err, authcore.ErrRateLimited) {
			s.writeError(w, r, err)
			return
		}
		s.logger.Error("password reset request failed", zap.Error(err))
	}
	writeMessage(w, http.StatusOK, msgResetRequested)
}

func (s *Server) validatePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	outcome := s.engine.ValidatePasswordResetToken(r.Context(), req.Token)
	writeJSON(w, http.StatusOK, map[string]bool{"valid": outcome.OK()})
}

func (s *Server) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if !decode(w, r, &req) {
		return
	}

	outcome, err := s.engine.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !outcome.OK() {
		writeJSONError(w, http.StatusBadRequest, msgInvalidLink)
		return
	}
	writeMessage(w, http.StatusOK, "Password has been reset")
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	outcome := s.engine.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if !outcome.OK() {
		writeJSONError(w, http.StatusBadRequest, msgInvalidLink)
		return
	}
	writeMessage(w, http.StatusOK, "Email verified")
}

func (s *Server) resendVerification(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := s.engine.ResendEmailVerification(r.Context(), p.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Verification email sent")
}
