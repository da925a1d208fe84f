package httpapi

import (
	"net/http"

	"github.com/mnemoforge/authcore/middleware"
)

type codeRequest struct {
	Code string `json:"code"`
}

type challengeRequest struct {
	ChallengeToken string `json:"challengeToken"`
	Code           string `json:"code"`
}

type setupResponse struct {
	Secret      string `json:"secret"`
	URI         string `json:"otpauthUri"`
	ManualEntry string `json:"manualEntryKey"`
	QRCode      string `json:"qrCode"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backupCodes"`
}

func (s *Server) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ChallengeToken == "" {
		writeJSONError(w, http.StatusUnauthorized, msgInvalidToken)
		return
	}

	res, err := s.engine.CompleteTwoFactorLogin(r.Context(), req.ChallengeToken, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSession(w, http.StatusOK, msgLoginSuccessful, res)
}

func (s *Server) setupTwoFactor(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	enrollment, err := s.engine.BeginTwoFactorSetup(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setupResponse{
		Secret:      enrollment.Secret,
		URI:         enrollment.URI,
		ManualEntry: enrollment.ManualEntry,
		QRCode:      enrollment.QRCodePNG,
	})
}

func (s *Server) enableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	codes, err := s.engine.EnableTwoFactor(r.Context(), p.UserID, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (s *Server) disableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := s.engine.DisableTwoFactor(r.Context(), p.UserID, req.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Two-factor authentication disabled")
}

func (s *Server) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	codes, err := s.engine.RegenerateBackupCodes(r.Context(), p.UserID, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (s *Server) twoFactorStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	status, err := s.engine.TwoFactorStatus(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":              status.Enabled,
		"remainingBackupCodes": status.RemainingBackupCodes,
	})
}
