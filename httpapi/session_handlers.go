package httpapi

import (
	"net/http"
	"time"

	"github.com/mnemoforge/authcore"
	"github.com/mnemoforge/authcore/middleware"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	DisplayName       string `json:"displayName"`
	PreferredLanguage string `json:"preferredLanguage"`
}

type userResponse struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	DisplayName       string    `json:"displayName"`
	Role              string    `json:"role"`
	EmailVerified     bool      `json:"emailVerified"`
	TwoFactorEnabled  bool      `json:"twoFactorEnabled"`
	HasPassword       bool      `json:"hasPassword"`
	PictureURL        string    `json:"pictureUrl,omitempty"`
	PreferredLanguage string    `json:"preferredLanguage,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

func toUser(i *authcore.Identity) userResponse {
	return userResponse{
		ID:                i.ID,
		Email:             i.Email,
		DisplayName:       i.DisplayName,
		Role:              string(i.Role),
		EmailVerified:     i.EmailVerified,
		TwoFactorEnabled:  i.TwoFactorEnabled,
		HasPassword:       i.HasPassword(),
		PictureURL:        i.PictureURL,
		PreferredLanguage: i.PreferredLanguage,
		CreatedAt:         i.CreatedAt,
	}
}

const (
	msgLoginSuccessful    = "Login successful"
	msgRegisterSuccessful = "Registration successful"
	msgTwoFactorRequired  = "Two-factor authentication required"
)

type sessionResponse struct {
	Message           string        `json:"message,omitempty"`
	TwoFactorRequired bool          `json:"twoFactorRequired"`
	ChallengeToken    string        `json:"challengeToken,omitempty"`
	User              *userResponse `json:"user,omitempty"`
}

// writeSession sets cookies for a completed login, or returns the
// challenge token when a second factor is still needed. Cookies are never
// written for a pending challenge.
func (s *Server) writeSession(w http.ResponseWriter, status int, message string, res *authcore.LoginResult) {
	if res.TwoFactorRequired {
		writeJSON(w, http.StatusOK, sessionResponse{
			Message:           msgTwoFactorRequired,
			TwoFactorRequired: true,
			ChallengeToken:    res.ChallengeToken,
		})
		return
	}
	s.transport.SetTokens(w, res.AccessToken, res.RefreshToken)
	user := toUser(res.Identity)
	writeJSON(w, status, sessionResponse{Message: message, User: &user})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSONError(w, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	res, err := s.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSession(w, http.StatusOK, msgLoginSuccessful, res)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := s.engine.Register(r.Context(), authcore.RegisterRequest{
		Email:             req.Email,
		Password:          req.Password,
		DisplayName:       req.DisplayName,
		PreferredLanguage: req.PreferredLanguage,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSession(w, http.StatusCreated, msgRegisterSuccessful, res)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := s.transport.RefreshToken(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, msgInvalidToken)
		return
	}

	access, err := s.engine.Refresh(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.transport.SetAccess(w, access)
	writeMessage(w, http.StatusOK, "Token refreshed")
}

func (s *Server) logout(w http.ResponseWriter, _ *http.Request) {
	s.transport.Clear(w)
	writeMessage(w, http.StatusOK, "Logged out")
}

func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        p.UserID,
		"email":         p.Email,
		"roles":         p.Roles,
	})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	identity, err := s.engine.Profile(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUser(identity))
}
