package api

import (
	"net/http"

	"github.com/nerrad567/campus-auth/internal/auth"
)

// tokenResponse is the body returned by refresh.
type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int    `json:"expiresIn"` // access token lifetime, seconds
}

// authResponse is the body returned by register and login.
type authResponse struct {
	tokenResponse
	User auth.PublicUser `json:"user"`
}

func (s *Server) tokenResponse(pair auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.auth.AccessTTL().Seconds()),
	}
}

// handleRegister creates a PENDING account and returns its first token pair.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := s.auth.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     auth.Role(req.Role),
		Profile: auth.Profile{
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			MiddleName: req.MiddleName,
		},
	}, s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		tokenResponse: s.tokenResponse(result.Tokens),
		User:          result.User,
	})
}

// handleLogin authenticates by email and password.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := s.auth.Login(r.Context(), req.Email, req.Password, s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		tokenResponse: s.tokenResponse(result.Tokens),
		User:          result.User,
	})
}

// handleRefresh rotates a refresh token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken, s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, s.tokenResponse(*pair))
}

// handleLogout revokes the session of one refresh token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.auth.Logout(r.Context(), req.RefreshToken, s.requestMeta(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

// handleLogoutAll revokes every session of the authenticated user.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	removed, err := s.auth.LogoutAll(r.Context(), principal.ID, s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tokensRemoved": removed})
}
