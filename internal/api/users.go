package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/campus-auth/internal/auth"
)

// handleGetMe returns the authenticated user.
func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, principalFromContext(r.Context()).Public())
}

// handleChangePassword replaces the caller's password. Every session of the
// caller is revoked, including the one that made this request.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	principal := principalFromContext(r.Context())
	revoked, err := s.auth.ChangePassword(r.Context(), principal.ID, req.CurrentPassword, req.NewPassword, s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.logger.Info("password changed", "user_id", principal.ID, "sessions_revoked", revoked)
	writeJSON(w, http.StatusOK, map[string]any{"sessionsRevoked": revoked})
}

// handleGetUser returns a user the caller is allowed to see: themselves,
// anyone for an admin, their children for a parent, their class for a
// home teacher.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.ViewUser(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user.Public())
}

// handleChangeStatus moves a user to a new lifecycle status. Admin only.
func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := s.auth.ChangeStatus(r.Context(), principalFromContext(r.Context()),
		chi.URLParam(r, "id"), auth.Status(req.Status), s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user.Public())
}

// handleForceLogout revokes every session of another user. Admin only.
func (s *Server) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	removed, err := s.auth.ForceLogout(r.Context(), principalFromContext(r.Context()),
		chi.URLParam(r, "id"), s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tokensRemoved": removed})
}
