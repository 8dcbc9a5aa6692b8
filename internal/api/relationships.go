package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/campus-auth/internal/auth"
)

// handleLinkChild links the parent in the path to a student and returns
// the parent with its children.
func (s *Server) handleLinkChild(w http.ResponseWriter, r *http.Request) {
	var req linkChildRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	parent, err := s.auth.LinkChild(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"),
		auth.LinkChildInput{StudentID: req.ChildID, Relation: req.Relation, IsPrimary: req.IsPrimary},
		s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, parent.Public())
}

// handleUnlinkChild removes a parent→child link.
func (s *Server) handleUnlinkChild(w http.ResponseWriter, r *http.Request) {
	err := s.auth.UnlinkChild(r.Context(), principalFromContext(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "childId"), s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAssignClass sets the class of the student in the path.
func (s *Server) handleAssignClass(w http.ResponseWriter, r *http.Request) {
	var req assignClassRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	student, err := s.auth.AssignToClass(r.Context(), principalFromContext(r.Context()),
		chi.URLParam(r, "id"), req.ClassID, s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, student.Public())
}

// handleCreateClass creates a class.
func (s *Server) handleCreateClass(w http.ResponseWriter, r *http.Request) {
	var req createClassRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	class, err := s.auth.CreateClass(r.Context(), principalFromContext(r.Context()),
		req.Name, req.HomeTeacherID, s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, class)
}
