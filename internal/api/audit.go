package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/campus-auth/internal/audit"
)

// handleListActivity returns paginated activity entries with optional filters.
//
// Query parameters:
//   - user_id: filter by acting user
//   - action: filter by action (register, login, logout, logout_all, ...)
//   - entity: filter by entity type
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	if s.activity == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "activity log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		UserID: q.Get("user_id"),
		Action: q.Get("action"),
		Entity: q.Get("entity"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.activity.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list activity", "error", err)
		writeInternalError(w, "failed to list activity")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
