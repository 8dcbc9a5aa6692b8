package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/campus-auth/internal/auth"
)

// Rate limit scopes.
const (
	scopeRegister = "register"
	scopeLogin    = "login"
	scopeRefresh  = "refresh"
	scopeDefault  = "default"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.With(s.rateLimit(scopeRegister, s.limits.Register)).Post("/register", s.handleRegister)
			r.With(s.rateLimit(scopeLogin, s.limits.Login)).Post("/login", s.handleLogin)
			r.With(s.rateLimit(scopeRefresh, s.limits.Refresh)).Post("/refresh", s.handleRefresh)
			r.With(s.rateLimit(scopeDefault, s.limits.Default)).Post("/logout", s.handleLogout)
			r.With(s.rateLimit(scopeDefault, s.limits.Default), s.authMiddleware).
				Post("/logout-all", s.handleLogoutAll)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit(scopeDefault, s.limits.Default))
			r.Use(s.authMiddleware)

			r.Route("/users", func(r chi.Router) {
				r.Get("/me", s.handleGetMe)
				r.Patch("/me/password", s.handleChangePassword)
				r.Get("/{id}", s.handleGetUser)

				r.Group(func(r chi.Router) {
					r.Use(s.requireRole(auth.RoleAdmin))
					r.Patch("/{id}/status", s.handleChangeStatus)
					r.Post("/{id}/logout-all", s.handleForceLogout)
				})

				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermRelationshipWrite))
					r.Post("/{id}/children", s.handleLinkChild)
					r.Delete("/{id}/children/{childId}", s.handleUnlinkChild)
					r.Put("/{id}/class", s.handleAssignClass)
				})
			})

			r.With(s.requirePermission(auth.PermRelationshipWrite)).Post("/classes", s.handleCreateClass)
			r.With(s.requireRole(auth.RoleAdmin)).Get("/activity", s.handleListActivity)
		})
	})

	return r
}

// handleHealth reports the server and database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	database := "ok"
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			status, code, database = "degraded", http.StatusServiceUnavailable, "unavailable"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":   status,
		"database": database,
		"version":  s.version,
	})
}
