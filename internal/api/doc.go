// Package api implements the HTTP front door of the campus auth service.
//
// This package provides:
//   - JSON endpoints for register, login, refresh, logout and logout-all
//   - Account endpoints: current user, password change, user lookup with
//     relationship-based access control, admin status changes and force
//     logout, admin activity feed
//   - Middleware stack (request ID, logging, recovery, CORS, body limit,
//     per-route rate limiting, bearer authentication)
//
// # Architecture
//
// Handlers decode and shape-check the request (ozzo-validation), call one
// auth.Service operation and map its error kind onto an HTTP status:
//
//	Conflict 409, Unauthorized 401, Forbidden 403,
//	Validation 400, NotFound 404, anything else 500
//
// Internal errors are logged with the request ID and returned to the client
// as a generic message.
//
// # Rate Limiting
//
// Register, login and refresh have their own per-IP budgets; every other
// route shares a default budget. Counters live in Redis. When Redis is
// unreachable requests are let through and a warning is logged.
package api
