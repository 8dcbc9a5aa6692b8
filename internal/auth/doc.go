// Package auth is the authentication and session-lifecycle core.
//
// It issues, rotates, revokes and validates credentials for four roles
// (STUDENT, PARENT, TEACHER, ADMIN) and decides who may see whose data:
//   - Argon2id password hashing with transparent rehash on login
//   - HS256 access and refresh tokens signed with independent secrets
//   - Store-authoritative refresh sessions, capped at five per user with
//     oldest-first eviction, rotated one-time in a single transaction
//   - An account state gate run on every login and refresh
//   - Relationship-based access: self, admin, parent of the child, home
//     teacher of the student, otherwise deny
//
// Service composes these into register, login, refresh, logout and
// logout-all. Every error it returns classifies through KindOf.
package auth
