// Package session provides the persistent session store: the durable, cross-tab
// visible copy of the bearer token, the user record and the password-change flag.
//
// # Storage layout
//
// Sessions are stored as whole values under fixed keys (see [DefaultKeys]). The
// password-change flag is present only when true, so its absence means false without
// any string parsing. A legacy "isLoggedIn" flag is written for older clients of the
// same origin and is never authoritative.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] / [User] model. It does NOT call the
// remote auth API, hold in-memory auth state, or subscribe to change notifications —
// those responsibilities belong to the Controller.
//
// # What this package must NOT do
//
//   - Import sessionkit, guard, or inactivity (no upward imports).
//   - Report a session as authenticated when the user record cannot be decoded.
//   - Log tokens or user payloads.
package session
