// Package sessionkit manages the client side of a clinic dashboard session: who is
// signed in, whether they must change their password, and keeping every tab of the
// same origin in agreement about it.
//
// A [Controller] is built once per tab with [New] and [Builder.Build]. It reads the
// persisted session at startup, signs in and out through the auth API, and re-derives
// its state whenever another tab changes the shared storage. Idle sign-out is started
// with [Controller.StartIdleSignOut]; route decisions come from the guard table in
// [Controller.Routes].
//
// # Sub-packages
//
//   - storage: the origin-wide key/value port with memory, file and Redis backends
//   - session: the persisted session record and its store
//   - authapi: HTTP client for the sign-in and change-password endpoints
//   - inactivity: the shared idle timer
//   - guard: the route decision table
//   - middleware: net/http adapters for guard and activity tracking
//   - metrics/export: Prometheus and OTel exporters
//
// # Failure model
//
// Operations report failures in their result values as [*Error]; the stored session
// is never left half written. Storage read errors fail closed: an unreadable session
// is an anonymous one.
package sessionkit
