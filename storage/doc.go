// Package storage provides the origin-scoped key-value port shared by every tab of a
// dashboard session, together with its change-notification channel.
//
// # Delivery model
//
// Notifications are at-least-once and possibly delayed. A [Port] is not required to
// notify its own writes; consumers that mutate state must update themselves
// synchronously and treat notifications as invalidation signals only.
//
// # Architecture boundaries
//
// This package owns the [Port] contract and three backends: [Memory] (in-process tabs),
// [Redis] (tabs in separate processes sharing a Redis origin) and [File] (tabs sharing a
// directory). It does NOT interpret keys or values.
//
// # What this package must NOT do
//
//   - Import sessionkit, session, or inactivity (no upward imports).
//   - Perform read-modify-write cycles on behalf of callers.
package storage
