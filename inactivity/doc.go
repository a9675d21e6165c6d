// Package inactivity detects that a user has not interacted with any tab of a session
// for longer than an idle threshold and fires a termination callback once per idle
// episode.
//
// Tabs share the last-activity time through a [storage.Port] key holding an integer
// epoch-millisecond timestamp. Each tab throttles its own writes to one per window and
// picks up other tabs' writes through change notifications, so activity anywhere keeps
// every tab alive.
//
// # What this package must NOT do
//
//   - Surface storage failures to callers. Activity writes are best effort.
//   - Fire the expiry callback more than once before [Monitor.Reset].
package inactivity
