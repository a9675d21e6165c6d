// Package middleware adapts the route guard and the inactivity monitor to net/http.
//
// # Guards
//
//   - [Guard] decides every request with a [guard.Table] and either renders the
//     wrapped handler or answers 303 See Other with the decision's target.
//   - [ControllerSubject] reads the subject from a sessionkit.Controller.
//   - [BearerSubject] reads it from the claims of a bearer JWT.
//
// # Activity
//
// [TrackActivity] records each request as activity on an inactivity monitor, so a
// server-rendered dashboard keeps the shared idle timer alive the way input events do
// in a browser.
//
// This package never signs anyone in or out; it only applies decisions made
// elsewhere.
package middleware
