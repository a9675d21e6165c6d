// Package authapi is the HTTP client for the remote authentication API consumed by the
// session controller.
//
// Endpoints:
//
//	POST {base}/auth/signin           {email, password}       -> {token, user, requiresPasswordChange?}
//	POST {base}/auth/change-password  {oldPassword, newPassword} -> {message?}
//
// Non-2xx responses surface as [*StatusError]; a 2xx response whose body cannot be
// decoded surfaces as [ErrMalformedResponse]. The client does not interpret the user
// record; it hands it back raw.
package authapi
