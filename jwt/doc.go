// Package jwt reads client-visible claims from bearer tokens without verifying them.
//
// The dashboard trusts these claims for UI gating only; authorization is enforced by
// the API. Nothing here validates signatures, and callers must never treat a peeked
// claim as proof of identity.
package jwt
