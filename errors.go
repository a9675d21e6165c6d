package sessionkit

import (
	"errors"
	"fmt"
)

var (
	// ErrCredential is returned when sign-in is rejected as unauthorized.
	ErrCredential = errors.New("invalid credentials")
	// ErrWrongPassword is returned when change-password rejects the current password.
	ErrWrongPassword = errors.New("current password incorrect")
	// ErrValidation is returned when the auth API rejects the request as malformed.
	ErrValidation = errors.New("request rejected as invalid")
	// ErrTransient is returned for 5xx responses, network failures and timeouts.
	ErrTransient = errors.New("auth api unavailable")
	// ErrProtocol is returned when a success response is missing the token or the user,
	// or cannot be decoded.
	ErrProtocol = errors.New("invalid server response")
	// ErrStorage is returned when the session could not be persisted.
	ErrStorage = errors.New("session storage failed")
	// ErrUnexpected covers every failure that fits no other kind.
	ErrUnexpected = errors.New("unexpected failure")
	// ErrNotAuthenticated is returned by operations that need a session when there is none.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSuperseded is returned when a result arrived after a later transition and was discarded.
	ErrSuperseded = errors.New("result superseded by a later session change")
	// ErrClosed is returned after [Controller.Close].
	ErrClosed = errors.New("controller closed")

	errAuthClientPanic = errors.New("auth client panicked")
)

// ErrorKind classifies a failed controller operation.
type ErrorKind uint8

const (
	KindUnexpected ErrorKind = iota
	KindCredential
	KindWrongPassword
	KindValidation
	KindTransient
	KindProtocol
	KindStorage
	KindNotAuthenticated
	KindSuperseded
	KindClosed
)

var kindNames = [...]string{
	KindUnexpected:       "unexpected",
	KindCredential:       "credential",
	KindWrongPassword:    "wrong_password",
	KindValidation:       "validation",
	KindTransient:        "transient",
	KindProtocol:         "protocol",
	KindStorage:          "storage",
	KindNotAuthenticated: "not_authenticated",
	KindSuperseded:       "superseded",
	KindClosed:           "closed",
}

var kindSentinels = [...]error{
	KindUnexpected:       ErrUnexpected,
	KindCredential:       ErrCredential,
	KindWrongPassword:    ErrWrongPassword,
	KindValidation:       ErrValidation,
	KindTransient:        ErrTransient,
	KindProtocol:         ErrProtocol,
	KindStorage:          ErrStorage,
	KindNotAuthenticated: ErrNotAuthenticated,
	KindSuperseded:       ErrSuperseded,
	KindClosed:           ErrClosed,
}

var kindMessages = [...]string{
	KindUnexpected:       "Something went wrong. Please try again.",
	KindCredential:       "Invalid email or password.",
	KindWrongPassword:    "Current password is incorrect.",
	KindValidation:       "Please check your input and try again.",
	KindTransient:        "The server is unavailable right now. Please try again.",
	KindProtocol:         "Invalid server response.",
	KindStorage:          "Your session could not be saved. Please sign in again.",
	KindNotAuthenticated: "You are not signed in.",
	KindSuperseded:       "Your session changed while the request was in progress.",
	KindClosed:           "The session is no longer available.",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Retryable reports whether the same request may succeed when repeated unchanged.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient
}

// Error is the structured failure carried by controller outcomes. Message is safe to
// show to the user. It matches the kind's sentinel and the underlying cause with
// errors.Is.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sessionkit: %s: %v", e.Kind, e.Err)
	}
	return "sessionkit: " + e.Kind.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if int(e.Kind) < len(kindSentinels) {
		out = append(out, kindSentinels[e.Kind])
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func newError(kind ErrorKind, status int, message string, cause error) *Error {
	if message == "" && int(kind) < len(kindMessages) {
		message = kindMessages[kind]
	}
	return &Error{Kind: kind, Status: status, Message: message, Err: cause}
}
