package sessionkit

import (
	"context"

	"github.com/indura/sessionkit/authapi"
	"github.com/indura/sessionkit/guard"
	"github.com/indura/sessionkit/session"
)

// State is the per-tab authentication state.
type State uint8

const (
	StateAnonymous State = iota
	StateAuthenticated
	StatePasswordChangeRequired
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	case StatePasswordChangeRequired:
		return "password_change_required"
	default:
		return "unknown"
	}
}

// AuthState is a snapshot of a controller. User is a private copy; callers may keep it.
type AuthState struct {
	State State
	User  *session.User
}

// IsAuthenticated reports whether a session is established, with or without a pending
// password change.
func (a AuthState) IsAuthenticated() bool {
	return a.State != StateAnonymous && a.User != nil
}

// RequiresPasswordChange reports whether the forced password change is pending.
func (a AuthState) RequiresPasswordChange() bool {
	return a.State == StatePasswordChangeRequired
}

// Role returns the user's role or "" when anonymous.
func (a AuthState) Role() string {
	if a.User == nil {
		return ""
	}
	return a.User.Role
}

// Subject is the route-guard view of the state.
func (a AuthState) Subject() guard.Subject {
	return guard.Subject{
		Authenticated:          a.IsAuthenticated(),
		Role:                   a.Role(),
		RequiresPasswordChange: a.RequiresPasswordChange(),
	}
}

func stateFromSession(s session.Session) AuthState {
	if !s.IsAuthenticated() {
		return AuthState{State: StateAnonymous}
	}
	u := s.User.Clone()
	if s.RequiresPasswordChange {
		return AuthState{State: StatePasswordChangeRequired, User: &u}
	}
	return AuthState{State: StateAuthenticated, User: &u}
}

// SignInResult is the outcome of [Controller.SignIn]. Err is nil on success.
type SignInResult struct {
	Success bool
	User    *session.User
	Err     *Error
}

// ChangePasswordResult is the outcome of [Controller.ChangePassword].
type ChangePasswordResult struct {
	Success bool
	Err     *Error
}

// AuthClient is the remote authentication API. [*authapi.Client] implements it.
type AuthClient interface {
	SignIn(ctx context.Context, email, password string) (authapi.SignInResponse, error)
	ChangePassword(ctx context.Context, token, oldPassword, newPassword string) (authapi.ChangePasswordResponse, error)
}

var _ AuthClient = (*authapi.Client)(nil)
