package middleware

import (
	"context"
	"net/http"

	"github.com/indura/sessionkit/guard"
)

// SubjectSource derives the guard subject for a request.
type SubjectSource func(*http.Request) guard.Subject

type decisionContextKey struct{}

// DecisionFromContext returns the render decision Guard attached to the request.
func DecisionFromContext(ctx context.Context) (guard.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(guard.Decision)
	return d, ok
}

// Guard renders next when the table allows the request path and redirects otherwise.
// A nil table or source rejects every request.
func Guard(table *guard.Table, source SubjectSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if table == nil || source == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			d := table.Decide(source(r), r.URL.Path)
			if d.Action == guard.ActionRedirect {
				http.Redirect(w, r, d.Target, http.StatusSeeOther)
				return
			}

			ctx := context.WithValue(r.Context(), decisionContextKey{}, d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectProvider is satisfied by *sessionkit.Controller.
type SubjectProvider interface {
	Subject() guard.Subject
}

// ControllerSubject returns a source that ignores the request and reports p's
// current subject.
func ControllerSubject(p SubjectProvider) SubjectSource {
	return func(*http.Request) guard.Subject {
		if p == nil {
			return guard.Subject{}
		}
		return p.Subject()
	}
}
