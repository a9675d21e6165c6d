package middleware

import (
	"context"
	"net/http"

	"github.com/indura/sessionkit/inactivity"
)

// ActivityRecorder is satisfied by *inactivity.Monitor.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, kind inactivity.EventKind)
}

// TrackActivity records every request as [inactivity.Request] activity before
// calling next. Throttling is the recorder's concern.
func TrackActivity(rec ActivityRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rec != nil {
				rec.RecordActivity(r.Context(), inactivity.Request)
			}
			next.ServeHTTP(w, r)
		})
	}
}
