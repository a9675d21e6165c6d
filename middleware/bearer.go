package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/indura/sessionkit/guard"
	"github.com/indura/sessionkit/jwt"
)

// BearerSubject reads the subject from the role and requiresPasswordChange claims of
// the request's bearer JWT. Signatures are not checked; the auth API does that on every
// call that matters. Opaque, missing and expired tokens yield an anonymous subject.
func BearerSubject(now func() time.Time) SubjectSource {
	if now == nil {
		now = time.Now
	}
	return func(r *http.Request) guard.Subject {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok || jwt.Expired(token, now(), 0) {
			return guard.Subject{}
		}
		claims, err := jwt.Peek(token)
		if err != nil {
			return guard.Subject{}
		}
		return guard.Subject{
			Authenticated:          true,
			Role:                   claims.Role,
			RequiresPasswordChange: claims.RequiresPasswordChange,
		}
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
