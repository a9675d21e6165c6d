package session

import "encoding/json"

// User is the signed-in user record. Fields other than id, email and role are kept
// verbatim in Extra and written back unchanged.
type User struct {
	ID    string
	Email string
	Role  string
	Extra map[string]json.RawMessage
}

// Clone returns a deep copy of u.
func (u User) Clone() User {
	out := u
	if u.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(u.Extra))
		for k, v := range u.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// Session is a read of the persisted session keys.
type Session struct {
	Token                  string
	User                   *User
	RequiresPasswordChange bool
}

// IsAuthenticated reports whether both a token and a decodable user are present.
func (s Session) IsAuthenticated() bool {
	return s.Token != "" && s.User != nil
}
