package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUserMissing is returned by [DecodeUser] for an empty payload.
var ErrUserMissing = errors.New("user record missing")

// ErrUserCorrupt is returned by [DecodeUser] when the payload is not a user object
// or carries no id.
var ErrUserCorrupt = errors.New("user record corrupt")

var knownUserFields = [...]string{"id", "email", "role"}

// DecodeUser is the single deserialization path for user records, both from storage
// and from sign-in responses. It never panics; callers treat any error as "no user".
func DecodeUser(raw []byte) (User, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return User{}, ErrUserMissing
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrUserCorrupt, err)
	}
	if fields == nil {
		return User{}, fmt.Errorf("%w: not an object", ErrUserCorrupt)
	}

	var u User
	targets := [...]*string{&u.ID, &u.Email, &u.Role}
	for i, name := range knownUserFields {
		v, ok := fields[name]
		if !ok {
			continue
		}
		delete(fields, name)
		if string(v) == "null" {
			continue
		}
		if err := json.Unmarshal(v, targets[i]); err != nil {
			return User{}, fmt.Errorf("%w: field %s: %v", ErrUserCorrupt, name, err)
		}
	}
	if u.ID == "" {
		return User{}, fmt.Errorf("%w: missing id", ErrUserCorrupt)
	}
	if len(fields) > 0 {
		u.Extra = fields
	}
	return u, nil
}

// EncodeUser serializes u with its passthrough fields. Known fields win over
// same-named entries in Extra.
func EncodeUser(u User) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(u.Extra)+len(knownUserFields))
	for k, v := range u.Extra {
		out[k] = v
	}
	values := [...]string{u.ID, u.Email, u.Role}
	for i, name := range knownUserFields {
		encoded, err := json.Marshal(values[i])
		if err != nil {
			return nil, err
		}
		out[name] = encoded
	}
	return json.Marshal(out)
}

// MarshalJSON implements json.Marshaler.
func (u User) MarshalJSON() ([]byte, error) {
	return EncodeUser(u)
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *User) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeUser(data)
	if err != nil {
		return err
	}
	*u = decoded
	return nil
}
