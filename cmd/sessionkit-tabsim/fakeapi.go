package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/indura/sessionkit/jwt"
)

// fakeAPI answers the two auth endpoints with freshly minted tokens.
type fakeAPI struct {
	srv    *httptest.Server
	key    []byte
	issued atomic.Int64
}

func newFakeAPI() *fakeAPI {
	a := &fakeAPI{key: []byte("tabsim-signing-key-0123456789abcdef")}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/signin", a.signIn)
	mux.HandleFunc("POST /auth/change-password", a.changePassword)
	a.srv = httptest.NewServer(mux)
	return a
}

func (a *fakeAPI) URL() string { return a.srv.URL }

func (a *fakeAPI) Close() { a.srv.Close() }

func (a *fakeAPI) signIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "email and password are required"})
		return
	}

	role := "provider"
	if strings.HasPrefix(body.Email, "admin") {
		role = "admin"
	}
	n := a.issued.Add(1)
	claims := jwt.Claims{Email: body.Email, Role: role}
	claims.Subject = body.Email
	claims.IssuedAt = gojwt.NewNumericDate(time.Now())
	claims.ExpiresAt = gojwt.NewNumericDate(time.Now().Add(time.Hour))
	claims.ID = strconv.FormatInt(n, 10)
	token, err := jwt.Mint(claims, a.key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]any{
			"id":    body.Email,
			"email": body.Email,
			"role":  role,
		},
	})
}

func (a *fakeAPI) changePassword(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
