package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedResponse is returned when a success response body cannot be decoded.
var ErrMalformedResponse = errors.New("malformed auth api response")

const (
	signInPath         = "/auth/signin"
	changePasswordPath = "/auth/change-password"
	maxResponseBytes   = 1 << 20
	defaultTimeout     = 15 * time.Second
	defaultUserAgent   = "sessionkit"
	requestIDHeader    = "X-Request-ID"
)

// SignInResponse is the decoded sign-in success body. User is kept raw; a missing
// token or user is reported by the caller, not here.
type SignInResponse struct {
	Token                  string          `json:"token"`
	User                   json.RawMessage `json:"user"`
	RequiresPasswordChange bool            `json:"requiresPasswordChange"`
}

// ChangePasswordResponse is the decoded change-password success body.
type ChangePasswordResponse struct {
	Message string `json:"message,omitempty"`
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
	Errors     json.RawMessage
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("auth api: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("auth api: status %d", e.StatusCode)
}

// Config configures a [Client].
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
}

// Client talks to the remote auth API. It is safe for concurrent use.
type Client struct {
	base      string
	userAgent string
	http      *http.Client
}

// New creates a [Client].
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("authapi: base url required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{base: base, userAgent: ua, http: hc}, nil
}

// SignIn calls POST /auth/signin.
func (c *Client) SignIn(ctx context.Context, email, password string) (SignInResponse, error) {
	var out SignInResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.post(ctx, signInPath, "", body, &out); err != nil {
		return SignInResponse{}, err
	}
	return out, nil
}

// ChangePassword calls POST /auth/change-password with the bearer token.
func (c *Client) ChangePassword(ctx context.Context, token, oldPassword, newPassword string) (ChangePasswordResponse, error) {
	var out ChangePasswordResponse
	body := map[string]string{"oldPassword": oldPassword, "newPassword": newPassword}
	if err := c.post(ctx, changePasswordPath, token, body, &out); err != nil {
		return ChangePasswordResponse{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path, token string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(requestIDHeader, requestIDFromContext(ctx))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func statusError(code int, body []byte) *StatusError {
	se := &StatusError{StatusCode: code}
	var parsed struct {
		Message string          `json:"message"`
		Errors  json.RawMessage `json:"errors"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		se.Message = parsed.Message
		se.Errors = parsed.Errors
	}
	return se
}

type requestIDContextKey struct{}

// WithRequestID attaches the X-Request-ID sent with requests made under ctx. Without
// one, each request gets a fresh uuid.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx != nil {
		if id, _ := ctx.Value(requestIDContextKey{}).(string); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
